package realtime

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/openshelf/library/internal/metrics"
)

type envelope struct {
	// room is empty for a broadcast to every connected session.
	room string
	data []byte
}

// Hub routes events to subscriber rooms. All session bookkeeping
// happens on the Run goroutine; the exported methods only push onto
// channels, so they are safe to call from any goroutine.
type Hub struct {
	logger *zap.Logger

	register   chan *Session
	unregister chan *Session
	messages   chan envelope

	sessions map[*Session]struct{}
	rooms    map[string]map[*Session]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *Session),
		unregister: make(chan *Session),
		messages:   make(chan envelope, 64),
		sessions:   make(map[*Session]struct{}),
		rooms:      make(map[string]map[*Session]struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	for {
		select {
		case s := <-h.register:
			h.add(s)
		case s := <-h.unregister:
			h.remove(s)
		case msg := <-h.messages:
			h.deliver(msg)
		case <-ctx.Done():
			for s := range h.sessions {
				h.remove(s)
			}
			h.logger.Info("realtime hub stopped")
			return
		}
	}
}

func (h *Hub) add(s *Session) {
	h.sessions[s] = struct{}{}
	for _, room := range s.rooms {
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[*Session]struct{})
			h.rooms[room] = members
		}
		members[s] = struct{}{}
	}
	metrics.RealtimeSessions.Inc()
	h.logger.Debug("session joined", zap.String("user_id", s.userID), zap.Strings("rooms", s.rooms))
}

func (h *Hub) remove(s *Session) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	for _, room := range s.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, s)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	close(s.send)
	metrics.RealtimeSessions.Dec()
	h.logger.Debug("session left", zap.String("user_id", s.userID))
}

func (h *Hub) deliver(msg envelope) {
	targets := h.sessions
	if msg.room != "" {
		members, ok := h.rooms[msg.room]
		if !ok {
			return
		}
		targets = members
	}
	for s := range targets {
		select {
		case s.send <- msg.data:
		default:
			// Slow consumer: drop the session, it will resync on
			// reconnect.
			h.remove(s)
		}
	}
}

// Broadcast sends the event to every connected session.
func (h *Hub) Broadcast(ev Event) {
	h.emit("", ev)
}

// EmitToAdmins sends the event to the shared admin room.
func (h *Hub) EmitToAdmins(ev Event) {
	h.emit(RoomAdmins, ev)
}

// EmitToStudent sends the event to one student's room.
func (h *Hub) EmitToStudent(studentID string, ev Event) {
	h.emit(RoomStudent(studentID), ev)
}

func (h *Hub) emit(room string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal realtime event", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	select {
	case h.messages <- envelope{room: room, data: data}:
	default:
		// Emits are advisory; never block a state transition on a
		// saturated hub.
		h.logger.Warn("realtime hub saturated, dropping event", zap.String("event", ev.Name))
	}
}
