package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openshelf/library/internal/repository"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The HTTP layer authenticates before upgrading; cross-origin
	// browser clients are expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Session is one connected websocket client. Rooms are assigned
// server-side from the authenticated principal: every session joins its
// own student room, admins additionally join the shared admin room.
type Session struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	rooms  []string
}

// ServeWS upgrades the request and registers the session with the hub.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, userID string, role repository.Role) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	rooms := []string{RoomStudent(userID)}
	if role == repository.RoleAdmin {
		rooms = append(rooms, RoomAdmins)
	}

	s := &Session{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 16),
		userID: userID,
		rooms:  rooms,
	}
	hub.register <- s

	go s.writePump()
	go s.readPump()
	return nil
}

// readPump drains the connection. Clients issue commands over HTTP, so
// inbound frames only keep the connection alive.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("websocket read error", zap.String("user_id", s.userID), zap.Error(err))
			}
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
