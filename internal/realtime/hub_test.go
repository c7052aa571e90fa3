package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openshelf/library/internal/repository"
)

// newTestSession registers a connection-less session; the hub only
// touches the send channel, never the conn.
func newTestSession(hub *Hub, userID string, role repository.Role) *Session {
	rooms := []string{RoomStudent(userID)}
	if role == repository.RoleAdmin {
		rooms = append(rooms, RoomAdmins)
	}
	s := &Session{
		hub:    hub,
		send:   make(chan []byte, 16),
		userID: userID,
		rooms:  rooms,
	}
	hub.register <- s
	return s
}

func recv(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case data, ok := <-s.send:
		require.True(t, ok, "send channel closed")
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertSilent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case data := <-s.send:
		t.Fatalf("unexpected event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRoomRouting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	admin := newTestSession(hub, "admin-1", repository.RoleAdmin)
	student := newTestSession(hub, "student-1", repository.RoleStudent)

	t.Run("admin room", func(t *testing.T) {
		hub.EmitToAdmins(Event{Name: EventRequestCreated, Data: map[string]interface{}{"message": "new request"}})
		ev := recv(t, admin)
		assert.Equal(t, EventRequestCreated, ev.Name)
		assertSilent(t, student)
	})

	t.Run("student room", func(t *testing.T) {
		hub.EmitToStudent("student-1", Event{Name: EventRequestStatusChanged})
		ev := recv(t, student)
		assert.Equal(t, EventRequestStatusChanged, ev.Name)
		assertSilent(t, admin)
	})

	t.Run("broadcast reaches everyone", func(t *testing.T) {
		hub.Broadcast(Event{Name: EventBookAdded})
		assert.Equal(t, EventBookAdded, recv(t, admin).Name)
		assert.Equal(t, EventBookAdded, recv(t, student).Name)
	})

	t.Run("unknown room goes nowhere", func(t *testing.T) {
		hub.EmitToStudent("nobody", Event{Name: EventBookUpdated})
		assertSilent(t, admin)
		assertSilent(t, student)
	})
}

func TestHubDropsSlowConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	slow := &Session{
		hub:    hub,
		send:   make(chan []byte), // no buffer, nobody reading
		userID: "student-1",
		rooms:  []string{RoomStudent("student-1")},
	}
	hub.register <- slow

	hub.EmitToStudent("student-1", Event{Name: EventBookUpdated})

	// The hub closes the send channel when it drops the session.
	select {
	case _, ok := <-slow.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("slow session was not dropped")
	}
}

func TestHubShutdownClosesSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(zap.NewNop())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	s := newTestSession(hub, "student-1", repository.RoleStudent)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	_, ok := <-s.send
	assert.False(t, ok)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	s := newTestSession(hub, "student-1", repository.RoleStudent)
	hub.unregister <- s
	hub.unregister <- s

	// A later emit to the removed session's room must not panic.
	hub.EmitToStudent("student-1", Event{Name: EventBookUpdated})
	hub.Broadcast(Event{Name: EventBookAdded})
}
