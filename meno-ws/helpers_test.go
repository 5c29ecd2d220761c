package menows

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meno-tutor/meno-go-realtime/meno-ws/connectiondao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/memstore"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/sessiondao"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

var errTransient = errors.New("transient")

// recordingSender keeps every frame it is asked to deliver. Connections in
// gone report ErrGone; connections in failing report a transient error.
type recordingSender struct {
	mu      sync.Mutex
	frames  map[string][][]byte
	gone    map[string]bool
	failing map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		frames:  map[string][][]byte{},
		gone:    map[string]bool{},
		failing: map[string]bool{},
	}
}

func (r *recordingSender) Send(_ context.Context, conn connectiondao.Connection, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.gone[conn.ConnectionID]:
		return ErrGone
	case r.failing[conn.ConnectionID]:
		return errTransient
	}
	r.frames[conn.ConnectionID] = append(r.frames[conn.ConnectionID], data)
	return nil
}

func (r *recordingSender) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = map[string][][]byte{}
}

// events decodes the frames delivered to connectionID.
func (r *recordingSender) events(t *testing.T, connectionID string) []RawEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []RawEvent
	for _, frame := range r.frames[connectionID] {
		event, err := DecodeEvent(frame)
		assert.Nil(t, err)
		events = append(events, event)
	}
	return events
}

type fixture struct {
	now         time.Time
	connections *memstore.Connections
	presence    *memstore.Presence
	sessions    *memstore.Sessions
	chat        *memstore.Chat
	sender      *recordingSender
	coordinator *Coordinator
	hydrator    *Hydrator
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		now:         time.Date(2026, time.March, 4, 15, 30, 0, 0, time.UTC),
		connections: memstore.NewConnections(),
		presence:    memstore.NewPresence(),
		sessions:    memstore.NewSessions(),
		chat:        memstore.NewChat(),
		sender:      newRecordingSender(),
	}
	clock := func() time.Time { return f.now }

	presence := &Presence{Store: f.presence, Now: clock}
	f.coordinator = &Coordinator{
		Connections: f.connections,
		Presence:    presence,
		Leases:      &Leases{Sessions: f.sessions, Now: clock},
		Chat:        f.chat,
		Broadcaster: &Broadcaster{Connections: f.connections, Logger: zerolog.Nop()},
		Logger:      zerolog.Nop(),
		Now:         clock,
	}
	f.hydrator = &Hydrator{Sessions: f.sessions, Chat: f.chat, Presence: presence, Now: clock}

	err := f.sessions.Create(context.Background(), sessiondao.Session{
		SessionID:       "s1",
		Code:            "ABCD",
		CreatedAt:       f.now.Format(time.RFC3339),
		ExpiresAt:       f.now.Add(6 * time.Hour).Unix(),
		MaxParticipants: 4,
	})
	assert.Nil(t, err)
	return f
}

func (f *fixture) connect(t *testing.T, connectionID, participantID, name string) {
	err := f.coordinator.Connect(context.Background(), f.sender, connectionID, "", ConnectParams{
		SessionID:     "s1",
		ParticipantID: participantID,
		Name:          name,
		Role:          RoleStudent,
		Client:        ClientWeb,
	})
	assert.Nil(t, err)
}

func (f *fixture) dispatch(connectionID, body string) Ack {
	return f.coordinator.Dispatch(context.Background(), f.sender, connectionID, []byte(body))
}

func decodeData(t *testing.T, event RawEvent, v interface{}) {
	assert.Nil(t, json.Unmarshal(event.Data, v))
}
