package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/meno-tutor/meno-go-realtime/meno-ws/chatdao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/connectiondao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/sessiondao"
	"github.com/tj/assert"
)

var now = time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

func TestConnections(t *testing.T) {
	ctx := context.Background()
	store := NewConnections()

	assert.Nil(t, store.Put(ctx, connectiondao.Connection{ConnectionID: "b", SessionID: "s1"}))
	assert.Nil(t, store.Put(ctx, connectiondao.Connection{ConnectionID: "a", SessionID: "s1"}))
	assert.Nil(t, store.Put(ctx, connectiondao.Connection{ConnectionID: "c", SessionID: "s2"}))

	conns, err := store.ListBySession(ctx, "s1")
	assert.Nil(t, err)
	assert.Len(t, conns, 2)
	assert.Equal(t, "a", conns[0].ConnectionID)
	assert.Equal(t, "b", conns[1].ConnectionID)

	conns, err = store.ListBySession(ctx, "")
	assert.Nil(t, err)
	assert.Len(t, conns, 0)

	assert.Nil(t, store.Delete(ctx, "a"))
	assert.Nil(t, store.Delete(ctx, "a"))

	got, err := store.Get(ctx, "a")
	assert.Nil(t, err)
	assert.True(t, got == nil)
}

func TestPresence(t *testing.T) {
	ctx := context.Background()
	store := NewPresence()

	name, first, second := "Ada", "#B47538", "#3A6B9C"
	_, err := store.Update(ctx, "s1", "p1", presencedao.Attributes{
		Name:      &name,
		Color:     &first,
		LastSeen:  now,
		ExpiresAt: now.Add(time.Minute),
	})
	assert.Nil(t, err)

	typing := true
	record, err := store.Update(ctx, "s1", "p1", presencedao.Attributes{
		Color:     &second,
		IsTyping:  &typing,
		LastSeen:  now,
		ExpiresAt: now.Add(time.Minute),
	})
	assert.Nil(t, err)
	assert.Equal(t, "Ada", record.Name)
	assert.Equal(t, first, record.Color)
	assert.True(t, record.IsTyping)

	_, err = store.Update(ctx, "s1", "p2", presencedao.Attributes{
		LastSeen:  now.Add(-time.Hour),
		ExpiresAt: now.Add(-time.Minute),
	})
	assert.Nil(t, err)

	records, err := store.List(ctx, "s1")
	assert.Nil(t, err)
	assert.Len(t, records, 2)

	reaped := store.Reap(now)
	assert.Len(t, reaped, 1)
	assert.Equal(t, "p2", reaped[0].ParticipantID)

	records, err = store.List(ctx, "s1")
	assert.Nil(t, err)
	assert.Len(t, records, 1)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	store := NewSessions()

	assert.Nil(t, store.Create(ctx, sessiondao.Session{SessionID: "s1", Code: "ABCD"}))
	assert.Equal(t, sessiondao.ErrCodeTaken, store.Create(ctx, sessiondao.Session{SessionID: "s2", Code: "ABCD"}))

	t.Run("participants", func(t *testing.T) {
		assert.Nil(t, store.AddParticipant(ctx, "s1", sessiondao.Participant{ParticipantID: "p1"}, 1))
		assert.Nil(t, store.AddParticipant(ctx, "s1", sessiondao.Participant{ParticipantID: "p1"}, 1))
		assert.Equal(t, sessiondao.ErrFull, store.AddParticipant(ctx, "s1", sessiondao.Participant{ParticipantID: "p2"}, 1))
		assert.Equal(t, sessiondao.ErrNotFound, store.AddParticipant(ctx, "missing", sessiondao.Participant{ParticipantID: "p1"}, 1))
	})

	t.Run("exclusive lease", func(t *testing.T) {
		held := sessiondao.Lease{LeaseID: "l1", LeaseTo: "p1", LeaseExpiresAt: now.Add(time.Minute).UnixMilli()}
		assert.Nil(t, store.PutLease(ctx, "s1", held, true, now))

		other := sessiondao.Lease{LeaseID: "l2", LeaseTo: "p2", LeaseExpiresAt: now.Add(time.Minute).UnixMilli()}
		assert.Equal(t, sessiondao.ErrLeaseHeld, store.PutLease(ctx, "s1", other, true, now))
		assert.Nil(t, store.PutLease(ctx, "s1", other, true, now.Add(2*time.Minute)))
		assert.Nil(t, store.PutLease(ctx, "s1", held, false, now))

		session, err := store.FindByCode(ctx, "ABCD")
		assert.Nil(t, err)
		assert.Equal(t, "l1", session.ActiveLine.LeaseID)

		// copies are detached from the store
		session.ActiveLine.LeaseID = "mutated"
		session, err = store.Get(ctx, "s1")
		assert.Nil(t, err)
		assert.Equal(t, "l1", session.ActiveLine.LeaseID)

		assert.Nil(t, store.ClearLease(ctx, "s1"))
		session, err = store.Get(ctx, "s1")
		assert.Nil(t, err)
		assert.True(t, session.ActiveLine == nil)
	})
}

func TestChat(t *testing.T) {
	ctx := context.Background()
	store := NewChat()

	for _, id := range []string{"m3", "m1", "m2"} {
		assert.Nil(t, store.Put(ctx, chatdao.Message{
			SessionID: "s1",
			MessageID: id,
			CreatedAt: "2026-03-04T15:30:0" + id[1:] + "Z",
		}))
	}
	assert.Nil(t, store.Put(ctx, chatdao.Message{SessionID: "s1", MessageID: "m2", CreatedAt: "2026-03-04T15:30:02Z", Content: "edited"}))

	messages, err := store.List(ctx, "s1", 2)
	assert.Nil(t, err)
	assert.Len(t, messages, 2)
	assert.Equal(t, "m2", messages[0].MessageID)
	assert.Equal(t, "edited", messages[0].Content)
	assert.Equal(t, "m3", messages[1].MessageID)

	messages, err = store.List(ctx, "s1", 0)
	assert.Nil(t, err)
	assert.Len(t, messages, 3)
}
