package menows

import (
	"context"
	"testing"
	"time"

	"github.com/meno-tutor/meno-go-realtime/meno-ws/memstore"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/sessiondao"
	"github.com/tj/assert"
)

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ABCD", NormalizeCode(" ab-cd "))
	assert.Equal(t, "K2P9", NormalizeCode("k2p9"))
	assert.Equal(t, "", NormalizeCode("--"))
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 4, 15, 30, 0, 0, time.UTC)

	newRegistry := func() (*Registry, *time.Time) {
		clock := now
		return &Registry{
			Sessions: memstore.NewSessions(),
			Now:      func() time.Time { return clock },
		}, &clock
	}

	t.Run("create", func(t *testing.T) {
		r, _ := newRegistry()

		summary, err := r.Create(ctx, "Meno's square", "easy", NewParticipant{ID: "p1", Name: "Socrates", Role: "teacher"})
		assert.Nil(t, err)
		assert.NotZero(t, summary.SessionID)
		assert.Len(t, summary.Code, 4)
		for _, c := range summary.Code {
			assert.Contains(t, CodeAlphabet, string(c))
		}
		assert.Equal(t, DefaultMaxParticipants, summary.MaxParticipants)
		assert.Equal(t, now.Add(DefaultSessionTTL).Unix(), summary.ExpiresAt)
		assert.Len(t, summary.Participants, 1)
		assert.Equal(t, RoleTeacher, summary.Participants[0].Role)
	})

	t.Run("create requires a participant", func(t *testing.T) {
		r, _ := newRegistry()
		_, err := r.Create(ctx, "", "", NewParticipant{ID: "p1"})
		assert.True(t, IsClientError(err))
	})

	t.Run("code collisions grow the code", func(t *testing.T) {
		r, _ := newRegistry()
		r.Intn = func(int) int { return 0 }

		first, err := r.Create(ctx, "", "", NewParticipant{ID: "p1", Name: "Ada"})
		assert.Nil(t, err)
		assert.Equal(t, "AAAA", first.Code)

		second, err := r.Create(ctx, "", "", NewParticipant{ID: "p2", Name: "Bo"})
		assert.Nil(t, err)
		assert.Equal(t, "AAAAA", second.Code)
	})

	t.Run("join by code", func(t *testing.T) {
		r, _ := newRegistry()
		created, err := r.Create(ctx, "", "", NewParticipant{ID: "p1", Name: "Ada"})
		assert.Nil(t, err)

		joined, err := r.Join(ctx, "", " "+created.Code[:2]+"-"+created.Code[2:]+" ", NewParticipant{ID: "p2", Name: "Bo"})
		assert.Nil(t, err)
		assert.Equal(t, created.SessionID, joined.SessionID)
		assert.Len(t, joined.Participants, 2)
	})

	t.Run("join errors", func(t *testing.T) {
		r, clock := newRegistry()
		created, err := r.Create(ctx, "", "", NewParticipant{ID: "p1", Name: "Ada"})
		assert.Nil(t, err)

		_, err = r.Join(ctx, "", "", NewParticipant{ID: "p2", Name: "Bo"})
		assert.True(t, IsClientError(err))

		_, err = r.Join(ctx, "missing", "", NewParticipant{ID: "p2", Name: "Bo"})
		assert.Equal(t, ErrSessionNotFound, err)

		for _, id := range []string{"p2", "p3", "p4"} {
			_, err = r.Join(ctx, created.SessionID, "", NewParticipant{ID: id, Name: id})
			assert.Nil(t, err)
		}
		_, err = r.Join(ctx, created.SessionID, "", NewParticipant{ID: "p5", Name: "Late"})
		assert.Equal(t, ErrSessionFull, err)

		// members may rejoin a full session
		_, err = r.Join(ctx, created.SessionID, "", NewParticipant{ID: "p3", Name: "p3"})
		assert.Nil(t, err)

		*clock = now.Add(7 * time.Hour)
		_, err = r.Join(ctx, created.SessionID, "", NewParticipant{ID: "p2", Name: "Bo"})
		assert.Equal(t, ErrSessionExpired, err)
	})

	t.Run("get", func(t *testing.T) {
		r, _ := newRegistry()
		assert.Nil(t, r.Sessions.Create(ctx, sessiondao.Session{
			SessionID: "s1",
			Code:      "ABCD",
			Participants: map[string]sessiondao.Participant{
				"b": {ParticipantID: "b", JoinedAt: "2026-03-04T15:31:00Z"},
				"a": {ParticipantID: "a", JoinedAt: "2026-03-04T15:30:00Z"},
			},
		}))

		summary, err := r.Get(ctx, "s1")
		assert.Nil(t, err)
		assert.Equal(t, "a", summary.Participants[0].ParticipantID)

		_, err = r.Get(ctx, "missing")
		assert.Equal(t, ErrSessionNotFound, err)
	})
}
