package menows

import (
	"context"
	"testing"
	"time"

	"github.com/meno-tutor/meno-go-realtime/meno-ws/memstore"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
	"github.com/tj/assert"
)

func TestPresence(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 4, 15, 30, 0, 0, time.UTC)

	newPresence := func() *Presence {
		return &Presence{
			Store: memstore.NewPresence(),
			Now:   func() time.Time { return now },
			Intn:  func(int) int { return 3 },
		}
	}

	t.Run("partial updates merge", func(t *testing.T) {
		p := newPresence()

		_, err := p.MarkOnline(ctx, "s1", "p1", "Ada", RoleStudent)
		assert.Nil(t, err)
		_, err = p.Apply(ctx, "s1", "p1", "", "", PresenceUpdate{Kind: PresenceTyping, Active: true})
		assert.Nil(t, err)
		record, err := p.Apply(ctx, "s1", "p1", "", "", PresenceUpdate{Kind: PresenceSpeaking, Active: true})
		assert.Nil(t, err)

		assert.Equal(t, "Ada", record.Name)
		assert.Equal(t, RoleStudent, record.Role)
		assert.True(t, record.IsTyping)
		assert.True(t, record.IsSpeaking)
		assert.Equal(t, StatusSpeaking, record.Status)

		record, err = p.Apply(ctx, "s1", "p1", "", "", PresenceUpdate{Kind: PresenceTyping, Active: false})
		assert.Nil(t, err)
		assert.False(t, record.IsTyping)
		assert.True(t, record.IsSpeaking)
		assert.Equal(t, StatusOnline, record.Status)
	})

	t.Run("colors", func(t *testing.T) {
		p := newPresence()

		a, err := p.MarkOnline(ctx, "s1", "p1", "Ada", RoleStudent)
		assert.Nil(t, err)
		b, err := p.MarkOnline(ctx, "s1", "p2", "Bo", RoleTeacher)
		assert.Nil(t, err)
		assert.Equal(t, Palette[0], a.Color)
		assert.Equal(t, Palette[1], b.Color)

		// a returning participant keeps its color
		a, err = p.MarkOnline(ctx, "s1", "p1", "Ada", RoleStudent)
		assert.Nil(t, err)
		assert.Equal(t, Palette[0], a.Color)

		// other sessions do not count
		c, err := p.MarkOnline(ctx, "s2", "p3", "Cy", RoleStudent)
		assert.Nil(t, err)
		assert.Equal(t, Palette[0], c.Color)
	})

	t.Run("colors exhausted", func(t *testing.T) {
		p := newPresence()
		for i := range Palette {
			_, err := p.MarkOnline(ctx, "s1", string(rune('a'+i)), "n", RoleStudent)
			assert.Nil(t, err)
		}
		record, err := p.MarkOnline(ctx, "s1", "late", "n", RoleStudent)
		assert.Nil(t, err)
		assert.Equal(t, Palette[3], record.Color)
	})

	t.Run("disconnected expires sooner", func(t *testing.T) {
		p := newPresence()

		online, err := p.MarkOnline(ctx, "s1", "p1", "Ada", RoleStudent)
		assert.Nil(t, err)
		assert.Equal(t, now.Add(DefaultOnlineTTL).Unix(), online.ExpiresAt)

		gone, err := p.MarkDisconnected(ctx, "s1", "p1")
		assert.Nil(t, err)
		assert.Equal(t, StatusDisconnected, gone.Status)
		assert.Equal(t, now.Add(DefaultDisconnectedTTL).Unix(), gone.ExpiresAt)
		assert.True(t, gone.ExpiresAt < online.ExpiresAt)
	})

	t.Run("list drops expired", func(t *testing.T) {
		store := memstore.NewPresence()
		clock := now
		p := &Presence{Store: store, Now: func() time.Time { return clock }}

		_, err := p.MarkOnline(ctx, "s1", "p2", "Bo", RoleStudent)
		assert.Nil(t, err)
		_, err = p.MarkOnline(ctx, "s1", "p1", "Ada", RoleStudent)
		assert.Nil(t, err)
		_, err = p.MarkDisconnected(ctx, "s1", "p2")
		assert.Nil(t, err)

		records, err := p.List(ctx, "s1")
		assert.Nil(t, err)
		assert.Len(t, records, 2)
		assert.Equal(t, "p1", records[0].ParticipantID)

		clock = now.Add(5 * time.Minute)
		records, err = p.List(ctx, "s1")
		assert.Nil(t, err)
		assert.Len(t, records, 1)
		assert.Equal(t, "p1", records[0].ParticipantID)
	})

	t.Run("heartbeat refreshes expiry", func(t *testing.T) {
		clock := now
		p := &Presence{Store: memstore.NewPresence(), Now: func() time.Time { return clock }}

		_, err := p.MarkOnline(ctx, "s1", "p1", "Ada", RoleStudent)
		assert.Nil(t, err)

		clock = now.Add(time.Minute)
		record, err := p.Heartbeat(ctx, "s1", "p1")
		assert.Nil(t, err)
		assert.Equal(t, clock.Add(DefaultOnlineTTL).Unix(), record.ExpiresAt)
		assert.Equal(t, "Ada", record.Name)
	})

	t.Run("heartbeat keeps disconnected window", func(t *testing.T) {
		clock := now
		p := &Presence{Store: memstore.NewPresence(), Now: func() time.Time { return clock }}

		_, err := p.MarkOnline(ctx, "s1", "p1", "Ada", RoleStudent)
		assert.Nil(t, err)
		_, err = p.MarkDisconnected(ctx, "s1", "p1")
		assert.Nil(t, err)

		clock = now.Add(30 * time.Second)
		record, err := p.Heartbeat(ctx, "s1", "p1")
		assert.Nil(t, err)
		assert.Equal(t, StatusDisconnected, record.Status)
		assert.Equal(t, clock.Add(DefaultDisconnectedTTL).Unix(), record.ExpiresAt)

		// a rejoin restores the active window
		record, err = p.MarkOnline(ctx, "s1", "p1", "Ada", RoleStudent)
		assert.Nil(t, err)
		assert.Equal(t, clock.Add(DefaultOnlineTTL).Unix(), record.ExpiresAt)
	})

	t.Run("unsupported kind", func(t *testing.T) {
		_, err := newPresence().Apply(ctx, "s1", "p1", "", "", PresenceUpdate{Kind: "dancing"})
		assert.True(t, IsClientError(err))
	})
}

func TestTypingSummary(t *testing.T) {
	summary, ids := TypingSummary(nil)
	assert.Equal(t, TypingNone, summary)
	assert.Equal(t, []string{}, ids)

	summary, ids = TypingSummary([]presencedao.Record{
		{ParticipantID: "p1", IsTyping: true},
		{ParticipantID: "p2"},
	})
	assert.Equal(t, TypingSingle, summary)
	assert.Equal(t, []string{"p1"}, ids)

	summary, ids = TypingSummary([]presencedao.Record{
		{ParticipantID: "p1", IsTyping: true},
		{ParticipantID: "p2", IsTyping: true},
	})
	assert.Equal(t, TypingMultiple, summary)
	assert.Equal(t, []string{"p1", "p2"}, ids)
}
