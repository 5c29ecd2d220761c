package menows

import (
	"context"
	"fmt"
	"time"

	"github.com/meno-tutor/meno-go-realtime/meno-ws/chatdao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/sessiondao"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChatLimit = 200
	MaxChatLimit     = 500
)

type ChatSnapshot struct {
	Messages []chatdao.Message `json:"messages"`
	Count    int               `json:"count"`
}

type PresenceSnapshot struct {
	Participants  []presencedao.Record `json:"participants"`
	Count         int                  `json:"count"`
	TypingSummary string               `json:"typingSummary"`
	TypingIDs     []string             `json:"typingIds"`
}

// Snapshot is the state a client needs to join or rejoin a session.
type Snapshot struct {
	SessionID  string            `json:"sessionId"`
	Chat       ChatSnapshot      `json:"chat"`
	Presence   PresenceSnapshot  `json:"presence"`
	ActiveLine *sessiondao.Lease `json:"activeLine"`
}

// Hydrator assembles session snapshots.
type Hydrator struct {
	Sessions SessionStore
	Chat     ChatStore
	Presence *Presence
	Now      func() time.Time
}

// ClampChatLimit applies the default and the cap to a requested chat limit.
func ClampChatLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultChatLimit
	case limit > MaxChatLimit:
		return MaxChatLimit
	default:
		return limit
	}
}

// Hydrate reads the session, its recent chat and its live presence
// concurrently. ErrSessionNotFound is returned when the session does not
// exist; a session without messages or participants is a valid snapshot.
func (h *Hydrator) Hydrate(ctx context.Context, sessionID string, chatLimit int) (*Snapshot, error) {
	var (
		session  *sessiondao.Session
		messages []chatdao.Message
		records  []presencedao.Record
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		session, err = h.Sessions.Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to read session %v: %w", sessionID, err)
		}
		return nil
	})
	group.Go(func() (err error) {
		messages, err = h.Chat.List(ctx, sessionID, ClampChatLimit(chatLimit))
		if err != nil {
			return fmt.Errorf("failed to read chat for session %v: %w", sessionID, err)
		}
		return nil
	})
	group.Go(func() (err error) {
		records, err = h.Presence.List(ctx, sessionID)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if session == nil {
		return nil, ErrSessionNotFound
	}

	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}

	if messages == nil {
		messages = []chatdao.Message{}
	}
	if records == nil {
		records = []presencedao.Record{}
	}
	summary, typingIDs := TypingSummary(records)

	return &Snapshot{
		SessionID: sessionID,
		Chat: ChatSnapshot{
			Messages: messages,
			Count:    len(messages),
		},
		Presence: PresenceSnapshot{
			Participants:  records,
			Count:         len(records),
			TypingSummary: summary,
			TypingIDs:     typingIDs,
		},
		ActiveLine: liveLease(session.ActiveLine, now),
	}, nil
}
