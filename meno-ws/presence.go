package menows

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
)

const (
	DefaultOnlineTTL       = 10 * time.Minute
	DefaultDisconnectedTTL = 2 * time.Minute
)

// Presence maintains per participant presence records. Records of active
// participants expire after OnlineTTL; disconnected participants expire after
// the much shorter DisconnectedTTL so a reconnect within that window keeps the
// same identity and color.
type Presence struct {
	Store           PresenceStore
	OnlineTTL       time.Duration
	DisconnectedTTL time.Duration
	Now             func() time.Time
	Intn            func(n int) int
}

func (p *Presence) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Presence) ttl(status string) time.Duration {
	if status == StatusDisconnected {
		if p.DisconnectedTTL > 0 {
			return p.DisconnectedTTL
		}
		return DefaultDisconnectedTTL
	}
	if p.OnlineTTL > 0 {
		return p.OnlineTTL
	}
	return DefaultOnlineTTL
}

// Upsert merges attrs into the participant's record. Only the supplied
// attributes change; last seen and expiry are always refreshed, with the
// expiry window chosen by the resulting status, so a heartbeat keeps a
// disconnected record on the short window. A participant without a color is
// assigned one.
func (p *Presence) Upsert(ctx context.Context, sessionID, participantID string, attrs presencedao.Attributes) (presencedao.Record, error) {
	now := p.now()

	records, err := p.Store.List(ctx, sessionID)
	if err != nil {
		return presencedao.Record{}, fmt.Errorf("failed to read presence for session %v: %w", sessionID, err)
	}
	if color, ok := p.pickColor(records, participantID, now); ok {
		attrs.Color = &color
	}

	status := currentStatus(records, participantID)
	if attrs.Status != nil {
		status = *attrs.Status
	}

	attrs.LastSeen = now
	attrs.ExpiresAt = now.Add(p.ttl(status))

	record, err := p.Store.Update(ctx, sessionID, participantID, attrs)
	if err != nil {
		return presencedao.Record{}, err
	}
	return record, nil
}

func currentStatus(records []presencedao.Record, participantID string) string {
	for _, r := range records {
		if r.ParticipantID == participantID {
			return r.Status
		}
	}
	return ""
}

// pickColor returns the first palette color unused by any live participant of
// the session, or a random one once all are taken. ok is false when the
// participant already has a color.
func (p *Presence) pickColor(records []presencedao.Record, participantID string, now time.Time) (string, bool) {
	used := map[string]bool{}
	for _, r := range records {
		if r.ParticipantID == participantID {
			if r.Color != "" {
				return "", false
			}
			continue
		}
		if r.Color != "" && !r.Expired(now) {
			used[r.Color] = true
		}
	}

	for _, color := range Palette {
		if !used[color] {
			return color, true
		}
	}

	intn := p.Intn
	if intn == nil {
		intn = rand.Intn
	}
	return Palette[intn(len(Palette))], true
}

func (p *Presence) MarkOnline(ctx context.Context, sessionID, participantID, name, role string) (presencedao.Record, error) {
	return p.Apply(ctx, sessionID, participantID, name, role, PresenceUpdate{Kind: PresenceJoin})
}

func (p *Presence) MarkDisconnected(ctx context.Context, sessionID, participantID string) (presencedao.Record, error) {
	return p.Upsert(ctx, sessionID, participantID, presencedao.Attributes{
		Status:     ptr(StatusDisconnected),
		IsTyping:   ptr(false),
		IsSpeaking: ptr(false),
	})
}

// Heartbeat refreshes last seen and expiry only.
func (p *Presence) Heartbeat(ctx context.Context, sessionID, participantID string) (presencedao.Record, error) {
	return p.Upsert(ctx, sessionID, participantID, presencedao.Attributes{})
}

// Apply performs a presence.update on behalf of the participant. A join
// restores name and role from the connection and clears activity flags.
func (p *Presence) Apply(ctx context.Context, sessionID, participantID, name, role string, update PresenceUpdate) (presencedao.Record, error) {
	var attrs presencedao.Attributes
	switch update.Kind {
	case PresenceJoin:
		attrs = presencedao.Attributes{
			Name:       &name,
			Role:       &role,
			Status:     ptr(StatusOnline),
			IsTyping:   ptr(false),
			IsSpeaking: ptr(false),
		}
	case PresenceTyping:
		attrs = presencedao.Attributes{
			IsTyping: ptr(update.Active),
			Status:   ptr(statusFor(update.Active, StatusTyping)),
		}
	case PresenceSpeaking:
		attrs = presencedao.Attributes{
			IsSpeaking: ptr(update.Active),
			Status:     ptr(statusFor(update.Active, StatusSpeaking)),
		}
	case PresenceMuted:
		attrs = presencedao.Attributes{
			Muted:  ptr(update.Active),
			Status: ptr(statusFor(update.Active, StatusMuted)),
		}
	default:
		return presencedao.Record{}, clientErrorf("unsupported presence event %q", update.Kind)
	}
	attrs.Extra = update.Extra
	return p.Upsert(ctx, sessionID, participantID, attrs)
}

// List returns the live presence records of the session ordered by
// participant id. Expired rows the store has not reaped yet are dropped.
func (p *Presence) List(ctx context.Context, sessionID string) ([]presencedao.Record, error) {
	records, err := p.Store.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence for session %v: %w", sessionID, err)
	}

	now := p.now()
	live := make([]presencedao.Record, 0, len(records))
	for _, r := range records {
		if !r.Expired(now) {
			live = append(live, r)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ParticipantID < live[j].ParticipantID })
	return live, nil
}

// TypingSummary describes how many of records are typing, along with their
// participant ids.
func TypingSummary(records []presencedao.Record) (string, []string) {
	ids := []string{}
	for _, r := range records {
		if r.IsTyping {
			ids = append(ids, r.ParticipantID)
		}
	}
	switch len(ids) {
	case 0:
		return TypingNone, ids
	case 1:
		return TypingSingle, ids
	default:
		return TypingMultiple, ids
	}
}

func statusFor(active bool, status string) string {
	if active {
		return status
	}
	return StatusOnline
}

func ptr[T any](v T) *T {
	return &v
}
