package menows

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/sessiondao"
)

const (
	CodeAlphabet           = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	DefaultMaxParticipants = 4
	DefaultSessionTTL      = 6 * time.Hour

	codeLength   = 4
	codeAttempts = 10
)

// SessionSummary is the public view of a session.
type SessionSummary struct {
	SessionID       string                   `json:"sessionId"`
	Code            string                   `json:"code"`
	Name            string                   `json:"name,omitempty"`
	Difficulty      string                   `json:"difficulty,omitempty"`
	Participants    []sessiondao.Participant `json:"participants"`
	MaxParticipants int                      `json:"maxParticipants"`
	ExpiresAt       int64                    `json:"expiresAt"`
}

func Summarize(session sessiondao.Session) SessionSummary {
	return SessionSummary{
		SessionID:       session.SessionID,
		Code:            session.Code,
		Name:            session.Name,
		Difficulty:      session.Difficulty,
		Participants:    session.ParticipantList(),
		MaxParticipants: session.MaxParticipants,
		ExpiresAt:       session.ExpiresAt,
	}
}

// NewParticipant identifies someone creating or joining a session.
type NewParticipant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

func (p NewParticipant) validate() (NewParticipant, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Role = strings.ToLower(strings.TrimSpace(p.Role))
	if p.ID == "" || p.Name == "" {
		return p, clientErrorf("participant id and name are required")
	}
	if p.Role == "" {
		p.Role = RoleStudent
	}
	if !validRole(p.Role) {
		return p, clientErrorf("invalid role %q", p.Role)
	}
	return p, nil
}

// Registry creates and joins sessions. Sessions are addressed by id or by a
// short human friendly code.
type Registry struct {
	Sessions        SessionStore
	MaxParticipants int
	SessionTTL      time.Duration
	Now             func() time.Time
	Intn            func(n int) int
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Registry) maxParticipants() int {
	if r.MaxParticipants > 0 {
		return r.MaxParticipants
	}
	return DefaultMaxParticipants
}

// NormalizeCode strips everything but letters and digits and upper cases the
// rest, so "ab-cd" finds session ABCD.
func NormalizeCode(code string) string {
	var b strings.Builder
	for _, c := range code {
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteRune(c - 'a' + 'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		}
	}
	return b.String()
}

func (r *Registry) generateCode(length int) string {
	intn := r.Intn
	if intn == nil {
		intn = rand.Intn
	}
	code := make([]byte, length)
	for i := range code {
		code[i] = CodeAlphabet[intn(len(CodeAlphabet))]
	}
	return string(code)
}

// Create opens a new session with creator as its first participant. Codes
// grow by one character every three collisions.
func (r *Registry) Create(ctx context.Context, name, difficulty string, creator NewParticipant) (SessionSummary, error) {
	creator, err := creator.validate()
	if err != nil {
		return SessionSummary{}, err
	}

	ttl := r.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := r.now()
	createdAt := now.UTC().Format(time.RFC3339Nano)

	session := sessiondao.Session{
		SessionID:            uuid.NewString(),
		Name:                 strings.TrimSpace(name),
		Difficulty:           strings.TrimSpace(difficulty),
		CreatorParticipantID: creator.ID,
		CreatedAt:            createdAt,
		ExpiresAt:            now.Add(ttl).Unix(),
		MaxParticipants:      r.maxParticipants(),
		Participants: map[string]sessiondao.Participant{
			creator.ID: {ParticipantID: creator.ID, Name: creator.Name, Role: creator.Role, JoinedAt: createdAt},
		},
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		session.Code = r.generateCode(codeLength + attempt/3)

		switch err := r.Sessions.Create(ctx, session); {
		case err == nil:
			return Summarize(session), nil
		case errors.Is(err, sessiondao.ErrCodeTaken):
			continue
		default:
			return SessionSummary{}, fmt.Errorf("failed to create session: %w", err)
		}
	}
	return SessionSummary{}, fmt.Errorf("failed to create session: unable to generate a unique code")
}

// Join adds participant to the session named by sessionID or, when that is
// empty, by code. Rejoining is always allowed, even when the session is full.
func (r *Registry) Join(ctx context.Context, sessionID, code string, participant NewParticipant) (SessionSummary, error) {
	participant, err := participant.validate()
	if err != nil {
		return SessionSummary{}, err
	}

	var session *sessiondao.Session
	switch {
	case strings.TrimSpace(sessionID) != "":
		session, err = r.Sessions.Get(ctx, strings.TrimSpace(sessionID))
	case NormalizeCode(code) != "":
		session, err = r.Sessions.FindByCode(ctx, NormalizeCode(code))
	default:
		return SessionSummary{}, clientErrorf("provide sessionId or code")
	}
	if err != nil {
		return SessionSummary{}, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return SessionSummary{}, ErrSessionNotFound
	}
	if session.Expired(r.now()) {
		return SessionSummary{}, ErrSessionExpired
	}

	maxParticipants := session.MaxParticipants
	if maxParticipants <= 0 {
		maxParticipants = r.maxParticipants()
	}

	err = r.Sessions.AddParticipant(ctx, session.SessionID, sessiondao.Participant{
		ParticipantID: participant.ID,
		Name:          participant.Name,
		Role:          participant.Role,
		JoinedAt:      r.now().UTC().Format(time.RFC3339Nano),
	}, maxParticipants)
	switch {
	case errors.Is(err, sessiondao.ErrFull):
		return SessionSummary{}, ErrSessionFull
	case errors.Is(err, sessiondao.ErrNotFound):
		return SessionSummary{}, ErrSessionNotFound
	case err != nil:
		return SessionSummary{}, fmt.Errorf("failed to join session %v: %w", session.SessionID, err)
	}

	return r.Get(ctx, session.SessionID)
}

// Get returns the summary of the session.
func (r *Registry) Get(ctx context.Context, sessionID string) (SessionSummary, error) {
	session, err := r.Sessions.Get(ctx, sessionID)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("failed to read session %v: %w", sessionID, err)
	}
	if session == nil {
		return SessionSummary{}, ErrSessionNotFound
	}
	return Summarize(*session), nil
}
