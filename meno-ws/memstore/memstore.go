// Package memstore holds in-process implementations of the realtime stores,
// used by tests and by the local dev server when no DynamoDB is available.
// They honor the same contracts as the DynamoDB DAOs, including partial
// presence merges and conditional lease writes.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meno-tutor/meno-go-realtime/meno-ws/chatdao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/connectiondao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/sessiondao"
)

type Connections struct {
	mu    sync.RWMutex
	items map[string]connectiondao.Connection
}

func NewConnections() *Connections {
	return &Connections{items: map[string]connectiondao.Connection{}}
}

func (c *Connections) Put(_ context.Context, conn connectiondao.Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[conn.ConnectionID] = conn
	return nil
}

func (c *Connections) Get(_ context.Context, connectionID string) (*connectiondao.Connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.items[connectionID]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (c *Connections) Delete(_ context.Context, connectionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, connectionID)
	return nil
}

func (c *Connections) ListBySession(_ context.Context, sessionID string) ([]connectiondao.Connection, error) {
	if sessionID == "" {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var conns []connectiondao.Connection
	for _, conn := range c.items {
		if conn.SessionID == sessionID {
			conns = append(conns, conn)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ConnectionID < conns[j].ConnectionID })
	return conns, nil
}

type presenceKey struct {
	sessionID     string
	participantID string
}

type Presence struct {
	mu    sync.Mutex
	items map[presenceKey]presencedao.Record
}

func NewPresence() *Presence {
	return &Presence{items: map[presenceKey]presencedao.Record{}}
}

func (p *Presence) Update(_ context.Context, sessionID, participantID string, attrs presencedao.Attributes) (presencedao.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := presenceKey{sessionID: sessionID, participantID: participantID}
	record, ok := p.items[key]
	if !ok {
		record = presencedao.Record{SessionID: sessionID, ParticipantID: participantID}
	}

	if attrs.Name != nil {
		record.Name = *attrs.Name
	}
	if attrs.Role != nil {
		record.Role = *attrs.Role
	}
	if attrs.Color != nil && record.Color == "" {
		record.Color = *attrs.Color
	}
	if attrs.Status != nil {
		record.Status = *attrs.Status
	}
	if attrs.IsTyping != nil {
		record.IsTyping = *attrs.IsTyping
	}
	if attrs.IsSpeaking != nil {
		record.IsSpeaking = *attrs.IsSpeaking
	}
	if attrs.Muted != nil {
		record.Muted = *attrs.Muted
	}
	if attrs.Extra != nil {
		record.Extra = attrs.Extra
	}
	record.LastSeen = attrs.LastSeen.UTC().Format(time.RFC3339Nano)
	record.ExpiresAt = attrs.ExpiresAt.Unix()

	p.items[key] = record
	return record, nil
}

func (p *Presence) Get(_ context.Context, sessionID, participantID string) (*presencedao.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.items[presenceKey{sessionID: sessionID, participantID: participantID}]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// List returns every record of the session, expired ones included, the same
// way a table with lazy TTL deletion does.
func (p *Presence) List(_ context.Context, sessionID string) ([]presencedao.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var records []presencedao.Record
	for key, record := range p.items {
		if key.sessionID == sessionID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ParticipantID < records[j].ParticipantID })
	return records, nil
}

// Reap removes records whose expiry is before now and returns them.
func (p *Presence) Reap(now time.Time) []presencedao.Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	var reaped []presencedao.Record
	for key, record := range p.items {
		if record.Expired(now) {
			reaped = append(reaped, record)
			delete(p.items, key)
		}
	}
	return reaped
}

type Sessions struct {
	mu    sync.Mutex
	items map[string]sessiondao.Session
}

func NewSessions() *Sessions {
	return &Sessions{items: map[string]sessiondao.Session{}}
}

func (s *Sessions) Create(_ context.Context, session sessiondao.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[session.SessionID]; ok {
		return sessiondao.ErrCodeTaken
	}
	for _, existing := range s.items {
		if existing.Code == session.Code {
			return sessiondao.ErrCodeTaken
		}
	}
	s.items[session.SessionID] = copySession(session)
	return nil
}

func (s *Sessions) Get(_ context.Context, sessionID string) (*sessiondao.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.items[sessionID]
	if !ok {
		return nil, nil
	}
	session = copySession(session)
	return &session, nil
}

func (s *Sessions) FindByCode(_ context.Context, code string) (*sessiondao.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.items {
		if session.Code == code {
			session = copySession(session)
			return &session, nil
		}
	}
	return nil, nil
}

func (s *Sessions) AddParticipant(_ context.Context, sessionID string, participant sessiondao.Participant, maxParticipants int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.items[sessionID]
	if !ok {
		return sessiondao.ErrNotFound
	}
	if session.HasParticipant(participant.ParticipantID) {
		return nil
	}
	if len(session.Participants) >= maxParticipants {
		return sessiondao.ErrFull
	}
	if session.Participants == nil {
		session.Participants = map[string]sessiondao.Participant{}
	}
	session.Participants[participant.ParticipantID] = participant
	s.items[sessionID] = session
	return nil
}

func (s *Sessions) PutLease(_ context.Context, sessionID string, lease sessiondao.Lease, exclusive bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.items[sessionID]
	if !ok {
		return sessiondao.ErrNotFound
	}
	if current := session.ActiveLine; exclusive && !current.Expired(now) && current.LeaseTo != lease.LeaseTo {
		return sessiondao.ErrLeaseHeld
	}
	session.ActiveLine = &lease
	s.items[sessionID] = session
	return nil
}

func (s *Sessions) ClearLease(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.items[sessionID]
	if !ok {
		return sessiondao.ErrNotFound
	}
	session.ActiveLine = nil
	s.items[sessionID] = session
	return nil
}

func copySession(session sessiondao.Session) sessiondao.Session {
	participants := make(map[string]sessiondao.Participant, len(session.Participants))
	for k, v := range session.Participants {
		participants[k] = v
	}
	session.Participants = participants
	if session.ActiveLine != nil {
		lease := *session.ActiveLine
		session.ActiveLine = &lease
	}
	return session
}

type Chat struct {
	mu    sync.RWMutex
	items map[string][]chatdao.Message
}

func NewChat() *Chat {
	return &Chat{items: map[string][]chatdao.Message{}}
}

func (c *Chat) Put(_ context.Context, msg chatdao.Message) error {
	if msg.SortKey == "" {
		msg.SortKey = chatdao.SortKey(msg.CreatedAt, msg.MessageID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := c.items[msg.SessionID]
	for i, existing := range messages {
		if existing.SortKey == msg.SortKey {
			messages[i] = msg
			return nil
		}
	}
	messages = append(messages, msg)
	sort.Slice(messages, func(i, j int) bool { return messages[i].SortKey < messages[j].SortKey })
	c.items[msg.SessionID] = messages
	return nil
}

func (c *Chat) List(_ context.Context, sessionID string, limit int) ([]chatdao.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	messages := c.items[sessionID]
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return append([]chatdao.Message(nil), messages...), nil
}
