package menows

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/sessiondao"
)

// Client to server action names.
const (
	ActionChatSend          = "chat.send"
	ActionPresenceUpdate    = "presence.update"
	ActionPresenceHeartbeat = "presence.heartbeat"
	ActionLeaseSet          = "control.lease.set"
	ActionLeaseRelease      = "control.lease.release"
	ActionPing              = "system.ping"
)

// Server to client event types.
const (
	EventChatMessage = "chat.message"
	EventPresence    = "presence.event"
	EventLeaseState  = "control.lease.state"
	EventPong        = "system.pong"
	EventAck         = "ack"
)

// Presence event kinds carried by presence.update.
const (
	PresenceJoin     = "join"
	PresenceTyping   = "typing"
	PresenceSpeaking = "speaking"
	PresenceMuted    = "muted"
)

// Frame is the client to server envelope; one per websocket message.
type Frame struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Action is a decoded client request. The set of implementations is closed.
type Action interface {
	ActionName() string
	isAction()
}

type ChatSend struct {
	Content   string
	MessageID string
	CreatedAt string
	Meta      map[string]interface{}
}

// PresenceUpdate sets one presence flag. Active is ignored for join.
type PresenceUpdate struct {
	Kind   string
	Active bool
	Extra  map[string]interface{}
}

type PresenceHeartbeat struct{}

// LeaseSet requests the active line. Empty LeaseTo means the caller; zero
// Duration means the default lease duration.
// LeaseSet asks for the active line. LeaseID is optional; the server issues
// one when the client does not.
type LeaseSet struct {
	StepIndex int
	LeaseID   string
	LeaseTo   string
	Duration  time.Duration
}

type LeaseRelease struct{}

type Ping struct{}

// UnknownAction is any action name outside the vocabulary. It is acknowledged
// and otherwise ignored.
type UnknownAction struct {
	Name string
}

func (ChatSend) ActionName() string          { return ActionChatSend }
func (PresenceUpdate) ActionName() string    { return ActionPresenceUpdate }
func (PresenceHeartbeat) ActionName() string { return ActionPresenceHeartbeat }
func (LeaseSet) ActionName() string          { return ActionLeaseSet }
func (LeaseRelease) ActionName() string      { return ActionLeaseRelease }
func (Ping) ActionName() string              { return ActionPing }
func (u UnknownAction) ActionName() string   { return u.Name }

func (ChatSend) isAction()          {}
func (PresenceUpdate) isAction()    {}
func (PresenceHeartbeat) isAction() {}
func (LeaseSet) isAction()          {}
func (LeaseRelease) isAction()      {}
func (Ping) isAction()              {}
func (UnknownAction) isAction()     {}

// ParseAction decodes one client frame. Every failure is a *ClientError.
func ParseAction(body []byte) (Action, error) {
	var frame Frame
	if err := json.Unmarshal(body, &frame); err != nil {
		return nil, clientErrorf("invalid message: %v", err)
	}
	frame.Action = strings.TrimSpace(frame.Action)
	if frame.Action == "" {
		return nil, clientErrorf("missing action")
	}

	switch frame.Action {
	case ActionChatSend:
		return parseChatSend(frame.Payload)
	case ActionPresenceUpdate:
		return parsePresenceUpdate(frame.Payload)
	case ActionPresenceHeartbeat:
		return PresenceHeartbeat{}, nil
	case ActionLeaseSet:
		return parseLeaseSet(frame.Payload)
	case ActionLeaseRelease:
		return LeaseRelease{}, nil
	case ActionPing:
		return Ping{}, nil
	default:
		return UnknownAction{Name: frame.Action}, nil
	}
}

func decodePayload(action string, raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return clientErrorf("invalid %v payload: %v", action, err)
	}
	return nil
}

func parseChatSend(raw json.RawMessage) (Action, error) {
	var payload struct {
		Content   *string                `json:"content"`
		MessageID string                 `json:"messageId"`
		CreatedAt string                 `json:"createdAt"`
		Meta      map[string]interface{} `json:"meta"`
	}
	if err := decodePayload(ActionChatSend, raw, &payload); err != nil {
		return nil, err
	}
	if payload.Content == nil || strings.TrimSpace(*payload.Content) == "" {
		return nil, clientErrorf("content is required")
	}
	return ChatSend{
		Content:   *payload.Content,
		MessageID: payload.MessageID,
		CreatedAt: payload.CreatedAt,
		Meta:      payload.Meta,
	}, nil
}

func parsePresenceUpdate(raw json.RawMessage) (Action, error) {
	var payload struct {
		Event *struct {
			Type       string `json:"type"`
			IsTyping   bool   `json:"isTyping"`
			IsSpeaking bool   `json:"isSpeaking"`
			Muted      bool   `json:"muted"`
		} `json:"event"`
		Extra map[string]interface{} `json:"extra"`
	}
	if err := decodePayload(ActionPresenceUpdate, raw, &payload); err != nil {
		return nil, err
	}
	if payload.Event == nil {
		return nil, clientErrorf("event is required")
	}

	update := PresenceUpdate{Kind: payload.Event.Type, Extra: payload.Extra}
	switch payload.Event.Type {
	case PresenceJoin:
	case PresenceTyping:
		update.Active = payload.Event.IsTyping
	case PresenceSpeaking:
		update.Active = payload.Event.IsSpeaking
	case PresenceMuted:
		update.Active = payload.Event.Muted
	default:
		return nil, clientErrorf("unsupported presence event %q", payload.Event.Type)
	}
	return update, nil
}

func parseLeaseSet(raw json.RawMessage) (Action, error) {
	var payload struct {
		StepIndex       *float64 `json:"stepIndex"`
		LeaseID         string   `json:"leaseId"`
		LeaseTo         string   `json:"leaseTo"`
		LeaseDurationMs *float64 `json:"leaseDurationMs"`
	}
	if err := decodePayload(ActionLeaseSet, raw, &payload); err != nil {
		return nil, err
	}
	if payload.StepIndex == nil {
		return nil, clientErrorf("stepIndex is required")
	}
	stepIndex := *payload.StepIndex
	if stepIndex < 0 || stepIndex != math.Trunc(stepIndex) {
		return nil, clientErrorf("stepIndex must be a non-negative integer")
	}
	if stepIndex > MaxStepIndex {
		return nil, clientErrorf("stepIndex must be at most %d", MaxStepIndex)
	}

	set := LeaseSet{
		StepIndex: int(stepIndex),
		LeaseID:   strings.TrimSpace(payload.LeaseID),
		LeaseTo:   strings.TrimSpace(payload.LeaseTo),
	}
	if payload.LeaseDurationMs != nil && *payload.LeaseDurationMs > 0 {
		ms := *payload.LeaseDurationMs
		if ms > float64(MaxLeaseDuration.Milliseconds()) {
			return nil, clientErrorf("leaseDurationMs must be at most %d", MaxLeaseDuration.Milliseconds())
		}
		set.Duration = time.Duration(ms * float64(time.Millisecond))
	}
	return set, nil
}

// Event is a server to client message. The set of implementations is closed.
type Event interface {
	EventType() string
	isEvent()
}

type ChatMessageEvent struct {
	SessionID       string                 `json:"sessionId"`
	MessageID       string                 `json:"messageId"`
	ParticipantID   string                 `json:"participantId"`
	ParticipantName string                 `json:"participantName"`
	Role            string                 `json:"role"`
	Content         string                 `json:"content"`
	CreatedAt       string                 `json:"createdAt"`
	Meta            map[string]interface{} `json:"meta"`
}

// PresenceEvent carries the full merged presence record so that a client can
// apply it without any earlier state.
type PresenceEvent struct {
	SessionID     string             `json:"sessionId"`
	ParticipantID string             `json:"participantId"`
	Record        presencedao.Record `json:"record"`
}

// LeaseStateEvent reports the active line. Every field except SessionID is
// null once the lease has been released.
type LeaseStateEvent struct {
	SessionID      string  `json:"sessionId"`
	LeaseID        *string `json:"leaseId"`
	StepIndex      *int    `json:"stepIndex"`
	LeaseTo        *string `json:"leaseTo"`
	LeaseIssuedAt  *string `json:"leaseIssuedAt"`
	LeaseExpiresAt *int64  `json:"leaseExpiresAt"`
}

type PongEvent struct {
	Timestamp int64 `json:"timestamp"`
}

// AckEvent answers a client action that failed or was not understood.
type AckEvent struct {
	OK      bool   `json:"ok"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

// RawEvent is an already encoded event relayed from another producer.
type RawEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (ChatMessageEvent) EventType() string { return EventChatMessage }
func (PresenceEvent) EventType() string    { return EventPresence }
func (LeaseStateEvent) EventType() string  { return EventLeaseState }
func (PongEvent) EventType() string        { return EventPong }
func (AckEvent) EventType() string         { return EventAck }
func (r RawEvent) EventType() string       { return r.Type }

func (ChatMessageEvent) isEvent() {}
func (PresenceEvent) isEvent()    {}
func (LeaseStateEvent) isEvent()  {}
func (PongEvent) isEvent()        {}
func (AckEvent) isEvent()         {}
func (RawEvent) isEvent()         {}

// LeaseState builds the lease event for a session; a nil lease yields the
// released form.
func LeaseState(sessionID string, lease *sessiondao.Lease) LeaseStateEvent {
	event := LeaseStateEvent{SessionID: sessionID}
	if lease == nil {
		return event
	}
	l := *lease
	event.LeaseID = &l.LeaseID
	event.StepIndex = &l.StepIndex
	event.LeaseTo = &l.LeaseTo
	event.LeaseIssuedAt = &l.LeaseIssuedAt
	event.LeaseExpiresAt = &l.LeaseExpiresAt
	return event
}

// Encode renders an event as the {type, data} frame sent to clients.
func Encode(event Event) ([]byte, error) {
	if raw, ok := event.(RawEvent); ok {
		return json.Marshal(raw)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %v event: %w", event.EventType(), err)
	}
	return json.Marshal(RawEvent{Type: event.EventType(), Data: data})
}

// DecodeEvent parses an encoded frame back into a RawEvent.
func DecodeEvent(data []byte) (RawEvent, error) {
	var raw RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawEvent{}, fmt.Errorf("invalid event: %w", err)
	}
	if raw.Type == "" {
		return RawEvent{}, fmt.Errorf("invalid event: missing type")
	}
	return raw, nil
}

// ParseLeaseSet decodes a control.lease.set payload on its own, for callers
// outside a websocket frame.
func ParseLeaseSet(raw json.RawMessage) (LeaseSet, error) {
	action, err := parseLeaseSet(raw)
	if err != nil {
		return LeaseSet{}, err
	}
	return action.(LeaseSet), nil
}
