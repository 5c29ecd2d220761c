package menows

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/chatdao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/connectiondao"
	"github.com/rs/zerolog"
)

const DefaultConnTTL = 6 * time.Hour

// ConnectParams identify the participant opening a connection.
type ConnectParams struct {
	SessionID     string
	ParticipantID string
	Name          string
	Role          string
	Client        string
}

// ParseConnectParams reads connect parameters through get, typically a query
// string lookup. Role defaults to student and client to web; a missing
// session id, participant id or name is a *ClientError.
func ParseConnectParams(get func(key string) string) (ConnectParams, error) {
	params := ConnectParams{
		SessionID:     strings.TrimSpace(get("sessionId")),
		ParticipantID: strings.TrimSpace(get("participantId")),
		Name:          strings.TrimSpace(get("name")),
		Role:          strings.ToLower(strings.TrimSpace(get("role"))),
		Client:        strings.ToLower(strings.TrimSpace(get("client"))),
	}

	var missing []string
	if params.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if params.ParticipantID == "" {
		missing = append(missing, "participantId")
	}
	if params.Name == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return ConnectParams{}, clientErrorf("missing session information: %v", strings.Join(missing, ", "))
	}

	if params.Role == "" {
		params.Role = RoleStudent
	}
	if !validRole(params.Role) {
		return ConnectParams{}, clientErrorf("invalid role %q", params.Role)
	}
	if params.Client == "" {
		params.Client = ClientWeb
	}
	if !validClient(params.Client) {
		return ConnectParams{}, clientErrorf("invalid client %q", params.Client)
	}
	return params, nil
}

// Ack is the outcome of a dispatched action. Transports return it to the
// calling connection only; a zero Message means nothing needs to be sent.
type Ack struct {
	StatusCode int
	Action     string
	Message    string
}

func (a Ack) OK() bool {
	return a.StatusCode < 300
}

// Frame returns the encoded ack event, or nil when there is nothing to say.
func (a Ack) Frame() []byte {
	if a.Message == "" {
		return nil
	}
	data, _ := Encode(AckEvent{OK: a.OK(), Action: a.Action, Message: a.Message})
	return data
}

// Coordinator implements the realtime session protocol on top of the stores.
// It holds no per connection state; every transport adapter drives the same
// Coordinator and supplies its own Sender.
type Coordinator struct {
	Connections ConnectionStore
	Presence    *Presence
	Leases      *Leases
	Chat        ChatStore
	Broadcaster *Broadcaster
	Logger      zerolog.Logger
	ConnTTL     time.Duration   // TTL for connection records (default 6 hours)
	Metrics     MetricsRecorder // optional
	Now         func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) event(ctx context.Context, name menocli.MetricName, action string) {
	if c.Metrics == nil {
		return
	}
	if action == "" {
		c.Metrics.Event(ctx, name)
		return
	}
	c.Metrics.Event(ctx, name, map[menocli.DimensionName]string{menocli.ActionDimension: action})
}

func (c *Coordinator) timing(ctx context.Context, action string, start time.Time) {
	if c.Metrics == nil {
		return
	}
	c.Metrics.Timing(ctx, menocli.ResponseTimeMetric, start, map[menocli.DimensionName]string{menocli.ActionDimension: action})
}

// Connect registers the connection, marks the participant online and tells
// the session.
func (c *Coordinator) Connect(ctx context.Context, sender Sender, connectionID, endpoint string, params ConnectParams) error {
	logger := c.Logger.With().
		Str("connection_id", connectionID).
		Str("session_id", params.SessionID).
		Str("participant_id", params.ParticipantID).
		Logger()

	ttl := c.ConnTTL
	if ttl <= 0 {
		ttl = DefaultConnTTL
	}

	now := c.now()
	conn := connectiondao.Connection{
		ConnectionID:  connectionID,
		SessionID:     params.SessionID,
		ParticipantID: params.ParticipantID,
		Name:          params.Name,
		Role:          params.Role,
		Client:        params.Client,
		Endpoint:      endpoint,
		ConnectedAt:   now.Unix(),
		TTL:           now.Add(ttl).Unix(),
	}
	if err := c.Connections.Put(ctx, conn); err != nil {
		logger.Error().Err(err).Msg("failed to store connection")
		return err
	}

	record, err := c.Presence.MarkOnline(ctx, params.SessionID, params.ParticipantID, params.Name, params.Role)
	if err != nil {
		logger.Error().Err(err).Msg("failed to mark participant online")
		if err := c.Connections.Delete(ctx, connectionID); err != nil {
			logger.Error().Err(err).Msg("failed to remove connection after failed connect")
		}
		return err
	}

	c.broadcast(ctx, logger, sender, params.SessionID, PresenceEvent{
		SessionID:     params.SessionID,
		ParticipantID: params.ParticipantID,
		Record:        record,
	}, "")

	c.event(ctx, menocli.ConnectMetric, "")
	logger.Info().Str("role", params.Role).Str("client", params.Client).Msg("connection established")
	return nil
}

// Disconnect removes the connection, marks the participant disconnected and
// tells the rest of the session. Unknown connections are ignored.
func (c *Coordinator) Disconnect(ctx context.Context, sender Sender, connectionID string) error {
	logger := c.Logger.With().Str("connection_id", connectionID).Logger()

	conn, err := c.Connections.Get(ctx, connectionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read connection")
		return err
	}
	if conn == nil {
		logger.Debug().Msg("disconnect for unknown connection")
		return nil
	}
	logger = logger.With().Str("session_id", conn.SessionID).Str("participant_id", conn.ParticipantID).Logger()

	if err := c.Connections.Delete(ctx, connectionID); err != nil {
		logger.Error().Err(err).Msg("failed to delete connection")
		return err
	}

	record, err := c.Presence.MarkDisconnected(ctx, conn.SessionID, conn.ParticipantID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to mark participant disconnected")
		return err
	}

	c.broadcast(ctx, logger, sender, conn.SessionID, PresenceEvent{
		SessionID:     conn.SessionID,
		ParticipantID: conn.ParticipantID,
		Record:        record,
	}, connectionID)

	c.event(ctx, menocli.DisconnectMetric, "")
	logger.Info().Msg("connection closed")
	return nil
}

// Dispatch handles one client frame received on connectionID.
func (c *Coordinator) Dispatch(ctx context.Context, sender Sender, connectionID string, body []byte) Ack {
	start := time.Now()
	logger := c.Logger.With().Str("connection_id", connectionID).Logger()

	action, err := ParseAction(body)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid message")
		return c.ack("", err)
	}
	logger = logger.With().Str("action", action.ActionName()).Logger()

	conn, err := c.Connections.Get(ctx, connectionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read connection")
		return c.ack(action.ActionName(), err)
	}
	if conn == nil {
		logger.Warn().Msg("message on unregistered connection")
		return Ack{StatusCode: http.StatusGone, Action: action.ActionName(), Message: "Connection not registered"}
	}
	logger = logger.With().Str("session_id", conn.SessionID).Str("participant_id", conn.ParticipantID).Logger()
	c.event(ctx, menocli.ActionMetric, action.ActionName())
	defer c.timing(ctx, action.ActionName(), start)

	switch a := action.(type) {
	case ChatSend:
		err = c.chatSend(ctx, logger, sender, *conn, a)
	case PresenceUpdate:
		err = c.presenceUpdate(ctx, logger, sender, *conn, a)
	case PresenceHeartbeat:
		_, err = c.Presence.Heartbeat(ctx, conn.SessionID, conn.ParticipantID)
	case LeaseSet:
		err = c.leaseSet(ctx, logger, sender, *conn, a)
	case LeaseRelease:
		err = c.leaseRelease(ctx, logger, sender, *conn)
	case Ping:
		err = c.Broadcaster.SendOne(ctx, sender, *conn, PongEvent{Timestamp: c.now().UnixMilli()})
		if errors.Is(err, ErrGone) {
			err = nil
		}
	case UnknownAction:
		logger.Warn().Msg("unhandled action")
		return Ack{StatusCode: http.StatusOK, Action: a.Name, Message: "Unhandled action"}
	}

	if err != nil {
		if !IsClientError(err) {
			logger.Error().Err(err).Msg("action failed")
		}
		return c.ack(action.ActionName(), err)
	}
	logger.Debug().Msg("action handled")
	return Ack{StatusCode: http.StatusOK, Action: action.ActionName()}
}

func (c *Coordinator) ack(action string, err error) Ack {
	var ce *ClientError
	switch {
	case errors.As(err, &ce):
		return Ack{StatusCode: http.StatusBadRequest, Action: action, Message: ce.Message}
	case errors.Is(err, ErrSessionNotFound):
		return Ack{StatusCode: http.StatusNotFound, Action: action, Message: "Session not found"}
	case errors.Is(err, ErrLeaseContention):
		return Ack{StatusCode: http.StatusConflict, Action: action, Message: ErrLeaseContention.Error()}
	default:
		return Ack{StatusCode: http.StatusInternalServerError, Action: action, Message: "Internal server error"}
	}
}

func (c *Coordinator) chatSend(ctx context.Context, logger zerolog.Logger, sender Sender, conn connectiondao.Connection, a ChatSend) error {
	msg := chatdao.Message{
		SessionID:       conn.SessionID,
		MessageID:       a.MessageID,
		ParticipantID:   conn.ParticipantID,
		ParticipantName: conn.Name,
		Role:            conn.Role,
		Content:         a.Content,
		CreatedAt:       a.CreatedAt,
		Meta:            a.Meta,
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = c.now().UTC().Format(time.RFC3339Nano)
	}
	if msg.Meta == nil {
		msg.Meta = map[string]interface{}{}
	}
	msg.SortKey = chatdao.SortKey(msg.CreatedAt, msg.MessageID)

	if err := c.Chat.Put(ctx, msg); err != nil {
		return err
	}

	// the sender applied its own message optimistically
	c.broadcast(ctx, logger, sender, conn.SessionID, ChatMessageEvent{
		SessionID:       msg.SessionID,
		MessageID:       msg.MessageID,
		ParticipantID:   msg.ParticipantID,
		ParticipantName: msg.ParticipantName,
		Role:            msg.Role,
		Content:         msg.Content,
		CreatedAt:       msg.CreatedAt,
		Meta:            msg.Meta,
	}, conn.ConnectionID)
	return nil
}

func (c *Coordinator) presenceUpdate(ctx context.Context, logger zerolog.Logger, sender Sender, conn connectiondao.Connection, a PresenceUpdate) error {
	record, err := c.Presence.Apply(ctx, conn.SessionID, conn.ParticipantID, conn.Name, conn.Role, a)
	if err != nil {
		return err
	}

	c.broadcast(ctx, logger, sender, conn.SessionID, PresenceEvent{
		SessionID:     conn.SessionID,
		ParticipantID: conn.ParticipantID,
		Record:        record,
	}, "")
	return nil
}

func (c *Coordinator) leaseSet(ctx context.Context, logger zerolog.Logger, sender Sender, conn connectiondao.Connection, a LeaseSet) error {
	leaseTo := a.LeaseTo
	if leaseTo == "" {
		leaseTo = conn.ParticipantID
	}

	lease, err := c.Leases.TakeWithID(ctx, conn.SessionID, a.LeaseID, a.StepIndex, leaseTo, a.Duration)
	if err != nil {
		return err
	}

	logger.Info().
		Int("step_index", lease.StepIndex).
		Str("lease_to", lease.LeaseTo).
		Str("lease_id", lease.LeaseID).
		Msg("lease taken")
	c.broadcast(ctx, logger, sender, conn.SessionID, LeaseState(conn.SessionID, &lease), "")
	return nil
}

func (c *Coordinator) leaseRelease(ctx context.Context, logger zerolog.Logger, sender Sender, conn connectiondao.Connection) error {
	if err := c.Leases.Release(ctx, conn.SessionID); err != nil {
		return err
	}

	logger.Info().Msg("lease released")
	c.broadcast(ctx, logger, sender, conn.SessionID, LeaseState(conn.SessionID, nil), "")
	return nil
}

// broadcast fans the event out once the triggering write has succeeded. A
// failed broadcast does not fail the action; clients reconcile through the
// next hydration.
func (c *Coordinator) broadcast(ctx context.Context, logger zerolog.Logger, sender Sender, sessionID string, event Event, excludeConnectionID string) {
	if _, err := c.Broadcaster.Broadcast(ctx, sender, sessionID, event, excludeConnectionID); err != nil {
		logger.Error().Err(err).Str("type", event.EventType()).Msg("failed to broadcast")
	}
}
