package menows

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/chatdao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
	"github.com/tj/assert"
)

func TestParseConnectParams(t *testing.T) {
	query := func(values map[string]string) func(string) string {
		return func(key string) string { return values[key] }
	}

	params, err := ParseConnectParams(query(map[string]string{
		"sessionId":     "s1",
		"participantId": "p1",
		"name":          " Ada ",
	}))
	assert.Nil(t, err)
	assert.Equal(t, ConnectParams{SessionID: "s1", ParticipantID: "p1", Name: "Ada", Role: RoleStudent, Client: ClientWeb}, params)

	params, err = ParseConnectParams(query(map[string]string{
		"sessionId":     "s1",
		"participantId": "p1",
		"name":          "Ada",
		"role":          "Teacher",
		"client":        "tablet",
	}))
	assert.Nil(t, err)
	assert.Equal(t, RoleTeacher, params.Role)
	assert.Equal(t, ClientTablet, params.Client)

	_, err = ParseConnectParams(query(map[string]string{"sessionId": "s1"}))
	assert.True(t, IsClientError(err))
	assert.Equal(t, "missing session information: participantId, name", err.Error())

	_, err = ParseConnectParams(query(map[string]string{"sessionId": "s1", "participantId": "p1", "name": "Ada", "role": "admin"}))
	assert.True(t, IsClientError(err))

	_, err = ParseConnectParams(query(map[string]string{"sessionId": "s1", "participantId": "p1", "name": "Ada", "client": "fax"}))
	assert.True(t, IsClientError(err))
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.connect(t, "c1", "p1", "Ada")
	f.connect(t, "c2", "p2", "Bo")

	conn, err := f.connections.Get(ctx, "c2")
	assert.Nil(t, err)
	assert.Equal(t, "p2", conn.ParticipantID)
	assert.Equal(t, f.now.Add(DefaultConnTTL).Unix(), conn.TTL)

	// c1 hears both joins, c2 only its own
	assert.Len(t, f.sender.events(t, "c1"), 2)
	events := f.sender.events(t, "c2")
	assert.Len(t, events, 1)
	assert.Equal(t, EventPresence, events[0].Type)

	var presence PresenceEvent
	decodeData(t, events[0], &presence)
	assert.Equal(t, "p2", presence.ParticipantID)
	assert.Equal(t, StatusOnline, presence.Record.Status)
	assert.Equal(t, "Bo", presence.Record.Name)
	assert.Equal(t, Palette[1], presence.Record.Color)
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "c1", "p1", "Ada")
	f.connect(t, "c2", "p2", "Bo")
	f.sender.reset()

	assert.Nil(t, f.coordinator.Disconnect(ctx, f.sender, "c2"))

	conns, err := f.connections.ListBySession(ctx, "s1")
	assert.Nil(t, err)
	assert.Len(t, conns, 1)
	assert.Equal(t, "c1", conns[0].ConnectionID)

	events := f.sender.events(t, "c1")
	assert.Len(t, events, 1)
	var presence PresenceEvent
	decodeData(t, events[0], &presence)
	assert.Equal(t, "p2", presence.ParticipantID)
	assert.Equal(t, StatusDisconnected, presence.Record.Status)
	assert.Len(t, f.sender.events(t, "c2"), 0)

	// unknown connections are ignored
	assert.Nil(t, f.coordinator.Disconnect(ctx, f.sender, "c2"))
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("chat send", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "c1", "p1", "Ada")
		f.connect(t, "c2", "p2", "Bo")
		f.sender.reset()

		ack := f.dispatch("c1", `{"action":"chat.send","payload":{"content":"what is virtue?","messageId":"m1"}}`)
		assert.Equal(t, http.StatusOK, ack.StatusCode)
		assert.Nil(t, ack.Frame())

		assert.Len(t, f.sender.events(t, "c1"), 0)
		events := f.sender.events(t, "c2")
		assert.Len(t, events, 1)
		assert.Equal(t, EventChatMessage, events[0].Type)

		var msg ChatMessageEvent
		decodeData(t, events[0], &msg)
		assert.Equal(t, "m1", msg.MessageID)
		assert.Equal(t, "p1", msg.ParticipantID)
		assert.Equal(t, "Ada", msg.ParticipantName)
		assert.Equal(t, "what is virtue?", msg.Content)
		assert.NotZero(t, msg.CreatedAt)

		stored, err := f.chat.List(ctx, "s1", 10)
		assert.Nil(t, err)
		assert.Len(t, stored, 1)
		assert.Equal(t, chatdao.SortKey(msg.CreatedAt, "m1"), stored[0].SortKey)
	})

	t.Run("chat send without content", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "c1", "p1", "Ada")
		f.connect(t, "c2", "p2", "Bo")
		f.sender.reset()

		ack := f.dispatch("c1", `{"action":"chat.send","payload":{}}`)
		assert.Equal(t, http.StatusBadRequest, ack.StatusCode)
		assert.Equal(t, "content is required", ack.Message)
		assert.Len(t, f.sender.events(t, "c2"), 0)

		stored, err := f.chat.List(ctx, "s1", 10)
		assert.Nil(t, err)
		assert.Len(t, stored, 0)
	})

	t.Run("presence update", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "c1", "p1", "Ada")
		f.connect(t, "c2", "p2", "Bo")
		f.sender.reset()

		ack := f.dispatch("c1", `{"action":"presence.update","payload":{"event":{"type":"typing","isTyping":true}}}`)
		assert.True(t, ack.OK())

		for _, id := range []string{"c1", "c2"} {
			events := f.sender.events(t, id)
			assert.Len(t, events, 1)
			var presence PresenceEvent
			decodeData(t, events[0], &presence)
			assert.True(t, presence.Record.IsTyping)
			assert.Equal(t, StatusTyping, presence.Record.Status)
			assert.Equal(t, "Ada", presence.Record.Name)
		}
	})

	t.Run("heartbeat", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "c1", "p1", "Ada")
		f.sender.reset()

		ack := f.dispatch("c1", `{"action":"presence.heartbeat"}`)
		assert.True(t, ack.OK())
		assert.Len(t, f.sender.events(t, "c1"), 0)
	})

	t.Run("lease", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "c1", "p1", "Ada")
		f.connect(t, "c2", "p2", "Bo")
		f.sender.reset()

		ack := f.dispatch("c1", `{"action":"control.lease.set","payload":{"stepIndex":2,"leaseDurationMs":30000}}`)
		assert.True(t, ack.OK())

		events := f.sender.events(t, "c2")
		assert.Len(t, events, 1)
		assert.Equal(t, EventLeaseState, events[0].Type)
		var state LeaseStateEvent
		decodeData(t, events[0], &state)
		assert.Equal(t, 2, *state.StepIndex)
		assert.Equal(t, "p1", *state.LeaseTo)
		assert.Equal(t, f.now.UnixMilli()+30000, *state.LeaseExpiresAt)

		f.sender.reset()
		ack = f.dispatch("c2", `{"action":"control.lease.release"}`)
		assert.True(t, ack.OK())

		events = f.sender.events(t, "c1")
		assert.Len(t, events, 1)
		state = LeaseStateEvent{}
		decodeData(t, events[0], &state)
		assert.Equal(t, "s1", state.SessionID)
		assert.Nil(t, state.LeaseID)
		assert.Nil(t, state.StepIndex)

		lease, err := f.coordinator.Leases.Get(ctx, "s1")
		assert.Nil(t, err)
		assert.Nil(t, lease)
	})

	t.Run("lease with client lease id", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "c1", "p1", "Ada")
		f.connect(t, "c2", "p2", "Bo")
		f.sender.reset()

		ack := f.dispatch("c1", `{"action":"control.lease.set","payload":{"stepIndex":1,"leaseId":"lease-7"}}`)
		assert.True(t, ack.OK())

		events := f.sender.events(t, "c2")
		assert.Len(t, events, 1)
		var state LeaseStateEvent
		decodeData(t, events[0], &state)
		assert.Equal(t, "lease-7", *state.LeaseID)

		lease, err := f.coordinator.Leases.Get(ctx, "s1")
		assert.Nil(t, err)
		assert.Equal(t, "lease-7", lease.LeaseID)
	})

	t.Run("lease contention", func(t *testing.T) {
		f := newFixture(t)
		f.coordinator.Leases.Exclusive = true
		f.connect(t, "c1", "p1", "Ada")
		f.connect(t, "c2", "p2", "Bo")

		assert.True(t, f.dispatch("c1", `{"action":"control.lease.set","payload":{"stepIndex":0}}`).OK())
		f.sender.reset()

		ack := f.dispatch("c2", `{"action":"control.lease.set","payload":{"stepIndex":1}}`)
		assert.Equal(t, http.StatusConflict, ack.StatusCode)
		assert.Len(t, f.sender.events(t, "c1"), 0)
	})

	t.Run("lease on unknown session", func(t *testing.T) {
		f := newFixture(t)
		err := f.coordinator.Connect(ctx, f.sender, "c9", "", ConnectParams{
			SessionID: "missing", ParticipantID: "p9", Name: "Nobody", Role: RoleStudent, Client: ClientWeb,
		})
		assert.Nil(t, err)

		ack := f.dispatch("c9", `{"action":"control.lease.set","payload":{"stepIndex":1}}`)
		assert.Equal(t, http.StatusNotFound, ack.StatusCode)
		assert.Equal(t, "Session not found", ack.Message)
	})

	t.Run("ping", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "c1", "p1", "Ada")
		f.connect(t, "c2", "p2", "Bo")
		f.sender.reset()

		ack := f.dispatch("c1", `{"action":"system.ping"}`)
		assert.True(t, ack.OK())

		events := f.sender.events(t, "c1")
		assert.Len(t, events, 1)
		assert.Equal(t, EventPong, events[0].Type)
		var pong PongEvent
		decodeData(t, events[0], &pong)
		assert.Equal(t, f.now.UnixMilli(), pong.Timestamp)
		assert.Len(t, f.sender.events(t, "c2"), 0)
	})

	t.Run("unknown action", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "c1", "p1", "Ada")

		ack := f.dispatch("c1", `{"action":"whiteboard.draw","payload":{}}`)
		assert.Equal(t, http.StatusOK, ack.StatusCode)
		assert.Equal(t, "Unhandled action", ack.Message)

		event, err := DecodeEvent(ack.Frame())
		assert.Nil(t, err)
		var body AckEvent
		decodeData(t, event, &body)
		assert.Equal(t, AckEvent{OK: true, Action: "whiteboard.draw", Message: "Unhandled action"}, body)
	})

	t.Run("malformed", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "c1", "p1", "Ada")

		ack := f.dispatch("c1", `not json`)
		assert.Equal(t, http.StatusBadRequest, ack.StatusCode)
		assert.NotNil(t, ack.Frame())
	})

	t.Run("unregistered connection", func(t *testing.T) {
		f := newFixture(t)

		ack := f.dispatch("ghost", `{"action":"system.ping"}`)
		assert.Equal(t, http.StatusGone, ack.StatusCode)
	})
}

// brokenPresence lists nothing and fails every write.
type brokenPresence struct{}

func (brokenPresence) Update(context.Context, string, string, presencedao.Attributes) (presencedao.Record, error) {
	return presencedao.Record{}, errTransient
}

func (brokenPresence) List(context.Context, string) ([]presencedao.Record, error) {
	return nil, nil
}

func TestConnectPresenceFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.coordinator.Presence = &Presence{Store: brokenPresence{}}

	err := f.coordinator.Connect(ctx, f.sender, "c1", "", ConnectParams{
		SessionID: "s1", ParticipantID: "p1", Name: "Ada", Role: RoleStudent, Client: ClientWeb,
	})
	assert.True(t, errors.Is(err, errTransient))

	conn, err := f.connections.Get(ctx, "c1")
	assert.Nil(t, err)
	assert.True(t, conn == nil)
}

type recordingMetrics struct {
	mu      sync.Mutex
	events  []menocli.MetricName
	timings map[menocli.MetricName][]string
}

func (r *recordingMetrics) Event(_ context.Context, name menocli.MetricName, _ ...map[menocli.DimensionName]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recordingMetrics) Gauge(context.Context, menocli.MetricName, float64, ...map[menocli.DimensionName]string) {
}

func (r *recordingMetrics) Timing(_ context.Context, name menocli.MetricName, _ time.Time, dimensions ...map[menocli.DimensionName]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timings == nil {
		r.timings = map[menocli.MetricName][]string{}
	}
	for _, dims := range dimensions {
		r.timings[name] = append(r.timings[name], dims[menocli.ActionDimension])
	}
}

func TestDispatchMetrics(t *testing.T) {
	f := newFixture(t)
	metrics := &recordingMetrics{}
	f.coordinator.Metrics = metrics
	f.connect(t, "c1", "p1", "Ada")

	assert.True(t, f.dispatch("c1", `{"action":"system.ping"}`).OK())
	assert.True(t, f.dispatch("c1", `{"action":"presence.heartbeat"}`).OK())
	f.dispatch("c1", `not json`)

	assert.Equal(t, []string{ActionPing, ActionPresenceHeartbeat}, metrics.timings[menocli.ResponseTimeMetric])
	assert.Equal(t, []menocli.MetricName{menocli.ConnectMetric, menocli.ActionMetric, menocli.ActionMetric}, metrics.events)
}
