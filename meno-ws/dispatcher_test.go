package menows

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/publish"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

func envelope(t *testing.T, topic, payload string) []byte {
	data, err := json.Marshal(publish.Envelope{Topic: topic, Payload: json.RawMessage(payload)})
	assert.Nil(t, err)
	return data
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "c1", "p1", "Ada")
	f.connect(t, "c2", "p2", "Bo")
	f.sender.reset()

	d := &Dispatcher{Broadcaster: f.coordinator.Broadcaster, Sender: f.sender, Logger: zerolog.Nop()}

	frame := `{"type":"tutor.hint","data":{"text":"consider the square"}}`
	err := d.HandleKinesisEvent(ctx, events.KinesisEvent{
		Records: []events.KinesisEventRecord{
			{EventID: "bad", Kinesis: events.KinesisRecord{Data: []byte(`nope`)}},
			{EventID: "empty", Kinesis: events.KinesisRecord{Data: envelope(t, "", frame)}},
			{EventID: "ok", Kinesis: events.KinesisRecord{Data: envelope(t, "s1", frame)}},
		},
	})
	assert.Nil(t, err)

	for _, id := range []string{"c1", "c2"} {
		got := f.sender.events(t, id)
		assert.Len(t, got, 1)
		assert.Equal(t, "tutor.hint", got[0].Type)
		assert.JSONEq(t, `{"text":"consider the square"}`, string(got[0].Data))
	}
}

func TestDispatcherRejectsUntypedPayload(t *testing.T) {
	f := newFixture(t)
	d := &Dispatcher{Broadcaster: f.coordinator.Broadcaster, Sender: f.sender, Logger: zerolog.Nop()}

	err := d.HandleRecord(context.Background(), envelope(t, "s1", `{"data":{}}`))
	assert.NotNil(t, err)
}

func TestDispatcherSend(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "c1", "p1", "Ada")
	f.sender.reset()

	d := &Dispatcher{Broadcaster: f.coordinator.Broadcaster, Sender: f.sender, Logger: zerolog.Nop()}
	frame, err := Encode(LeaseState("s1", nil))
	assert.Nil(t, err)
	assert.Nil(t, d.Send(context.Background(), "s1", frame))

	got := f.sender.events(t, "c1")
	assert.Len(t, got, 1)
	assert.Equal(t, EventLeaseState, got[0].Type)
}
