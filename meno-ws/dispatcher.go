package menows

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	consumer "github.com/harlow/kinesis-consumer"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/publish"
	"github.com/rs/zerolog"
)

// Dispatcher relays events published to the session events stream to every
// connection of the addressed session.
type Dispatcher struct {
	Broadcaster *Broadcaster
	Sender      Sender
	Logger      zerolog.Logger
}

// HandleKinesisEvent relays a batch of records. A bad record is logged and
// skipped so the rest of the batch is still delivered.
func (d *Dispatcher) HandleKinesisEvent(ctx context.Context, event events.KinesisEvent) error {
	for _, record := range event.Records {
		if err := d.HandleRecord(ctx, record.Kinesis.Data); err != nil {
			d.Logger.Error().Err(err).
				Str("event_id", record.EventID).
				Msg("failed to process kinesis record")
		}
	}
	return nil
}

// HandleRecord relays a single publish.Envelope.
func (d *Dispatcher) HandleRecord(ctx context.Context, data []byte) error {
	var envelope publish.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal kinesis record: %w", err)
	}
	if envelope.Topic == "" {
		d.Logger.Warn().Msg("kinesis record has empty topic, skipping")
		return nil
	}

	event, err := DecodeEvent(envelope.Payload)
	if err != nil {
		return fmt.Errorf("failed to relay to session %v: %w", envelope.Topic, err)
	}

	_, err = d.Broadcaster.Broadcast(ctx, d.Sender, envelope.Topic, event, "")
	return err
}

// Scan reads streamName from the latest record onward until ctx is done. It
// is the console mode counterpart of HandleKinesisEvent.
func (d *Dispatcher) Scan(ctx context.Context, streamName string) error {
	c, err := consumer.New(streamName, consumer.WithShardIteratorType("LATEST"))
	if err != nil {
		return fmt.Errorf("failed to create consumer for stream %v: %w", streamName, err)
	}

	d.Logger.Info().Str("stream", streamName).Msg("listening")
	return c.Scan(ctx, func(record *consumer.Record) error {
		if err := d.HandleRecord(ctx, record.Data); err != nil {
			d.Logger.Error().Err(err).Msg("failed to process kinesis record")
		}
		return nil
	})
}

// Send relays frame to sessionID in process, skipping the stream. It lets the
// dev server stand in wherever a publisher is expected.
func (d *Dispatcher) Send(ctx context.Context, sessionID string, frame []byte) error {
	event, err := DecodeEvent(frame)
	if err != nil {
		return err
	}
	_, err = d.Broadcaster.Broadcast(ctx, d.Sender, sessionID, event, "")
	return err
}
