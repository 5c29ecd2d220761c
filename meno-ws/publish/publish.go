// Package publish relays session events produced outside a websocket
// connection, e.g. by the HTTP API or the tutor pipeline, through a Kinesis
// stream to the session relay.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
)

// Envelope is the record format of the session events stream. Topic is the
// session id; Payload is an encoded {type, data} event frame.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type Publisher struct {
	client     kinesisiface.KinesisAPI
	streamName string
}

func New(client kinesisiface.KinesisAPI, streamName string) *Publisher {
	return &Publisher{
		client:     client,
		streamName: streamName,
	}
}

// Build creates a Publisher on streamName using the default credential chain.
func Build(streamName string) *Publisher {
	s := session.Must(session.NewSession(aws.NewConfig()))
	return New(kinesis.New(s), streamName)
}

// StreamName returns the standard session events stream of env.
func StreamName(env string) string {
	return env + "-meno-realtime--events"
}

// Send publishes frame to every connection of sessionID. The session id is
// the partition key, so events of one session keep their order.
func (p *Publisher) Send(ctx context.Context, sessionID string, frame []byte) error {
	if !json.Valid(frame) {
		return fmt.Errorf("failed to publish to session %v: frame is not valid json", sessionID)
	}

	data, err := json.Marshal(Envelope{
		Topic:   sessionID,
		Payload: frame,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	_, err = p.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		StreamName:   aws.String(p.streamName),
		PartitionKey: aws.String(sessionID),
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to kinesis stream %v: %w", p.streamName, err)
	}
	return nil
}
