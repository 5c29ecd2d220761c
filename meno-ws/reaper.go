package menows

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/service/dynamodb"
	menoddb "github.com/meno-tutor/meno-go-realtime/meno-ddb"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
	"github.com/rs/zerolog"
)

// Reaper announces presence records removed by expiry, so rosters drop the
// participant even when no client filters on expiresAt.
type Reaper struct {
	Broadcaster *Broadcaster
	Sender      Sender
	Logger      zerolog.Logger
}

// OnDelete is the REMOVE callback of a presence table stream consumer.
func (r *Reaper) OnDelete(ctx context.Context, oldValue map[string]*dynamodb.AttributeValue) error {
	var record presencedao.Record
	if err := menoddb.ParseItem(oldValue, &record); err != nil {
		return fmt.Errorf("failed to parse presence record: %w", err)
	}
	return r.Reap(ctx, record)
}

// Reap broadcasts the final, disconnected form of record to its session.
func (r *Reaper) Reap(ctx context.Context, record presencedao.Record) error {
	if record.SessionID == "" || record.ParticipantID == "" {
		return nil
	}
	record.Status = StatusDisconnected
	record.IsTyping = false
	record.IsSpeaking = false

	r.Logger.Debug().
		Str("session_id", record.SessionID).
		Str("participant_id", record.ParticipantID).
		Msg("presence expired")

	_, err := r.Broadcaster.Broadcast(ctx, r.Sender, record.SessionID, PresenceEvent{
		SessionID:     record.SessionID,
		ParticipantID: record.ParticipantID,
		Record:        record,
	}, "")
	return err
}
