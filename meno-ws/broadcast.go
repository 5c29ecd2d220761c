package menows

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/connectiondao"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 50

// Broadcaster fans events out to every connection of a session. Delivery is
// best effort: each connection is attempted independently and a failure never
// stops delivery to the others.
type Broadcaster struct {
	Connections ConnectionStore
	Logger      zerolog.Logger
	Concurrency int             // max concurrent sends per broadcast (default 50)
	Metrics     MetricsRecorder // optional
}

// BroadcastResult counts the outcome of one broadcast.
type BroadcastResult struct {
	Attempted int
	Delivered int
	Gone      int
	Failed    int
}

// Broadcast delivers event to every connection bound to sessionID except
// excludeConnectionID. Connections confirmed gone are removed from the
// registry. An error is returned only when the event cannot be encoded or the
// registry cannot be read.
func (b *Broadcaster) Broadcast(ctx context.Context, sender Sender, sessionID string, event Event, excludeConnectionID string) (BroadcastResult, error) {
	data, err := Encode(event)
	if err != nil {
		return BroadcastResult{}, err
	}

	conns, err := b.Connections.ListBySession(ctx, sessionID)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("failed to list connections for session %v: %w", sessionID, err)
	}

	concurrency := b.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	var (
		group                   errgroup.Group
		attempted               int
		delivered, gone, failed int64
	)
	group.SetLimit(concurrency)

	for _, conn := range conns {
		if conn.ConnectionID == excludeConnectionID {
			continue
		}
		attempted++

		conn := conn
		group.Go(func() error {
			switch err := b.deliver(ctx, sender, conn, data); {
			case err == nil:
				atomic.AddInt64(&delivered, 1)
			case errors.Is(err, ErrGone):
				atomic.AddInt64(&gone, 1)
			default:
				atomic.AddInt64(&failed, 1)
			}
			return nil
		})
	}
	_ = group.Wait()

	result := BroadcastResult{
		Attempted: attempted,
		Delivered: int(delivered),
		Gone:      int(gone),
		Failed:    int(failed),
	}

	b.Logger.Debug().
		Str("session_id", sessionID).
		Str("type", event.EventType()).
		Int("attempted", result.Attempted).
		Int("delivered", result.Delivered).
		Int("gone", result.Gone).
		Int("failed", result.Failed).
		Msg("broadcast complete")
	b.record(ctx, event, result)

	return result, nil
}

// SendOne delivers event to a single connection. A connection confirmed gone
// is removed from the registry and ErrGone is returned.
func (b *Broadcaster) SendOne(ctx context.Context, sender Sender, conn connectiondao.Connection, event Event) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	return b.deliver(ctx, sender, conn, data)
}

func (b *Broadcaster) deliver(ctx context.Context, sender Sender, conn connectiondao.Connection, data []byte) error {
	err := sender.Send(ctx, conn, data)
	if err == nil {
		return nil
	}

	logger := b.Logger.With().
		Str("connection_id", conn.ConnectionID).
		Str("session_id", conn.SessionID).
		Logger()

	if errors.Is(err, ErrGone) {
		logger.Info().Msg("connection gone, cleaning up")
		if err := b.Connections.Delete(ctx, conn.ConnectionID); err != nil {
			logger.Error().Err(err).Msg("failed to delete gone connection")
		}
		return ErrGone
	}

	logger.Warn().Err(err).Msg("failed to deliver to connection")
	return err
}

func (b *Broadcaster) record(ctx context.Context, event Event, result BroadcastResult) {
	if b.Metrics == nil || result.Attempted == 0 {
		return
	}
	dims := map[menocli.DimensionName]string{menocli.ActionDimension: event.EventType()}
	b.Metrics.Gauge(ctx, menocli.BroadcastDeliveredMetric, float64(result.Delivered), dims)
	if result.Gone > 0 {
		b.Metrics.Gauge(ctx, menocli.BroadcastGoneMetric, float64(result.Gone), dims)
	}
	if result.Failed > 0 {
		b.Metrics.Gauge(ctx, menocli.BroadcastFailedMetric, float64(result.Failed), dims)
	}
}
