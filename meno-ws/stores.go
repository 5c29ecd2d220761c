package menows

import (
	"context"
	"time"

	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/chatdao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/connectiondao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/sessiondao"
)

// ConnectionStore is the connection registry. Get returns nil, nil for an
// unknown connection.
type ConnectionStore interface {
	Put(ctx context.Context, conn connectiondao.Connection) error
	Get(ctx context.Context, connectionID string) (*connectiondao.Connection, error)
	Delete(ctx context.Context, connectionID string) error
	ListBySession(ctx context.Context, sessionID string) ([]connectiondao.Connection, error)
}

// PresenceStore persists presence records with partial attribute merges.
type PresenceStore interface {
	Update(ctx context.Context, sessionID, participantID string, attrs presencedao.Attributes) (presencedao.Record, error)
	List(ctx context.Context, sessionID string) ([]presencedao.Record, error)
}

// SessionStore is the session registry, which also holds each session's
// active line lease. Get and FindByCode return nil, nil when nothing matches.
type SessionStore interface {
	Create(ctx context.Context, session sessiondao.Session) error
	Get(ctx context.Context, sessionID string) (*sessiondao.Session, error)
	FindByCode(ctx context.Context, code string) (*sessiondao.Session, error)
	AddParticipant(ctx context.Context, sessionID string, participant sessiondao.Participant, maxParticipants int) error
	PutLease(ctx context.Context, sessionID string, lease sessiondao.Lease, exclusive bool, now time.Time) error
	ClearLease(ctx context.Context, sessionID string) error
}

// ChatStore is the external chat log. List returns the most recent messages,
// oldest first.
type ChatStore interface {
	Put(ctx context.Context, msg chatdao.Message) error
	List(ctx context.Context, sessionID string, limit int) ([]chatdao.Message, error)
}

// MetricsRecorder receives operational metrics. menocli.Metrics satisfies it.
type MetricsRecorder interface {
	Event(ctx context.Context, name menocli.MetricName, dimensions ...map[menocli.DimensionName]string)
	Gauge(ctx context.Context, name menocli.MetricName, value float64, dimensions ...map[menocli.DimensionName]string)
	Timing(ctx context.Context, name menocli.MetricName, start time.Time, dimensions ...map[menocli.DimensionName]string)
}

var (
	_ ConnectionStore = (*connectiondao.DAO)(nil)
	_ PresenceStore   = (*presencedao.DAO)(nil)
	_ SessionStore    = (*sessiondao.DAO)(nil)
	_ ChatStore       = (*chatdao.DAO)(nil)
	_ MetricsRecorder = menocli.Metrics{}
)
