package menows

import (
	"fmt"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/chatdao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/connectiondao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/memstore"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/sessiondao"
	"github.com/rs/zerolog"
)

const (
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

// Stores groups the four stores a realtime service runs on.
type Stores struct {
	Connections ConnectionStore
	Presence    PresenceStore
	Sessions    SessionStore
	Chat        ChatStore
}

// BuildStores creates the stores selected by RealtimeOpts.Store. api is only
// used for the dynamodb store and is called lazily.
func BuildStores(api func() dynamodbiface.DynamoDBAPI, env string) (Stores, error) {
	switch RealtimeOpts.Store {
	case StoreMemory:
		return MemoryStores(), nil
	case StoreDynamoDB, "":
		return DynamoDBStores(api(), env), nil
	default:
		return Stores{}, fmt.Errorf("unknown store %q", RealtimeOpts.Store)
	}
}

// DynamoDBStores creates the DynamoDB backed stores for env, honoring any
// table names set in RealtimeOpts.
func DynamoDBStores(api dynamodbiface.DynamoDBAPI, env string) Stores {
	return Stores{
		Connections: connectiondao.New(api, tableName(RealtimeOpts.ConnectionsTable, connectiondao.TableName(env))),
		Presence:    presencedao.New(api, tableName(RealtimeOpts.PresenceTable, presencedao.TableName(env))),
		Sessions:    sessiondao.New(api, tableName(RealtimeOpts.SessionsTable, sessiondao.TableName(env))),
		Chat:        chatdao.New(api, tableName(RealtimeOpts.ChatTable, chatdao.TableName(env))),
	}
}

func MemoryStores() Stores {
	return Stores{
		Connections: memstore.NewConnections(),
		Presence:    memstore.NewPresence(),
		Sessions:    memstore.NewSessions(),
		Chat:        memstore.NewChat(),
	}
}

func tableName(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// Build wires a Coordinator and Hydrator over stores using RealtimeOpts.
func Build(service menocli.Service, stores Stores, logger zerolog.Logger) (*Coordinator, *Hydrator) {
	var metrics MetricsRecorder
	if RealtimeOpts.Metrics {
		metrics = menocli.BuildMetrics(service)
	}

	presence := &Presence{
		Store:           stores.Presence,
		OnlineTTL:       RealtimeOpts.OnlineTTL,
		DisconnectedTTL: RealtimeOpts.DisconnectedTTL,
	}
	coordinator := &Coordinator{
		Connections: stores.Connections,
		Presence:    presence,
		Leases: &Leases{
			Sessions:        stores.Sessions,
			DefaultDuration: RealtimeOpts.LeaseDuration,
			Exclusive:       RealtimeOpts.ExclusiveLease,
		},
		Chat: stores.Chat,
		Broadcaster: &Broadcaster{
			Connections: stores.Connections,
			Logger:      logger,
			Concurrency: RealtimeOpts.Concurrency,
			Metrics:     metrics,
		},
		Logger:  logger,
		ConnTTL: RealtimeOpts.ConnTTL,
		Metrics: metrics,
	}
	hydrator := &Hydrator{
		Sessions: stores.Sessions,
		Chat:     stores.Chat,
		Presence: presence,
	}
	return coordinator, hydrator
}

// BuildRegistry creates the session registry over stores using RealtimeOpts.
func BuildRegistry(stores Stores) *Registry {
	return &Registry{
		Sessions:        stores.Sessions,
		MaxParticipants: RealtimeOpts.MaxParticipants,
		SessionTTL:      RealtimeOpts.SessionTTL,
	}
}
