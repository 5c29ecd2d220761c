package menows

import (
	"time"

	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	"github.com/urfave/cli/v2"
)

var RealtimeOpts struct {
	ConnectionsTable string
	PresenceTable    string
	SessionsTable    string
	ChatTable        string
	Store            string

	ConnTTL         time.Duration
	OnlineTTL       time.Duration
	DisconnectedTTL time.Duration
	LeaseDuration   time.Duration
	ExclusiveLease  bool
	Concurrency     int

	MaxParticipants int
	SessionTTL      time.Duration

	Endpoint   string
	StreamName string
	Metrics    bool
}

var ConnectionsTableFlag = menocli.StringFlag("connections-table", "connection registry table; defaults to <env>-meno-realtime--connections", &RealtimeOpts.ConnectionsTable)
var PresenceTableFlag = menocli.StringFlag("presence-table", "presence table; defaults to <env>-meno-realtime--presence", &RealtimeOpts.PresenceTable)
var SessionsTableFlag = menocli.StringFlag("sessions-table", "session registry table; defaults to <env>-meno-realtime--sessions", &RealtimeOpts.SessionsTable)
var ChatTableFlag = menocli.StringFlag("chat-table", "chat log table; defaults to <env>-meno-realtime--chat", &RealtimeOpts.ChatTable)
var StoreFlag = menocli.StringFlag("store", "where coordination state lives: dynamodb or memory", &RealtimeOpts.Store, StoreDynamoDB)

var ConnTTLFlag = menocli.DurationFlag("connection-ttl", "how long a connection record outlives a missed disconnect", &RealtimeOpts.ConnTTL, DefaultConnTTL)
var OnlineTTLFlag = menocli.DurationFlag("presence-ttl", "presence expiry of an active participant", &RealtimeOpts.OnlineTTL, DefaultOnlineTTL)
var DisconnectedTTLFlag = menocli.DurationFlag("disconnected-ttl", "presence expiry of a disconnected participant", &RealtimeOpts.DisconnectedTTL, DefaultDisconnectedTTL)
var LeaseDurationFlag = menocli.DurationFlag("lease-duration", "default active line lease duration", &RealtimeOpts.LeaseDuration, DefaultLeaseDuration)
var ExclusiveLeaseFlag = menocli.BoolFlag("exclusive-lease", "refuse to take a live lease held by another participant", &RealtimeOpts.ExclusiveLease)
var ConcurrencyFlag = menocli.IntFlag("concurrency", "max concurrent sends per broadcast", &RealtimeOpts.Concurrency, defaultConcurrency)

var MaxParticipantsFlag = menocli.IntFlag("max-participants", "participants allowed in a new session", &RealtimeOpts.MaxParticipants, DefaultMaxParticipants)
var SessionTTLFlag = menocli.DurationFlag("session-ttl", "lifetime of a new session", &RealtimeOpts.SessionTTL, DefaultSessionTTL)

var EndpointFlag = menocli.StringFlag("ws-endpoint", "API Gateway management endpoint for connections stored without one", &RealtimeOpts.Endpoint)
var StreamNameFlag = menocli.StringFlag("stream-name", "session events stream; defaults to <env>-meno-realtime--events", &RealtimeOpts.StreamName)
var MetricsFlag = menocli.BoolFlag("metrics", "publish CloudWatch metrics", &RealtimeOpts.Metrics)

var TableFlags = []cli.Flag{
	ConnectionsTableFlag,
	PresenceTableFlag,
	SessionsTableFlag,
	ChatTableFlag,
	StoreFlag,
}

var CoordinatorFlags = []cli.Flag{
	ConnTTLFlag,
	OnlineTTLFlag,
	DisconnectedTTLFlag,
	LeaseDurationFlag,
	ExclusiveLeaseFlag,
	ConcurrencyFlag,
	MetricsFlag,
}

var RegistryFlags = []cli.Flag{
	MaxParticipantsFlag,
	SessionTTLFlag,
}
