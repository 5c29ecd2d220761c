package menows

import (
	"context"

	"github.com/meno-tutor/meno-go-realtime/meno-ws/connectiondao"
	"github.com/rs/zerolog"
)

// Sender delivers an encoded frame to one connection. Implementations return
// ErrGone (possibly wrapped) when the connection is confirmed closed; any
// other error is treated as transient.
type Sender interface {
	Send(ctx context.Context, conn connectiondao.Connection, data []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, conn connectiondao.Connection, data []byte) error

func (fn SenderFunc) Send(ctx context.Context, conn connectiondao.Connection, data []byte) error {
	return fn(ctx, conn, data)
}

// DrySender logs frames instead of delivering them.
type DrySender struct {
	Logger zerolog.Logger
}

func (d DrySender) Send(_ context.Context, conn connectiondao.Connection, data []byte) error {
	d.Logger.Info().
		Str("connection_id", conn.ConnectionID).
		RawJSON("frame", data).
		Msg("dry run; not delivering")
	return nil
}
