package menows

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/sessiondao"
)

const (
	DefaultLeaseDuration = 30 * time.Second
	MaxLeaseDuration     = time.Hour
	MaxStepIndex         = math.MaxInt32
)

// Leases manages the active line of each session: a single, time bounded
// write permission over one step.
//
// By default a take overwrites whatever lease exists and the last write wins.
// With Exclusive set a take only succeeds while the current lease is absent,
// expired or already held by the same participant; otherwise it fails with
// ErrLeaseContention.
type Leases struct {
	Sessions        SessionStore
	DefaultDuration time.Duration
	Exclusive       bool
	Now             func() time.Time
}

func (l *Leases) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Take grants stepIndex of the session to leaseTo for duration, replacing any
// previous lease. A non-positive duration uses the default.
func (l *Leases) Take(ctx context.Context, sessionID string, stepIndex int, leaseTo string, duration time.Duration) (sessiondao.Lease, error) {
	return l.TakeWithID(ctx, sessionID, "", stepIndex, leaseTo, duration)
}

// TakeWithID is Take with a caller chosen lease id. A blank id gets a fresh
// uuid.
func (l *Leases) TakeWithID(ctx context.Context, sessionID, leaseID string, stepIndex int, leaseTo string, duration time.Duration) (sessiondao.Lease, error) {
	if leaseID == "" {
		leaseID = uuid.NewString()
	}
	if duration <= 0 {
		duration = l.DefaultDuration
	}
	if duration <= 0 {
		duration = DefaultLeaseDuration
	}

	now := l.now()
	lease := sessiondao.Lease{
		LeaseID:        leaseID,
		StepIndex:      stepIndex,
		LeaseTo:        leaseTo,
		LeaseIssuedAt:  now.UTC().Format(time.RFC3339Nano),
		LeaseExpiresAt: now.Add(duration).UnixMilli(),
	}

	if err := l.Sessions.PutLease(ctx, sessionID, lease, l.Exclusive, now); err != nil {
		switch {
		case errors.Is(err, sessiondao.ErrNotFound):
			return sessiondao.Lease{}, ErrSessionNotFound
		case errors.Is(err, sessiondao.ErrLeaseHeld):
			return sessiondao.Lease{}, ErrLeaseContention
		default:
			return sessiondao.Lease{}, fmt.Errorf("failed to take lease on session %v: %w", sessionID, err)
		}
	}
	return lease, nil
}

// Release clears the session's lease. Releasing when no lease is held is not
// an error.
func (l *Leases) Release(ctx context.Context, sessionID string) error {
	if err := l.Sessions.ClearLease(ctx, sessionID); err != nil {
		if errors.Is(err, sessiondao.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to release lease on session %v: %w", sessionID, err)
	}
	return nil
}

// Get returns the live lease of the session, or nil when there is none or it
// has expired.
func (l *Leases) Get(ctx context.Context, sessionID string) (*sessiondao.Lease, error) {
	session, err := l.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read lease on session %v: %w", sessionID, err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return liveLease(session.ActiveLine, l.now()), nil
}

func liveLease(lease *sessiondao.Lease, now time.Time) *sessiondao.Lease {
	if lease.Expired(now) {
		return nil
	}
	return lease
}
