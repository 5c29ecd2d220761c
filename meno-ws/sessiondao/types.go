package sessiondao

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrCodeTaken = errors.New("session code already in use")
	ErrFull      = errors.New("session is full")
	ErrLeaseHeld = errors.New("active line is leased to another participant")
)

type Participant struct {
	ParticipantID string `dynamodbav:"participant_id" json:"participantId"`
	Name          string `dynamodbav:"name" json:"name"`
	Role          string `dynamodbav:"role" json:"role"`
	JoinedAt      string `dynamodbav:"joined_at" json:"joinedAt"`
}

// Lease is the active line lock of a session. LeaseExpiresAt is in unix
// milliseconds.
type Lease struct {
	LeaseID        string `dynamodbav:"lease_id" json:"leaseId"`
	StepIndex      int    `dynamodbav:"step_index" json:"stepIndex"`
	LeaseTo        string `dynamodbav:"lease_to" json:"leaseTo"`
	LeaseIssuedAt  string `dynamodbav:"lease_issued_at" json:"leaseIssuedAt"`
	LeaseExpiresAt int64  `dynamodbav:"lease_expires_at" json:"leaseExpiresAt"`
}

// Expired reports whether the lease has lapsed. An expired lease is treated
// exactly like an absent one.
func (l *Lease) Expired(now time.Time) bool {
	return l == nil || l.LeaseExpiresAt < now.UnixMilli()
}

// Session is an entry of the session registry. ExpiresAt is the table's TTL
// attribute, in unix seconds.
type Session struct {
	SessionID            string                 `dynamodbav:"pk" ddb:"hash" json:"sessionId"`
	Code                 string                 `dynamodbav:"code" ddb:"gsi_hash:CodeIndex" json:"code"`
	Name                 string                 `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Difficulty           string                 `dynamodbav:"difficulty,omitempty" json:"difficulty,omitempty"`
	CreatorParticipantID string                 `dynamodbav:"creator_participant_id" json:"creatorParticipantId"`
	CreatedAt            string                 `dynamodbav:"created_at" json:"createdAt"`
	ExpiresAt            int64                  `dynamodbav:"expires_at" json:"expiresAt"`
	MaxParticipants      int                    `dynamodbav:"max_participants" json:"maxParticipants"`
	Participants         map[string]Participant `dynamodbav:"participants" json:"-"`
	ActiveLine           *Lease                 `dynamodbav:"active_line,omitempty" json:"activeLine"`
}

// Expired reports whether the session is past its expiry.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && s.ExpiresAt < now.Unix()
}

// HasParticipant reports whether the participant already joined the session.
func (s Session) HasParticipant(participantID string) bool {
	_, ok := s.Participants[participantID]
	return ok
}

// ParticipantList returns the participants ordered by the time they joined.
func (s Session) ParticipantList() []Participant {
	list := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt == list[j].JoinedAt {
			return list[i].ParticipantID < list[j].ParticipantID
		}
		return list[i].JoinedAt < list[j].JoinedAt
	})
	return list
}
