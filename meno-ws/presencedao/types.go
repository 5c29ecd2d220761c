package presencedao

import "time"

// Record is the presence of one participant within one session. ExpiresAt is
// the table's TTL attribute, in unix seconds.
type Record struct {
	SessionID     string                 `dynamodbav:"session_id" ddb:"hash" json:"sessionId"`
	ParticipantID string                 `dynamodbav:"participant_id" ddb:"range" json:"participantId"`
	Name          string                 `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Role          string                 `dynamodbav:"role,omitempty" json:"role,omitempty"`
	Color         string                 `dynamodbav:"color,omitempty" json:"color,omitempty"`
	Status        string                 `dynamodbav:"status,omitempty" json:"status,omitempty"`
	IsTyping      bool                   `dynamodbav:"is_typing" json:"isTyping"`
	IsSpeaking    bool                   `dynamodbav:"is_speaking" json:"isSpeaking"`
	Muted         bool                   `dynamodbav:"muted" json:"muted"`
	LastSeen      string                 `dynamodbav:"last_seen" json:"lastSeen"`
	ExpiresAt     int64                  `dynamodbav:"expires_at" json:"expiresAt"`
	Extra         map[string]interface{} `dynamodbav:"extra,omitempty" json:"extra,omitempty"`
}

// Expired reports whether the record's TTL has passed, regardless of whether
// the table has physically removed it yet.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt < now.Unix()
}

// Attributes is a partial presence update. Nil fields are left untouched.
// Color is only applied when the record has no color yet. LastSeen and
// ExpiresAt are always written.
type Attributes struct {
	Name       *string
	Role       *string
	Color      *string
	Status     *string
	IsTyping   *bool
	IsSpeaking *bool
	Muted      *bool
	Extra      map[string]interface{}
	LastSeen   time.Time
	ExpiresAt  time.Time
}
