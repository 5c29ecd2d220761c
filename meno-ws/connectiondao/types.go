package connectiondao

// Connection binds a transport connection to the session participant that
// opened it. Endpoint is empty for connections held by the local dev server.
type Connection struct {
	ConnectionID  string `dynamodbav:"pk" ddb:"hash" json:"connectionId"`
	SessionID     string `dynamodbav:"session_id" ddb:"gsi_hash:SessionIndex" json:"sessionId"`
	ParticipantID string `dynamodbav:"participant_id" json:"participantId"`
	Name          string `dynamodbav:"name" json:"name"`
	Role          string `dynamodbav:"role" json:"role"`
	Client        string `dynamodbav:"client" json:"client"`
	Endpoint      string `dynamodbav:"endpoint,omitempty" json:"endpoint,omitempty"`
	ConnectedAt   int64  `dynamodbav:"connected_at" json:"connectedAt"`
	TTL           int64  `dynamodbav:"ttl" json:"ttl"`
}
