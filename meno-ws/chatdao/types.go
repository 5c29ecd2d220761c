package chatdao

// Message is one persisted chat message. SortKey orders messages within a
// session by creation time, then id.
type Message struct {
	SessionID       string                 `dynamodbav:"session_id" ddb:"hash" json:"sessionId"`
	SortKey         string                 `dynamodbav:"sort_key" ddb:"range" json:"-"`
	MessageID       string                 `dynamodbav:"message_id" json:"messageId"`
	ParticipantID   string                 `dynamodbav:"participant_id" json:"participantId"`
	ParticipantName string                 `dynamodbav:"participant_name,omitempty" json:"participantName,omitempty"`
	Role            string                 `dynamodbav:"role" json:"role"`
	Content         string                 `dynamodbav:"content" json:"content"`
	CreatedAt       string                 `dynamodbav:"created_at" json:"createdAt"`
	Meta            map[string]interface{} `dynamodbav:"meta" json:"meta"`
}

// SortKey builds the range key of a message.
func SortKey(createdAt, messageID string) string {
	return createdAt + "#" + messageID
}
