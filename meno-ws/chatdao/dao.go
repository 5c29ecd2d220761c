package chatdao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the chat log table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new chat DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Message{}),
		api:       api,
		tableName: tableName,
	}
}

// Put persists a message. The sort key is derived when not already set.
func (d *DAO) Put(ctx context.Context, msg Message) error {
	if msg.SortKey == "" {
		msg.SortKey = SortKey(msg.CreatedAt, msg.MessageID)
	}
	if msg.Meta == nil {
		msg.Meta = map[string]interface{}{}
	}
	if err := d.table.Put(msg).RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to put chat message %v: %w", msg.MessageID, err)
	}
	return nil
}

// List returns up to limit of the most recent messages of the session,
// ordered oldest to newest.
func (d *DAO) List(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	output, err := d.api.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("session_id = :session_id"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":session_id": {S: aws.String(sessionID)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int64(int64(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chat for session %v: %w", sessionID, err)
	}

	var messages []Message
	if err := dynamodbattribute.UnmarshalListOfMaps(output.Items, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
