package presencedao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/rs/zerolog"
	"github.com/savaki/ddb"
)

// DAO provides access to the presence table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new presence DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Record{}),
		api:       api,
		tableName: tableName,
	}
}

// updateBuilder accumulates the SET clauses of a partial update.
type updateBuilder struct {
	sets   []string
	names  map[string]*string
	values map[string]*dynamodb.AttributeValue
}

func (b *updateBuilder) set(attr string, value *dynamodb.AttributeValue) {
	b.names["#"+attr] = aws.String(attr)
	b.values[":"+attr] = value
	b.sets = append(b.sets, fmt.Sprintf("#%v = :%v", attr, attr))
}

func (b *updateBuilder) setIfNotExists(attr string, value *dynamodb.AttributeValue) {
	b.names["#"+attr] = aws.String(attr)
	b.values[":"+attr] = value
	b.sets = append(b.sets, fmt.Sprintf("#%v = if_not_exists(#%v, :%v)", attr, attr, attr))
}

// Update merges attrs into the record for (sessionID, participantID), creating
// it if needed, and returns the merged record.
func (d *DAO) Update(ctx context.Context, sessionID, participantID string, attrs Attributes) (record Record, err error) {
	defer func(begin time.Time) {
		zerolog.Ctx(ctx).Debug().
			Dur("elapsed", time.Since(begin)).
			Err(err).
			Str("session_id", sessionID).
			Str("participant_id", participantID).
			Msg("updated presence")
	}(time.Now())

	b := updateBuilder{
		names:  map[string]*string{},
		values: map[string]*dynamodb.AttributeValue{},
	}
	if attrs.Name != nil {
		b.set("name", &dynamodb.AttributeValue{S: attrs.Name})
	}
	if attrs.Role != nil {
		b.set("role", &dynamodb.AttributeValue{S: attrs.Role})
	}
	if attrs.Color != nil {
		b.setIfNotExists("color", &dynamodb.AttributeValue{S: attrs.Color})
	}
	if attrs.Status != nil {
		b.set("status", &dynamodb.AttributeValue{S: attrs.Status})
	}
	if attrs.IsTyping != nil {
		b.set("is_typing", &dynamodb.AttributeValue{BOOL: attrs.IsTyping})
	}
	if attrs.IsSpeaking != nil {
		b.set("is_speaking", &dynamodb.AttributeValue{BOOL: attrs.IsSpeaking})
	}
	if attrs.Muted != nil {
		b.set("muted", &dynamodb.AttributeValue{BOOL: attrs.Muted})
	}
	if attrs.Extra != nil {
		extra, err := dynamodbattribute.Marshal(attrs.Extra)
		if err != nil {
			return Record{}, fmt.Errorf("failed to marshal presence extra: %w", err)
		}
		b.set("extra", extra)
	}
	b.set("last_seen", &dynamodb.AttributeValue{S: aws.String(attrs.LastSeen.UTC().Format(time.RFC3339Nano))})
	b.set("expires_at", &dynamodb.AttributeValue{N: aws.String(fmt.Sprint(attrs.ExpiresAt.Unix()))})

	output, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"session_id":     {S: aws.String(sessionID)},
			"participant_id": {S: aws.String(participantID)},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(b.sets, ", ")),
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
		ReturnValues:              aws.String(dynamodb.ReturnValueAllNew),
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to update presence for %v in session %v: %w", participantID, sessionID, err)
	}

	if err := dynamodbattribute.UnmarshalMap(output.Attributes, &record); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal presence record: %w", err)
	}
	return record, nil
}

// Get returns the record for the participant, or nil if there is none. The
// record may already be past its expiry.
func (d *DAO) Get(ctx context.Context, sessionID, participantID string) (*Record, error) {
	var record Record
	if err := d.table.Get(sessionID).Range(participantID).ConsistentRead(true).ScanWithContext(ctx, &record); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get presence for %v in session %v: %w", participantID, sessionID, err)
	}
	return &record, nil
}

// List returns every stored record for the session. Rows past their expiry
// that the table has not yet reaped are included; callers filter them.
func (d *DAO) List(ctx context.Context, sessionID string) ([]Record, error) {
	var records []Record
	err := d.table.Query("#SessionID = ?", sessionID).FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence for session %v: %w", sessionID, err)
	}
	return records, nil
}
