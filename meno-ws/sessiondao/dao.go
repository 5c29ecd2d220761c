package sessiondao

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

const codeIndex = "CodeIndex"

// DAO provides access to the sessions table, including the active line lease
// stored on each session item.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new sessions DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Session{}),
		api:       api,
		tableName: tableName,
	}
}

func isConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

func (d *DAO) key(sessionID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"pk": {S: aws.String(sessionID)},
	}
}

// Create stores a new session. ErrCodeTaken is returned when either the code
// or the session id is already in use.
func (d *DAO) Create(ctx context.Context, session Session) error {
	existing, err := d.FindByCode(ctx, session.Code)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrCodeTaken
	}

	item, err := dynamodbattribute.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %v: %w", session.SessionID, err)
	}

	_, err = d.api.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to create session %v: %w", session.SessionID, err)
	}
	return nil
}

// Get returns the session, or nil if there is none.
func (d *DAO) Get(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := d.table.Get(sessionID).ConsistentRead(true).ScanWithContext(ctx, &session); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %v: %w", sessionID, err)
	}
	return &session, nil
}

// FindByCode returns the session with the given join code, or nil if there is
// none.
func (d *DAO) FindByCode(ctx context.Context, code string) (*Session, error) {
	var sessions []Session
	err := d.table.Query("#Code = ?", code).
		IndexName(codeIndex).
		FindAllWithContext(ctx, &sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions by code %v: %w", code, err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// AddParticipant adds the participant to the session unless it already has
// maxParticipants members. Re-adding an existing member keeps the original
// entry.
func (d *DAO) AddParticipant(ctx context.Context, sessionID string, participant Participant, maxParticipants int) error {
	p, err := dynamodbattribute.Marshal(participant)
	if err != nil {
		return fmt.Errorf("failed to marshal participant %v: %w", participant.ParticipantID, err)
	}

	_, err = d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tableName),
		Key:              d.key(sessionID),
		UpdateExpression: aws.String("SET participants.#pid = if_not_exists(participants.#pid, :participant)"),
		ConditionExpression: aws.String("attribute_exists(pk) AND " +
			"(attribute_exists(participants.#pid) OR size(participants) < :max)"),
		ExpressionAttributeNames: map[string]*string{
			"#pid": aws.String(participant.ParticipantID),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":participant": p,
			":max":         {N: aws.String(strconv.Itoa(maxParticipants))},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return d.classifyConditionFailure(ctx, sessionID, ErrFull)
		}
		return fmt.Errorf("failed to add participant %v to session %v: %w", participant.ParticipantID, sessionID, err)
	}
	return nil
}

// PutLease overwrites the active line of the session. With exclusive set the
// write only succeeds when the current lease is absent, expired or already
// held by lease.LeaseTo; otherwise ErrLeaseHeld is returned.
func (d *DAO) PutLease(ctx context.Context, sessionID string, lease Lease, exclusive bool, now time.Time) error {
	value, err := dynamodbattribute.Marshal(lease)
	if err != nil {
		return fmt.Errorf("failed to marshal lease: %w", err)
	}

	var (
		condition = "attribute_exists(pk)"
		values    = map[string]*dynamodb.AttributeValue{":lease": value}
	)
	if exclusive {
		condition += " AND (attribute_not_exists(active_line) OR active_line.lease_expires_at < :now OR active_line.lease_to = :to)"
		values[":now"] = &dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(now.UnixMilli(), 10))}
		values[":to"] = &dynamodb.AttributeValue{S: aws.String(lease.LeaseTo)}
	}

	_, err = d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       d.key(sessionID),
		UpdateExpression:          aws.String("SET active_line = :lease"),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return d.classifyConditionFailure(ctx, sessionID, ErrLeaseHeld)
		}
		return fmt.Errorf("failed to put lease for session %v: %w", sessionID, err)
	}
	return nil
}

// ClearLease removes the active line of the session. Clearing an absent lease
// is not an error.
func (d *DAO) ClearLease(ctx context.Context, sessionID string) error {
	_, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 d.key(sessionID),
		UpdateExpression:    aws.String("REMOVE active_line"),
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to clear lease for session %v: %w", sessionID, err)
	}
	return nil
}

// classifyConditionFailure distinguishes a missing session from the other
// condition a write was guarded by.
func (d *DAO) classifyConditionFailure(ctx context.Context, sessionID string, otherwise error) error {
	session, err := d.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrNotFound
	}
	return otherwise
}
