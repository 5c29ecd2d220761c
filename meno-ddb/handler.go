// Package menoddb provides the DynamoDB and DAX clients shared by the DAOs and
// a DynamoDB Streams consumer that runs under Lambda or, in console mode, by
// polling the stream directly.
package menoddb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodbstreams"
	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	"github.com/rs/zerolog"
	"github.com/savaki/ddb"
	"golang.org/x/sync/errgroup"
)

type InsertCallback func(ctx context.Context, newValue map[string]*dynamodb.AttributeValue) error
type UpdateCallback func(ctx context.Context, oldValue, newValue map[string]*dynamodb.AttributeValue) error
type DeleteCallback func(ctx context.Context, oldValue map[string]*dynamodb.AttributeValue) error

// pollInterval is how long a console mode shard reader waits after an empty
// GetRecords response.
const pollInterval = time.Second

type Handler struct {
	service menocli.Service
	Logger  zerolog.Logger

	onInsert InsertCallback
	onUpdate UpdateCallback
	onDelete DeleteCallback
}

func NewHandler(
	service menocli.Service,
	onInsert InsertCallback,
	onUpdate UpdateCallback,
	onDelete DeleteCallback,
) *Handler {
	return &Handler{
		service:  service,
		Logger:   menocli.Logger(service),
		onInsert: onInsert,
		onUpdate: onUpdate,
		onDelete: onDelete,
	}
}

func (h *Handler) Start(ctx context.Context) error {
	if menocli.CommonOpts.Console {
		return h.handleRealtime(ctx)
	}
	lambda.Start(h.HandleEvent)
	return nil
}

func (h *Handler) HandleEvent(ctx context.Context, event ddb.Event) error {
	ctx = h.Logger.WithContext(ctx)
	h.Logger.Trace().Int("count", len(event.Records)).Msg("handling a batch of events")
	for _, record := range event.Records {
		if err := h.HandleSingleRecord(ctx, record); err != nil {
			h.Logger.Error().Err(err).Str("event", record.EventID).Msg("unable to handle record")
			return fmt.Errorf("unable to handle record: %w", err)
		}
	}
	return nil
}

func (h *Handler) HandleSingleRecord(ctx context.Context, record ddb.Record) error {
	switch record.EventName {
	case "INSERT":
		if h.onInsert != nil {
			return h.onInsert(ctx, record.Change.NewImage)
		}

	case "MODIFY":
		if h.onUpdate != nil {
			return h.onUpdate(ctx, record.Change.OldImage, record.Change.NewImage)
		}

	case "REMOVE":
		if h.onDelete != nil {
			return h.onDelete(ctx, record.Change.OldImage)
		}
	}
	return nil
}

func (h *Handler) handleRealtime(ctx context.Context) error {
	sess := session.Must(session.NewSession(aws.NewConfig()))
	streams := dynamodbstreams.New(sess)
	ss, err := streams.ListStreamsWithContext(ctx, &dynamodbstreams.ListStreamsInput{
		TableName: aws.String(DDBOpts.TableName),
	})
	if err != nil {
		return fmt.Errorf("unable to list streams for table %v: %w", DDBOpts.TableName, err)
	}
	if len(ss.Streams) != 1 {
		return fmt.Errorf("too few or too many streams (%v) for table %v", len(ss.Streams), DDBOpts.TableName)
	}
	stream := ss.Streams[0]

	var shards []*dynamodbstreams.Shard
	var lastShard *string
	for {
		ds, err := streams.DescribeStreamWithContext(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             stream.StreamArn,
			ExclusiveStartShardId: lastShard,
		})
		if err != nil {
			return fmt.Errorf("unable to describe stream %v: %w", *stream.StreamArn, err)
		}
		shards = append(shards, ds.StreamDescription.Shards...)
		if ds.StreamDescription.LastEvaluatedShardId == nil {
			break
		}
		lastShard = ds.StreamDescription.LastEvaluatedShardId
	}

	ctx = h.Logger.WithContext(ctx)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(256)

	h.Logger.Info().Str("tableName", DDBOpts.TableName).Int("shardCount", len(shards)).Msg("responding to stream events")

	for _, shard := range shards {
		shard := shard
		group.Go(func() error {
			return h.readShard(ctx, streams, stream.StreamArn, shard.ShardId)
		})
	}
	return group.Wait()
}

func (h *Handler) readShard(ctx context.Context, streams *dynamodbstreams.DynamoDBStreams, streamArn, shardID *string) error {
	it, err := streams.GetShardIteratorWithContext(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         streamArn,
		ShardId:           shardID,
		ShardIteratorType: aws.String(dynamodbstreams.ShardIteratorTypeLatest),
	})
	if err != nil {
		return fmt.Errorf("unable to get shard iterator: %w", err)
	}

	for iterator := it.ShardIterator; iterator != nil; {
		records, err := streams.GetRecordsWithContext(ctx, &dynamodbstreams.GetRecordsInput{
			ShardIterator: iterator,
		})
		if err != nil {
			return fmt.Errorf("unable to get records: %w", err)
		}
		for _, record := range records.Records {
			// the lambda event type is nicer to work with than the streams api type
			raw, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("unable to marshal record: %w", err)
			}
			var ddbr ddb.Record
			if err := json.Unmarshal(raw, &ddbr); err != nil {
				return fmt.Errorf("unable to unmarshal record: %w", err)
			}
			if err := h.HandleSingleRecord(ctx, ddbr); err != nil {
				return fmt.Errorf("error processing record %v: %w", ddbr.EventID, err)
			}
		}
		iterator = records.NextShardIterator

		if len(records.Records) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}
	return nil
}

func ParseItem(item map[string]*dynamodb.AttributeValue, v interface{}) error {
	if err := dynamodbattribute.UnmarshalMap(item, v); err != nil {
		return fmt.Errorf("unable to unmarshal item: %w", err)
	}
	return nil
}
