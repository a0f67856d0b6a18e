package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/GabrielNunesIT/edge-events/internal/config"
	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/query"
)

// Backend limits.
const (
	maxBatchWriteItems = 25
	maxBatchGetKeys    = 100
)

// Retry backoff for unprocessed batch items.
var (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// NewDynamoClient builds a DynamoDB client from the default credential chain.
func NewDynamoClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// dynamoItem is the stored form of an Event.
type dynamoItem struct {
	ID        string            `dynamodbav:"event_id"`
	Source    string            `dynamodbav:"event_source"`
	Timestamp int64             `dynamodbav:"event_timeStamp"`
	Date      string            `dynamodbav:"event_date,omitempty"`
	Time      string            `dynamodbav:"event_time,omitempty"`
	UserAgent string            `dynamodbav:"event_userAgent,omitempty"`
	IPAddress string            `dynamodbav:"event_ipAddress,omitempty"`
	Location  string            `dynamodbav:"event_location,omitempty"`
	Data      model.PropertyBag `dynamodbav:"event_data"`
}

func toItem(ev model.Event, source string) dynamoItem {
	data := ev.Data
	if data == nil {
		data = model.NewPropertyBag()
	}
	return dynamoItem{
		ID:        ev.ID,
		Source:    source,
		Timestamp: ev.Timestamp,
		Date:      ev.Date,
		Time:      ev.Time,
		UserAgent: ev.UserAgent,
		IPAddress: ev.IPAddress,
		Location:  ev.Location,
		Data:      data,
	}
}

func (it dynamoItem) event() model.Event {
	data := it.Data
	if data == nil {
		data = model.NewPropertyBag()
	}
	return model.Event{
		ID:        it.ID,
		Timestamp: it.Timestamp,
		Date:      it.Date,
		Time:      it.Time,
		UserAgent: it.UserAgent,
		IPAddress: it.IPAddress,
		Location:  it.Location,
		Data:      data,
	}
}

// DynamoStore stores one item per event, keyed by event ID, with a global
// secondary index on source and timestamp.
type DynamoStore struct {
	cfg    config.DynamoDBConfig
	client DynamoAPI
	log    *zap.SugaredLogger
}

// NewDynamoStore creates a store on client.
func NewDynamoStore(cfg config.DynamoDBConfig, client DynamoAPI, log *zap.SugaredLogger) *DynamoStore {
	if cfg.Index == "" {
		cfg.Index = query.DefaultIndex
	}
	if cfg.Source == "" {
		cfg.Source = query.DefaultSource
	}
	return &DynamoStore{cfg: cfg, client: client, log: log.Named("dynamodb")}
}

// Compiler implements query.Store.
func (s *DynamoStore) Compiler() query.Compiler {
	return query.ScanCompiler{Table: s.cfg.Table, Index: s.cfg.Index, Source: s.cfg.Source}
}

// Write puts events in requests of at most 25 items. Duplicate IDs within
// events collapse to the last one, as a single request rejects duplicates.
func (s *DynamoStore) Write(ctx context.Context, events []model.Event) error {
	requests := make([]types.WriteRequest, 0, len(events))
	position := make(map[string]int, len(events))

	for _, ev := range events {
		av, err := attributevalue.MarshalMap(toItem(ev, s.cfg.Source))
		if err != nil {
			return fmt.Errorf("encoding event %s: %w", ev.ID, err)
		}
		req := types.WriteRequest{PutRequest: &types.PutRequest{Item: av}}

		if i, dup := position[ev.ID]; dup {
			requests[i] = req
			continue
		}
		position[ev.ID] = len(requests)
		requests = append(requests, req)
	}

	for start := 0; start < len(requests); start += maxBatchWriteItems {
		end := min(start+maxBatchWriteItems, len(requests))
		if err := s.batchWrite(ctx, requests[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoStore) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.cfg.Table: requests}

	for attempt := 0; ; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch write: %w", err)
		}

		pending = out.UnprocessedItems
		left := len(pending[s.cfg.Table])
		if left == 0 {
			return nil
		}
		if attempt >= s.cfg.WriteRetries {
			return fmt.Errorf("batch write: %d items unprocessed after %d retries", left, attempt)
		}

		s.log.Debugf("Retrying unprocessed items: count=%d, attempt=%d", left, attempt+1)
		if err := sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
}

// Query runs a ScanQuery. All matching keys are collected first so the
// total is exact; only the requested page is then fetched in full.
func (s *DynamoStore) Query(ctx context.Context, q query.BackendQuery, pageSize, page int) ([]model.Event, int64, error) {
	sq, ok := q.(*query.ScanQuery)
	if !ok {
		return nil, 0, fmt.Errorf("dynamodb cannot run %s queries", q.Variant())
	}

	ids, err := s.matchingIDs(ctx, sq)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(ids))

	start := (page - 1) * pageSize
	if start >= len(ids) {
		return []model.Event{}, total, nil
	}
	ids = ids[start:min(start+pageSize, len(ids))]

	events, err := s.getEvents(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (s *DynamoStore) matchingIDs(ctx context.Context, sq *query.ScanQuery) ([]string, error) {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(sq.TableName),
		IndexName:                 aws.String(sq.IndexName),
		KeyConditionExpression:    aws.String(sq.KeyConditionExpression),
		ExpressionAttributeValues: attributeValues(sq.ExpressionAttributeValues),
		ProjectionExpression:      aws.String(sq.ProjectionExpression),
		ScanIndexForward:          aws.Bool(false),
	}
	if sq.FilterExpression != "" {
		input.FilterExpression = aws.String(sq.FilterExpression)
	}
	if len(sq.ExpressionAttributeNames) > 0 {
		input.ExpressionAttributeNames = sq.ExpressionAttributeNames
	}

	var ids []string
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}

		for _, item := range out.Items {
			var key struct {
				ID string `dynamodbav:"event_id"`
			}
			if err := attributevalue.UnmarshalMap(item, &key); err != nil {
				return nil, fmt.Errorf("decoding key: %w", err)
			}
			ids = append(ids, key.ID)
		}

		if len(out.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// getEvents fetches full items for ids and returns them in the same order.
func (s *DynamoStore) getEvents(ctx context.Context, ids []string) ([]model.Event, error) {
	byID := make(map[string]model.Event, len(ids))

	for start := 0; start < len(ids); start += maxBatchGetKeys {
		chunk := ids[start:min(start+maxBatchGetKeys, len(ids))]
		keys := make([]map[string]types.AttributeValue, 0, len(chunk))
		for _, id := range chunk {
			keys = append(keys, map[string]types.AttributeValue{
				query.AttrID: &types.AttributeValueMemberS{Value: id},
			})
		}

		pending := map[string]types.KeysAndAttributes{s.cfg.Table: {Keys: keys}}
		for attempt := 0; len(pending[s.cfg.Table].Keys) > 0; attempt++ {
			if attempt > 0 {
				if attempt > s.cfg.WriteRetries {
					return nil, fmt.Errorf("batch get: keys unprocessed after %d retries", attempt-1)
				}
				if err := sleep(ctx, backoff(attempt-1)); err != nil {
					return nil, err
				}
			}

			out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
			if err != nil {
				return nil, fmt.Errorf("batch get: %w", err)
			}

			for _, item := range out.Responses[s.cfg.Table] {
				var it dynamoItem
				if err := attributevalue.UnmarshalMap(item, &it); err != nil {
					return nil, fmt.Errorf("decoding item: %w", err)
				}
				byID[it.ID] = it.event()
			}
			pending = out.UnprocessedKeys
		}
	}

	events := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		// Items deleted between query and fetch are skipped.
		if ev, ok := byID[id]; ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// CountAll returns the table's item count. The backend refreshes it roughly
// every six hours.
func (s *DynamoStore) CountAll(ctx context.Context) (int64, error) {
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.cfg.Table)})
	if err != nil {
		return 0, fmt.Errorf("describing table: %w", err)
	}
	if out.Table == nil {
		return 0, nil
	}
	return aws.ToInt64(out.Table.ItemCount), nil
}

// EnsureTable creates the table and its index unless the table exists, and
// waits for it to become active.
func (s *DynamoStore) EnsureTable(ctx context.Context, wait time.Duration) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.cfg.Table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describing table: %w", err)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.cfg.Table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(query.AttrID), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(query.AttrSource), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(query.AttrTimestamp), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(query.AttrID), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(s.cfg.Index),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(query.AttrSource), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(query.AttrTimestamp), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	})
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}

	s.log.Infof("Created table: table=%s, index=%s", s.cfg.Table, s.cfg.Index)

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.cfg.Table)}, wait); err != nil {
		return fmt.Errorf("waiting for table: %w", err)
	}
	return nil
}

func attributeValues(values map[string]query.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(values))
	for name, v := range values {
		switch v.Type {
		case query.TypeNumber:
			out[name] = &types.AttributeValueMemberN{Value: v.Value}
		case query.TypeBool:
			out[name] = &types.AttributeValueMemberBOOL{Value: v.Value == "true"}
		default:
			out[name] = &types.AttributeValueMemberS{Value: v.Value}
		}
	}
	return out
}

func backoff(attempt int) time.Duration {
	d := retryBaseDelay << attempt
	if d <= 0 || d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
