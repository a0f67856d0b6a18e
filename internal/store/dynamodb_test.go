package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/edge-events/internal/config"
	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/query"
	"github.com/GabrielNunesIT/edge-events/internal/testutil"
	"github.com/GabrielNunesIT/edge-events/internal/testutil/mocks"
)

const testTable = "events"

func newTestDynamoStore(t *testing.T, client DynamoAPI) *DynamoStore {
	t.Helper()

	base, ceiling := retryBaseDelay, retryMaxDelay
	retryBaseDelay, retryMaxDelay = time.Millisecond, 5*time.Millisecond
	t.Cleanup(func() { retryBaseDelay, retryMaxDelay = base, ceiling })

	return NewDynamoStore(config.DynamoDBConfig{Table: testTable, WriteRetries: 2}, client, testutil.NewTestLogger())
}

func makeEvents(n int) []model.Event {
	events := make([]model.Event, n)
	for i := range events {
		events[i] = model.Event{
			ID:        fmt.Sprintf("ev-%03d", i),
			Timestamp: int64(1705314600 + i),
			Data:      model.PropertyBag{"N": float64(i)},
		}
	}
	return events
}

func requestIDs(t *testing.T, in *dynamodb.BatchWriteItemInput) []string {
	t.Helper()
	var ids []string
	for _, req := range in.RequestItems[testTable] {
		var it dynamoItem
		require.NoError(t, attributevalue.UnmarshalMap(req.PutRequest.Item, &it))
		ids = append(ids, it.ID)
	}
	return ids
}

func TestDynamoStore_WriteChunks(t *testing.T) {
	client := mocks.NewDynamoAPI(t)
	s := newTestDynamoStore(t, client)

	var sizes []int
	client.On("BatchWriteItem", mock.Anything, mock.Anything).
		Return(&dynamodb.BatchWriteItemOutput{}, nil).
		Run(func(args mock.Arguments) {
			in := args.Get(1).(*dynamodb.BatchWriteItemInput)
			sizes = append(sizes, len(in.RequestItems[testTable]))
		})

	require.NoError(t, s.Write(context.Background(), makeEvents(60)))
	assert.Equal(t, []int{25, 25, 10}, sizes)
}

func TestDynamoStore_WriteDeduplicates(t *testing.T) {
	client := mocks.NewDynamoAPI(t)
	s := newTestDynamoStore(t, client)

	events := []model.Event{
		{ID: "a", Timestamp: 1, UserAgent: "first"},
		{ID: "b", Timestamp: 2},
		{ID: "a", Timestamp: 3, UserAgent: "second"},
	}

	client.On("BatchWriteItem", mock.Anything, mock.Anything).
		Return(&dynamodb.BatchWriteItemOutput{}, nil).
		Once().
		Run(func(args mock.Arguments) {
			in := args.Get(1).(*dynamodb.BatchWriteItemInput)
			assert.Equal(t, []string{"a", "b"}, requestIDs(t, in))

			var it dynamoItem
			require.NoError(t, attributevalue.UnmarshalMap(in.RequestItems[testTable][0].PutRequest.Item, &it))
			assert.Equal(t, "second", it.UserAgent)
			assert.Equal(t, query.DefaultSource, it.Source)
		})

	require.NoError(t, s.Write(context.Background(), events))
}

func TestDynamoStore_WriteRetriesUnprocessed(t *testing.T) {
	tests := []struct {
		name        string
		leftovers   int
		expectCalls int
		expectError bool
	}{
		{name: "Recovered", leftovers: 1, expectCalls: 2},
		{name: "Exhausted", leftovers: 10, expectCalls: 3, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mocks.NewDynamoAPI(t)
			s := newTestDynamoStore(t, client)

			calls := 0
			client.On("BatchWriteItem", mock.Anything, mock.Anything).
				Return(func(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
					calls++
					if calls > tt.leftovers {
						return &dynamodb.BatchWriteItemOutput{}, nil
					}
					return &dynamodb.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
				})

			err := s.Write(context.Background(), makeEvents(3))
			if tt.expectError {
				assert.ErrorContains(t, err, "unprocessed")
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectCalls, calls)
		})
	}
}

func TestDynamoStore_WriteError(t *testing.T) {
	client := mocks.NewDynamoAPI(t)
	s := newTestDynamoStore(t, client)

	client.On("BatchWriteItem", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	assert.ErrorContains(t, s.Write(context.Background(), makeEvents(1)), "throttled")
}

func keyItem(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{query.AttrID: &types.AttributeValueMemberS{Value: id}}
}

func fullItem(t *testing.T, id string) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(toItem(model.Event{ID: id, Timestamp: 100, Data: model.PropertyBag{"K": "v"}}, "Website"))
	require.NoError(t, err)
	return av
}

func TestDynamoStore_Query(t *testing.T) {
	client := mocks.NewDynamoAPI(t)
	s := newTestDynamoStore(t, client)

	f, err := model.NewFilter(model.RawFilter{}, model.FilterOptions{})
	require.NoError(t, err)
	q := s.Compiler().Compile(f)

	// Two result pages of keys: e5..e3 then e2..e1.
	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey == nil
	})).Return(&dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{keyItem("e5"), keyItem("e4"), keyItem("e3")},
		LastEvaluatedKey: keyItem("e3"),
	}, nil).Once().Run(func(args mock.Arguments) {
		in := args.Get(1).(*dynamodb.QueryInput)
		assert.Equal(t, testTable, aws.ToString(in.TableName))
		assert.Equal(t, query.DefaultIndex, aws.ToString(in.IndexName))
		assert.False(t, aws.ToBool(in.ScanIndexForward))
		assert.Contains(t, in.ExpressionAttributeValues, ":v_source")
	})
	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey != nil
	})).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{keyItem("e2"), keyItem("e1")},
	}, nil).Once()

	// Page 2 of size 2 is e3, e2; the backend answers out of order.
	client.On("BatchGetItem", mock.Anything, mock.Anything).Return(&dynamodb.BatchGetItemOutput{
		Responses: map[string][]map[string]types.AttributeValue{
			testTable: {fullItem(t, "e2"), fullItem(t, "e3")},
		},
	}, nil).Once().Run(func(args mock.Arguments) {
		in := args.Get(1).(*dynamodb.BatchGetItemInput)
		assert.Len(t, in.RequestItems[testTable].Keys, 2)
	})

	events, total, err := s.Query(context.Background(), q, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, events, 2)
	assert.Equal(t, "e3", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
	assert.Equal(t, model.PropertyBag{"K": "v"}, events[0].Data)
}

func TestDynamoStore_QueryPastLastPage(t *testing.T) {
	client := mocks.NewDynamoAPI(t)
	s := newTestDynamoStore(t, client)

	f, err := model.NewFilter(model.RawFilter{}, model.FilterOptions{})
	require.NoError(t, err)

	client.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{keyItem("e1")},
	}, nil).Once()

	events, total, err := s.Query(context.Background(), s.Compiler().Compile(f), 10, 3)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, int64(1), total)
}

func TestDynamoStore_QueryAliasesDataProperties(t *testing.T) {
	client := mocks.NewDynamoAPI(t)
	s := newTestDynamoStore(t, client)

	f, err := model.NewFilter(model.RawFilter{Conditions: []model.RawCondition{
		{Property: "Status", Operator: "=", Value: "ok"},
	}}, model.FilterOptions{})
	require.NoError(t, err)

	client.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil).Once().Run(func(args mock.Arguments) {
		in := args.Get(1).(*dynamodb.QueryInput)
		assert.Equal(t, "event_data.#p1 = :v_Status", aws.ToString(in.FilterExpression))
		assert.Equal(t, map[string]string{"#p1": "Status"}, in.ExpressionAttributeNames)
	})

	events, total, err := s.Query(context.Background(), s.Compiler().Compile(f), 10, 1)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Zero(t, total)
}

func TestDynamoStore_QueryWrongVariant(t *testing.T) {
	s := newTestDynamoStore(t, mocks.NewDynamoAPI(t))

	_, _, err := s.Query(context.Background(), query.DocumentQuery{}, 10, 1)
	assert.ErrorContains(t, err, "document")
}

func TestDynamoStore_CountAll(t *testing.T) {
	client := mocks.NewDynamoAPI(t)
	s := newTestDynamoStore(t, client)

	client.On("DescribeTable", mock.Anything, mock.Anything).Return(&dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{ItemCount: aws.Int64(1234)},
	}, nil).Once()

	n, err := s.CountAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)
}

func TestDynamoStore_EnsureTableExists(t *testing.T) {
	client := mocks.NewDynamoAPI(t)
	s := newTestDynamoStore(t, client)

	client.On("DescribeTable", mock.Anything, mock.Anything).Return(&dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableStatus: types.TableStatusActive},
	}, nil).Once()

	require.NoError(t, s.EnsureTable(context.Background(), time.Second))
	client.AssertNotCalled(t, "CreateTable", mock.Anything, mock.Anything)
}

func TestDynamoStore_EnsureTableCreates(t *testing.T) {
	client := mocks.NewDynamoAPI(t)
	s := newTestDynamoStore(t, client)

	client.On("DescribeTable", mock.Anything, mock.Anything).
		Return(nil, &types.ResourceNotFoundException{Message: aws.String("missing")}).Once()
	client.On("CreateTable", mock.Anything, mock.Anything).
		Return(&dynamodb.CreateTableOutput{}, nil).Once().
		Run(func(args mock.Arguments) {
			in := args.Get(1).(*dynamodb.CreateTableInput)
			assert.Equal(t, testTable, aws.ToString(in.TableName))
			require.Len(t, in.GlobalSecondaryIndexes, 1)
			assert.Equal(t, query.DefaultIndex, aws.ToString(in.GlobalSecondaryIndexes[0].IndexName))
		})
	// The waiter passes its own option function.
	client.On("DescribeTable", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableStatus: types.TableStatusActive},
	}, nil)

	require.NoError(t, s.EnsureTable(context.Background(), 5*time.Second))
}

func TestDynamoStore_EnsureTableError(t *testing.T) {
	client := mocks.NewDynamoAPI(t)
	s := newTestDynamoStore(t, client)

	client.On("DescribeTable", mock.Anything, mock.Anything).Return(nil, errors.New("access denied")).Once()

	assert.ErrorContains(t, s.EnsureTable(context.Background(), time.Second), "access denied")
}
