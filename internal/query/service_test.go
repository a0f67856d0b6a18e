package query

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/edge-events/internal/metrics"
	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/testutil"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Compiler() Compiler {
	return DocumentCompiler{}
}

func (m *mockStore) Query(ctx context.Context, q BackendQuery, pageSize, page int) ([]model.Event, int64, error) {
	args := m.Called(ctx, q, pageSize, page)
	events, _ := args.Get(0).([]model.Event)
	return events, args.Get(1).(int64), args.Error(2)
}

func (m *mockStore) CountAll(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func encodeFilter(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestService_Handle(t *testing.T) {
	store := &mockStore{}
	store.On("Query", mock.Anything, mock.AnythingOfType("query.DocumentQuery"), 2, 3).
		Return([]model.Event{{ID: "a"}, {ID: "b"}}, int64(7), nil)
	store.On("CountAll", mock.Anything).Return(int64(50), nil)

	m := metrics.New()
	svc := NewService(store, model.FilterOptions{StrictOperators: true}, testutil.NewTestLogger(), m)

	resp := svc.Handle(context.Background(), encodeFilter(`{"resultsPerPage":2,"page":3}`))

	require.True(t, resp.Success, "errors: %v", resp.Errors)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, int64(50), resp.Data.TotalEvents)
	assert.Equal(t, int64(7), resp.Data.TotalMatchingEvents)
	assert.Equal(t, int64(4), resp.Data.TotalPages)
	assert.Equal(t, 2, resp.Data.TotalInPage)
	assert.Equal(t, 3, resp.Data.Page)
	assert.IsType(t, DocumentQuery{}, resp.Data.Query)
	assert.Len(t, resp.Data.Events, 2)
	assert.Equal(t, int64(1), m.Snapshot().QueriesTotal)
	assert.Equal(t, int64(0), m.Snapshot().QueriesFailedTotal)

	store.AssertExpectations(t)
}

func TestService_Handle_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		want    string
	}{
		{"empty", "", "query is required"},
		{"bad base64", "!!!", "not valid base64"},
		{"bad json", encodeFilter("{"), "not valid JSON"},
		{"unknown operator", encodeFilter(`{"conditions":[{"property":"a","operator":"~","value":"b"}]}`), "unknown operator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			m := metrics.New()
			svc := NewService(store, model.FilterOptions{StrictOperators: true}, testutil.NewTestLogger(), m)

			resp := svc.Handle(context.Background(), tt.encoded)

			assert.False(t, resp.Success)
			require.Len(t, resp.Errors, 1)
			assert.Contains(t, resp.Errors[0], tt.want)
			assert.NotNil(t, resp.Data.Events)
			assert.Nil(t, resp.Data.Query)
			assert.Equal(t, int64(1), m.Snapshot().QueriesFailedTotal)
			store.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestService_Handle_StoreFailure(t *testing.T) {
	store := &mockStore{}
	store.On("Query", mock.Anything, mock.Anything, 10, 1).Return(nil, int64(0), errors.New("cluster unavailable"))
	store.On("CountAll", mock.Anything).Return(int64(0), nil).Maybe()

	svc := NewService(store, model.FilterOptions{}, testutil.NewTestLogger(), nil)
	resp := svc.Handle(context.Background(), encodeFilter(`{}`))

	assert.False(t, resp.Success)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "cluster unavailable")
	assert.NotNil(t, resp.Data.Query)
}

func TestService_HandleRaw_EmptyPage(t *testing.T) {
	store := &mockStore{}
	store.On("Query", mock.Anything, mock.Anything, 10, 1).Return(nil, int64(0), nil)
	store.On("CountAll", mock.Anything).Return(int64(3), nil)

	svc := NewService(store, model.FilterOptions{}, testutil.NewTestLogger(), nil)
	resp := svc.HandleRaw(context.Background(), model.RawFilter{})

	require.True(t, resp.Success)
	assert.NotNil(t, resp.Data.Events)
	assert.Equal(t, 0, resp.Data.TotalInPage)
	assert.Equal(t, int64(0), resp.Data.TotalPages)
	assert.Equal(t, int64(3), resp.Data.TotalEvents)
}
