package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-ledger-sync/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	log, _ := test.NewNullLogger()
	return NewClient(&config.RemoteConfig{BaseURL: srv.URL + "/", Timeout: time.Second}, log)
}

func TestClientBatch(t *testing.T) {
	var got batchRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/events/create", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(batchResponse{Results: []ItemResult{
			{EntryID: 1, Status: StatusSuccess, AssignedID: "r-1"},
			{EntryID: 2, Status: StatusError, ErrorCode: "ALREADY_EXISTS", Message: "duplicate"},
		}})
	})

	start := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	results, err := c.Create(context.Background(), "a@example.com", []Item{
		{EntryID: 1, LogicalID: "uid-1", Start: start, End: start.Add(time.Hour)},
		{EntryID: 2, LogicalID: "uid-2", Start: start, End: start.Add(time.Hour)},
	})
	require.NoError(t, err)

	assert.Equal(t, "a@example.com", got.Mailbox)
	require.Len(t, got.Items, 2)
	assert.True(t, got.Items[0].Start.Equal(start))

	require.Len(t, results, 2)
	assert.True(t, results[0].OK())
	assert.Equal(t, "r-1", results[0].AssignedID)
	assert.False(t, results[1].OK())
	assert.Equal(t, "ALREADY_EXISTS", results[1].ErrorCode)
}

func TestClientUpdateAndDeletePaths(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"results":[]}`))
	})

	ctx := context.Background()
	_, err := c.Update(ctx, "a@example.com", []Item{{EntryID: 1}})
	require.NoError(t, err)
	_, err = c.Delete(ctx, "a@example.com", []Item{{EntryID: 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/v1/events/update", "/v1/events/delete"}, paths)
}

func TestClientHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	_, err := c.Delete(context.Background(), "a@example.com", []Item{{EntryID: 1}})
	require.Error(t, err)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Code)
	assert.Equal(t, "unavailable", httpErr.Body)
}

func TestClientGetAll(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, []string{"a@example.com", "b@example.com"}, r.URL.Query()["mailbox"])
		assert.Equal(t, "2024-01-01T00:00:00Z", r.URL.Query().Get("start"))
		w.Write([]byte(`{"events":[{"remote_id":"r-1","mailbox":"a@example.com","logical_id":"uid-1",` +
			`"start":"2024-01-10T09:00:00Z","end":"2024-01-10T10:00:00Z"}]}`))
	})

	events, err := c.GetAll(context.Background(), []string{"a@example.com", "b@example.com"},
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "r-1", events[0].RemoteID)
	assert.Equal(t, "uid-1", events[0].LogicalID)
	assert.Equal(t, 9, events[0].Start.Hour())
}

func TestClientBadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	_, err := c.GetAll(context.Background(), nil, time.Now(), time.Now())
	assert.Error(t, err)
}
