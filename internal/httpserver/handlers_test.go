package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/ratelimit"
)

func testServer(t *testing.T) (*Server, *progress.MemStore) {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := progress.NewMemStore()
	limiter := ratelimit.New(100, log)
	return NewServer(config.Default(), store, limiter, log), store
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProgressListsRecords(t *testing.T) {
	srv, store := testServer(t)
	_, err := store.Commit(context.Background(), "pull_shark", progress.Mutation{
		StepID:     "pull_shark/merge-1",
		CountDelta: 1,
		Thresholds: []int{2, 16},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.handleProgress(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []progress.Record `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, "pull_shark", body.Items[0].Name)
	require.Equal(t, 1, body.Items[0].Count)
}

func TestProgressByName(t *testing.T) {
	srv, store := testServer(t)
	_, err := store.Commit(context.Background(), "yolo", progress.Mutation{
		StepID:     "yolo/merge-bypass",
		CountDelta: 1,
		Completed:  true,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.handleProgressByName(rec, httptest.NewRequest(http.MethodGet, "/v1/progress/yolo", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got progress.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.True(t, got.Completed)

	rec = httptest.NewRecorder()
	srv.handleProgressByName(rec, httptest.NewRequest(http.MethodGet, "/v1/progress/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateReportsBothAccounts(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.handleRate(rec, httptest.NewRequest(http.MethodGet, "/v1/rate", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]ratelimit.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Contains(t, got, "primary")
	require.Contains(t, got, "secondary")
}
