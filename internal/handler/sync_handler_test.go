package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"cfdb/internal/apperr"
	"cfdb/internal/middleware"
	"cfdb/internal/model"
)

// fakeSyncService returns canned responses.
type fakeSyncService struct {
	triggerErr error
	gotDCCs    []string
	lock       *model.SyncLock
}

func (f *fakeSyncService) Trigger(ctx context.Context, dccNames []string) (*model.SyncTask, error) {
	f.gotDCCs = dccNames
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	return &model.SyncTask{ID: "task-1", DCCNames: []string{"hubmap"}, Status: model.TaskRunning}, nil
}

func (f *fakeSyncService) Status(ctx context.Context, taskID string) (*model.SyncTask, error) {
	if taskID == "missing" {
		return nil, nil
	}
	return &model.SyncTask{ID: "task-1", Status: model.TaskCompleted}, nil
}

func (f *fakeSyncService) Lock(ctx context.Context) (*model.SyncLock, error) {
	return f.lock, nil
}

func newSyncRouter(svc *fakeSyncService, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSyncHandler(svc)
	group := r.Group("/sync")
	group.Use(middleware.APIKeyAuth(apiKey))
	{
		group.POST("", h.Trigger)
		group.GET("/status", h.Status)
	}
	return r
}

func doSync(r *gin.Engine, method, path, apiKey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSyncUnconfiguredKeyIsServerError(t *testing.T) {
	r := newSyncRouter(&fakeSyncService{}, "")
	w := doSync(r, http.MethodPost, "/sync", "whatever", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSyncWrongKeyUnauthorized(t *testing.T) {
	r := newSyncRouter(&fakeSyncService{}, "right-key")
	w := doSync(r, http.MethodPost, "/sync", "wrong-key", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doSync(r, http.MethodPost, "/sync", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSyncAccepted(t *testing.T) {
	svc := &fakeSyncService{}
	r := newSyncRouter(svc, "right-key")
	w := doSync(r, http.MethodPost, "/sync", "right-key", `{"dccs":["hubmap"]}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, []string{"hubmap"}, svc.gotDCCs)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "task-1", body["task_id"])
	require.Equal(t, model.TaskRunning, body["status"])
}

func TestSyncAcceptedRepeatedQueryParams(t *testing.T) {
	svc := &fakeSyncService{}
	r := newSyncRouter(svc, "right-key")
	w := doSync(r, http.MethodPost, "/sync?dccs=4dn&dccs=hubmap", "right-key", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, []string{"4dn", "hubmap"}, svc.gotDCCs)

	// Comma form still works too.
	svc = &fakeSyncService{}
	r = newSyncRouter(svc, "right-key")
	w = doSync(r, http.MethodPost, "/sync?dccs=4dn,hubmap", "right-key", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, []string{"4dn", "hubmap"}, svc.gotDCCs)
}

func TestSyncConflictMapped(t *testing.T) {
	svc := &fakeSyncService{triggerErr: apperr.New(apperr.Conflict, "a sync is already in progress")}
	r := newSyncRouter(svc, "right-key")
	w := doSync(r, http.MethodPost, "/sync", "right-key", "")
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestSyncStatusEndpoint(t *testing.T) {
	r := newSyncRouter(&fakeSyncService{lock: &model.SyncLock{ID: model.SyncLockID, Active: true}}, "right-key")

	w := doSync(r, http.MethodGet, "/sync/status", "right-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body, "task")
	require.Contains(t, body, "lock")

	w = doSync(r, http.MethodGet, "/sync/status", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Nothing on record at all: no task and no lock document yet.
	bare := newSyncRouter(&fakeSyncService{}, "right-key")
	w = doSync(bare, http.MethodGet, "/sync/status?task_id=missing", "right-key", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}
