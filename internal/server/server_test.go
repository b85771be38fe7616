package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/goharvest/internal/errors"
	"github.com/3leaps/goharvest/internal/server/handlers"
	"github.com/3leaps/goharvest/pkg/engine"
	"github.com/3leaps/goharvest/pkg/jobregistry"
	"github.com/3leaps/goharvest/pkg/sink"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

func TestServer_Port(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"default port", 8080},
		{"custom port", 9000},
		{"zero port", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New("127.0.0.1", tt.port)
			assert.Equal(t, tt.port, srv.Port())
		})
	}
}

func TestServer_Handler(t *testing.T) {
	srv := New("127.0.0.1", 8080)
	handler := srv.Handler()
	assert.NotNil(t, handler)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	// POST to a GET-only endpoint should return 405
	req := httptest.NewRequest(http.MethodPost, "/version", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body apperrors.HTTPErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&body)
	require.NoError(t, err)

	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	// Initialize health manager for health endpoint tests
	handlers.InitHealthManager("test")

	srv := New("127.0.0.1", 0)

	endpoints := []struct {
		method string
		path   string
		want   int // expected status (200 or other success code)
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/health/live", http.StatusOK},
		{"GET", "/health/ready", http.StatusOK},
		{"GET", "/health/startup", http.StatusOK},
		{"GET", "/version", http.StatusOK},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, req)

			// Just verify route is registered and returns expected status
			assert.Equal(t, ep.want, rec.Code, "endpoint %s %s should return %d", ep.method, ep.path, ep.want)
		})
	}
}

func TestServer_JobAPINotMountedWithoutService(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.Config{}, engine.WithSink(sink.NewMemory()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestServer_JobLifecycle(t *testing.T) {
	eng := newTestEngine(t)
	srv := New("127.0.0.1", 0, WithJobService(eng))

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,text\n1,alpha\n2,beta\n"), 0o644))

	body, err := json.Marshal(map[string]any{
		"kind":        "RECORD_STREAM",
		"source_path": csvPath,
		"destination": "docs",
		"batch_size":  1,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted jobregistry.JobSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&submitted))
	assert.NotEmpty(t, submitted.ID)
	assert.Equal(t, "/api/v1/jobs/"+submitted.ID, rec.Header().Get("Location"))

	final, err := eng.Wait(context.Background(), submitted.ID)
	require.NoError(t, err)
	require.Equal(t, jobregistry.StatusCompleted, final.Status)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+submitted.ID, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got jobregistry.JobSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, jobregistry.StatusCompleted, got.Status)
	assert.Equal(t, int64(2), got.Processed)
	assert.Equal(t, int64(2), got.Batches)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=completed", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list handlers.JobListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)

	// Finished jobs cannot be cancelled.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+submitted.ID, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_SubmitValidationError(t *testing.T) {
	srv := New("127.0.0.1", 0, WithJobService(newTestEngine(t)))

	body := `{"kind":"RECORD_STREAM","source_path":"","batch_size":0}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Details, "source_path")
}

func TestServer_SubmitMalformedJSON(t *testing.T) {
	srv := New("127.0.0.1", 0, WithJobService(newTestEngine(t)))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"kind":`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "BAD_REQUEST", resp.Error.Code)
}

func TestServer_UnknownJob(t *testing.T) {
	srv := New("127.0.0.1", 0, WithJobService(newTestEngine(t)))

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/api/v1/jobs/stream_0_deadbeef", nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusNotFound, rec.Code)
			var resp apperrors.HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "NOT_FOUND", resp.Error.Code)
		})
	}
}

func TestServer_Estimate(t *testing.T) {
	srv := New("127.0.0.1", 0, WithJobService(newTestEngine(t)))

	csvPath := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,text\n1,a\n2,b\n3,c\n"), 0o644))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCount  int64
		wantState  string
	}{
		{"header skipped by default", fmt.Sprintf(`{"source_path":%q}`, csvPath), http.StatusOK, 3, "success"},
		{"header counted", fmt.Sprintf(`{"source_path":%q,"skip_header":false}`, csvPath), http.StatusOK, 4, "success"},
		{"missing file", `{"source_path":"/no/such/file.csv"}`, http.StatusOK, -1, "unable_to_estimate"},
		{"missing path", `{}`, http.StatusBadRequest, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/estimate", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp handlers.EstimateResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantCount, resp.EstimatedRecordCount)
			assert.Equal(t, tt.wantState, resp.Status)
		})
	}
}

func TestServer_Formats(t *testing.T) {
	srv := New("127.0.0.1", 0, WithJobService(newTestEngine(t)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/formats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.FormatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.SupportedExtensions, "txt")
	assert.Contains(t, resp.SupportedExtensions, "html")
	assert.Equal(t, len(resp.SupportedExtensions), resp.TotalCount)
	assert.Equal(t, engine.DefaultExtensions, resp.DefaultExtensions)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	srv := New("127.0.0.1", 0, WithTimeouts(Timeouts{Shutdown: time.Second}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
