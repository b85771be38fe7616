package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goharvest/pkg/engine"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"app error passes through", NewConflict("busy"), http.StatusConflict, CodeConflict},
		{"wrapped app error", fmt.Errorf("ctx: %w", NewNotFound("gone")), http.StatusNotFound, CodeNotFound},
		{
			"validation errors",
			engine.ValidationErrors{{Field: "source_path", Message: "is required"}},
			http.StatusBadRequest, CodeValidation,
		},
		{"job not found", fmt.Errorf("status: %w", engine.ErrJobNotFound), http.StatusNotFound, CodeNotFound},
		{"engine closed", engine.ErrClosed, http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"unknown", stderrors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantCode, got.Code())
		})
	}
}

func TestFromError_ValidationDetails(t *testing.T) {
	err := engine.ValidationErrors{
		{Field: "source_path", Message: "is required"},
		{Field: "batch_size", Message: "must be >= 1"},
	}
	got := FromError(err)
	assert.Equal(t, "is required", got.Envelope.Context["source_path"])
	assert.Equal(t, "must be >= 1", got.Envelope.Context["batch_size"])
	assert.Equal(t, gferrors.SeverityLow, got.Envelope.Severity)
}

func TestRespondWithError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x", nil)

	RespondWithError(rec, req, stderrors.New("disk on fire"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.NotContains(t, body.Error.Message, "disk on fire")
	assert.Equal(t, string(gferrors.SeverityHigh), body.Error.Severity)
	assert.NotEmpty(t, body.Error.Timestamp)
}

func TestRespondWithError_CorrelatesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/x", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "req-42"))

	RespondWithError(rec, req, fmt.Errorf("cancel: %w", engine.ErrJobNotFound))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.Equal(t, "req-42", body.Error.RequestID)
}

func TestBodyFromEnvelope(t *testing.T) {
	env := gferrors.NewErrorEnvelope(CodeValidation, "invalid input").
		WithCorrelationID("corr-123").
		WithDetails(map[string]interface{}{"checks": map[string]any{"engine": "ok"}})
	env, err := env.WithContext(map[string]interface{}{"batch_size": "must be >= 1"})
	require.NoError(t, err)

	body := BodyFromEnvelope(env)
	assert.Equal(t, CodeValidation, body.Code)
	assert.Equal(t, "corr-123", body.RequestID)
	assert.Equal(t, "must be >= 1", body.Details["batch_size"])
	assert.Contains(t, body.Details, "checks")
	assert.Equal(t, env.Timestamp, body.Timestamp)

	assert.Nil(t, BodyFromEnvelope(gferrors.NewErrorEnvelope(CodeInternal, "x")).Details)
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := stderrors.New("cause")
	err := NewBadRequest("bad", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad: cause", err.Error())
}
