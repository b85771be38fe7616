// Package errors renders application errors as HTTP responses and CLI
// errors with stable codes. Every response carries a gofulmen error
// envelope.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/goharvest/pkg/engine"
)

// Error codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeConflict           = "CONFLICT"
	CodeBadRequest         = "BAD_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// AppError pairs an error envelope with the HTTP status it is served with.
type AppError struct {
	Status   int
	Envelope *gferrors.ErrorEnvelope
	Err      error
}

// New builds an AppError with a fresh envelope. Server errors are marked
// high severity, client errors low.
func New(status int, code, message string, err error) *AppError {
	severity := gferrors.SeverityLow
	if status >= http.StatusInternalServerError {
		severity = gferrors.SeverityHigh
	}
	env := gferrors.SafeWithSeverity(gferrors.NewErrorEnvelope(code, message), severity)
	return &AppError{Status: status, Envelope: env, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Envelope.Message, e.Err)
	}
	return e.Envelope.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Code returns the envelope code.
func (e *AppError) Code() string {
	return e.Envelope.Code
}

// WithFields attaches per-field messages as validated envelope context.
func (e *AppError) WithFields(fields map[string]string) *AppError {
	ctx := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		ctx[k] = v
	}
	e.Envelope = gferrors.SafeWithContext(e.Envelope, ctx)
	return e
}

// WithDetails attaches structured details to the envelope.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Envelope = e.Envelope.WithDetails(details)
	return e
}

// NewNotFound builds a 404 error.
func NewNotFound(message string) *AppError {
	return New(http.StatusNotFound, CodeNotFound, message, nil)
}

// NewValidation builds a 400 validation error.
func NewValidation(message string, err error) *AppError {
	return New(http.StatusBadRequest, CodeValidation, message, err)
}

// NewBadRequest builds a 400 error for malformed requests.
func NewBadRequest(message string, err error) *AppError {
	return New(http.StatusBadRequest, CodeBadRequest, message, err)
}

// NewConflict builds a 409 error.
func NewConflict(message string) *AppError {
	return New(http.StatusConflict, CodeConflict, message, nil)
}

// NewExternalServiceError builds a 503 error for an unavailable dependency.
func NewExternalServiceError(message string) *AppError {
	return New(http.StatusServiceUnavailable, CodeExternalService, message, nil)
}

// WrapInternal wraps err as a 500 error. The cause is kept off the wire.
func WrapInternal(_ context.Context, err error, message string) *AppError {
	return New(http.StatusInternalServerError, CodeInternal, message, err)
}

// ErrorBody is the payload of an error response.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the JSON envelope for every error response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// BodyFromEnvelope flattens env for the wire. Envelope context and
// details both land in Details; the correlation ID becomes the request ID.
func BodyFromEnvelope(env *gferrors.ErrorEnvelope) ErrorBody {
	body := ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		Severity:  string(env.Severity),
		Timestamp: env.Timestamp,
		RequestID: env.CorrelationID,
	}
	if len(env.Context)+len(env.Details) > 0 {
		body.Details = make(map[string]any, len(env.Context)+len(env.Details))
		for k, v := range env.Details {
			body.Details[k] = v
		}
		for k, v := range env.Context {
			body.Details[k] = v
		}
	}
	return body
}

// WriteEnvelope writes env as an HTTPErrorResponse with the given status.
func WriteEnvelope(w http.ResponseWriter, status int, env *gferrors.ErrorEnvelope) {
	WriteJSON(w, status, HTTPErrorResponse{Error: BodyFromEnvelope(env)})
}

// FromError classifies err. Engine validation failures become
// VALIDATION_ERROR with one context entry per field, unknown jobs become
// NOT_FOUND and anything unrecognized becomes INTERNAL_ERROR.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var verrs engine.ValidationErrors
	if stderrors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, v := range verrs {
			fields[v.Field] = v.Message
		}
		return NewValidation(verrs.Error(), err).WithFields(fields)
	}
	var verr *engine.ValidationError
	if stderrors.As(err, &verr) {
		return NewValidation(verr.Error(), err).WithFields(map[string]string{verr.Field: verr.Message})
	}

	if stderrors.Is(err, engine.ErrJobNotFound) {
		return New(http.StatusNotFound, CodeNotFound, err.Error(), err)
	}
	if stderrors.Is(err, engine.ErrClosed) {
		return New(http.StatusServiceUnavailable, CodeServiceUnavailable, err.Error(), err)
	}
	return WrapInternal(context.Background(), err, "internal error")
}

// RespondWithError writes err as an HTTPErrorResponse, tagging the
// envelope with the request ID.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := FromError(err)
	env := appErr.Envelope
	if r != nil {
		if id := middleware.GetReqID(r.Context()); id != "" {
			env = env.WithCorrelationID(id)
		}
	}
	WriteEnvelope(w, appErr.Status, env)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
