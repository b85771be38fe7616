package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/goharvest/internal/errors"
	"github.com/3leaps/goharvest/pkg/engine"
	"github.com/3leaps/goharvest/pkg/jobregistry"
)

const maxRequestBytes = 1 << 20

// JobService is the engine surface used by the job handlers.
type JobService interface {
	Submit(ctx context.Context, cfg engine.JobConfig) (jobregistry.JobSnapshot, error)
	Status(id string) (jobregistry.JobSnapshot, error)
	Cancel(id string) bool
	List() []jobregistry.JobSnapshot
	EstimateCount(path string, skipHeader bool) int64
	SupportedExtensions() []string
}

// JobsHandler serves the /jobs, /estimate and /formats endpoints.
type JobsHandler struct {
	svc JobService
}

// NewJobsHandler wraps svc.
func NewJobsHandler(svc JobService) *JobsHandler {
	return &JobsHandler{svc: svc}
}

// Routes mounts the handler on r.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.Submit)
	r.Get("/jobs", h.List)
	r.Get("/jobs/{id}", h.Get)
	r.Delete("/jobs/{id}", h.Cancel)
	r.Post("/estimate", h.Estimate)
	r.Get("/formats", h.Formats)
}

// Submit accepts a JobConfig and returns 202 with the PENDING snapshot.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var cfg engine.JobConfig
	if err := decodeBody(r, &cfg); err != nil {
		respondWithError(w, r, err)
		return
	}

	snap, err := h.svc.Submit(r.Context(), cfg)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+snap.ID)
	apperrors.WriteJSON(w, http.StatusAccepted, snap)
}

// JobListResponse is the body of GET /jobs.
type JobListResponse struct {
	Jobs  []jobregistry.JobSnapshot `json:"jobs"`
	Count int                       `json:"count"`
}

// List returns jobs newest first, optionally filtered by ?status= and
// ?kind=.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var statusFilter *jobregistry.Status
	if raw := q.Get("status"); raw != "" {
		st, err := jobregistry.ParseStatus(raw)
		if err != nil {
			respondWithError(w, r, apperrors.NewBadRequest("invalid status filter", err))
			return
		}
		statusFilter = &st
	}
	kindFilter := jobregistry.Kind(strings.ToUpper(q.Get("kind")))
	if kindFilter != "" && !kindFilter.Valid() {
		respondWithError(w, r, apperrors.NewBadRequest(fmt.Sprintf("invalid kind filter %q", q.Get("kind")), nil))
		return
	}

	jobs := make([]jobregistry.JobSnapshot, 0)
	for _, snap := range h.svc.List() {
		if statusFilter != nil && snap.Status != *statusFilter {
			continue
		}
		if kindFilter != "" && snap.Kind != kindFilter {
			continue
		}
		jobs = append(jobs, snap)
	}
	apperrors.WriteJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// Get returns one job snapshot.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Status(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, snap)
}

// CancelResponse is the body of DELETE /jobs/{id}.
type CancelResponse struct {
	JobID     string             `json:"job_id"`
	Cancelled bool               `json:"cancelled"`
	Status    jobregistry.Status `json:"status"`
}

// Cancel requests cancellation. A job that already finished yields 409.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled := h.svc.Cancel(id)

	snap, err := h.svc.Status(id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !cancelled {
		respondWithError(w, r, apperrors.NewConflict(
			fmt.Sprintf("job %s is %s and cannot be cancelled", id, snap.Status),
		).WithFields(map[string]string{"job_id": id, "status": snap.Status.String()}))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, CancelResponse{JobID: id, Cancelled: true, Status: snap.Status})
}

// EstimateRequest is the body of POST /estimate.
type EstimateRequest struct {
	SourcePath string `json:"source_path"`
	SkipHeader *bool  `json:"skip_header,omitempty"`
}

// EstimateResponse is the body of a successful estimate.
type EstimateResponse struct {
	SourcePath           string `json:"source_path"`
	SkipHeader           bool   `json:"skip_header"`
	EstimatedRecordCount int64  `json:"estimated_record_count"`
	Status               string `json:"status"`
	Message              string `json:"message,omitempty"`
}

// Estimate counts records without decoding them. An unreadable source
// yields status "unable_to_estimate" and a count of -1.
func (h *JobsHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		respondWithError(w, r, apperrors.NewValidation("source_path is required", nil).
			WithFields(map[string]string{"source_path": "is required"}))
		return
	}
	skipHeader := true
	if req.SkipHeader != nil {
		skipHeader = *req.SkipHeader
	}

	count := h.svc.EstimateCount(req.SourcePath, skipHeader)
	resp := EstimateResponse{
		SourcePath:           req.SourcePath,
		SkipHeader:           skipHeader,
		EstimatedRecordCount: count,
		Status:               "success",
	}
	if count < 0 {
		resp.Status = "unable_to_estimate"
		resp.Message = "could not estimate record count"
	}
	apperrors.WriteJSON(w, http.StatusOK, resp)
}

// FormatsResponse is the body of GET /formats.
type FormatsResponse struct {
	SupportedExtensions []string `json:"supported_extensions"`
	DefaultExtensions   []string `json:"default_extensions"`
	TotalCount          int      `json:"total_count"`
}

// Formats lists the extensions the extractor handles.
func (h *JobsHandler) Formats(w http.ResponseWriter, _ *http.Request) {
	exts := h.svc.SupportedExtensions()
	if exts == nil {
		exts = []string{}
	}
	apperrors.WriteJSON(w, http.StatusOK, FormatsResponse{
		SupportedExtensions: exts,
		DefaultExtensions:   engine.DefaultExtensions,
		TotalCount:          len(exts),
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewBadRequest("request body is required", err)
		}
		return apperrors.NewBadRequest("invalid JSON body", err)
	}
	return nil
}
