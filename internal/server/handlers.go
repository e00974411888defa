package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/mediacompose-api/internal/compose"
	"github.com/maauso/mediacompose-api/internal/job"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.ComposeService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, job creation only persists the job.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.ComposeService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(validator.WithRequiredStructEnabled()),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateOverlayJob handles POST /jobs/overlay requests.
func (h *Handlers) CreateOverlayJob(w http.ResponseWriter, r *http.Request) {
	var req OverlayRequest
	if !h.decode(w, r, &req) {
		return
	}
	input, err := overlayInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	created, ok := h.createJob(w, r, job.KindOverlay, req.PushToS3)
	if !ok {
		return
	}
	if h.enableAsyncProcess {
		h.service.SubmitOverlay(r.Context(), created.ID, input)
	}

	writeJSON(w, http.StatusAccepted, createdResponse(created))
}

// CreateAppendJob handles POST /jobs/append requests.
func (h *Handlers) CreateAppendJob(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, ok := h.createJob(w, r, job.KindAppend, req.PushToS3)
	if !ok {
		return
	}
	if h.enableAsyncProcess {
		h.service.SubmitAppend(r.Context(), created.ID, appendInput(req))
	}

	writeJSON(w, http.StatusAccepted, createdResponse(created))
}

// GetJob handles GET /jobs/{id} requests. Completed jobs that were not pushed
// to S3 carry their output inline.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.jobLookupError(w, jobID, err)
		return
	}

	resp := jobResponse(found)
	if found.Status == job.StatusCompleted && found.OutputURL == "" && found.OutputPath != "" {
		data, err := os.ReadFile(found.OutputPath)
		if err != nil {
			h.logger.Error("failed to read output",
				slog.String("job_id", jobID),
				slog.String("path", found.OutputPath),
				slog.String("error", err.Error()),
			)
		} else {
			resp.OutputBase64 = base64.StdEncoding.EncodeToString(data)
			resp.FileName = filepath.Base(found.OutputPath)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, jobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteJob handles DELETE /jobs/{id} requests.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobActive) {
			writeError(w, http.StatusConflict, "job is still running", "JOB_ACTIVE")
			return
		}
		h.jobLookupError(w, jobID, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PlanOverlay handles POST /plans/overlay requests: the layers are probed and
// planned but nothing is rendered.
func (h *Handlers) PlanOverlay(w http.ResponseWriter, r *http.Request) {
	var req OverlayRequest
	if !h.decode(w, r, &req) {
		return
	}
	input, err := overlayInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	res, err := h.service.PlanOverlay(r.Context(), input)
	if err != nil {
		h.planError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse(res))
}

// PlanAppend handles POST /plans/append requests.
func (h *Handlers) PlanAppend(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.PlanAppend(r.Context(), appendInput(req))
	if err != nil {
		h.planError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse(res))
}

// decode reads and validates a JSON body into dst. On failure it writes the
// error response and returns false.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("request body too large",
				slog.Int64("limit", tooLarge.Limit),
			)
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "REQUEST_TOO_LARGE")
			return false
		}
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func (h *Handlers) createJob(w http.ResponseWriter, r *http.Request, kind job.Kind, pushToS3 bool) (*job.Job, bool) {
	created, err := h.service.CreateJob(r.Context(), kind, pushToS3)
	if err != nil {
		h.logger.Error("failed to create job",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return nil, false
	}
	return created, true
}

func (h *Handlers) jobLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	h.logger.Error("job lookup failed",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
}

// planErrorCodes maps planner sentinels to HTTP status and error code.
var planErrorCodes = []struct {
	err    error
	status int
	code   string
}{
	{compose.ErrTooManyLayers, http.StatusBadRequest, "TOO_MANY_LAYERS"},
	{compose.ErrDuplicateSlot, http.StatusBadRequest, "DUPLICATE_SLOT"},
	{compose.ErrTooFewFiles, http.StatusBadRequest, "TOO_FEW_FILES"},
	{compose.ErrNoValidLayers, http.StatusUnprocessableEntity, "NO_VALID_LAYERS"},
	{compose.ErrMissingInput, http.StatusUnprocessableEntity, "MISSING_INPUT"},
	{compose.ErrUnsupportedStillImage, http.StatusUnprocessableEntity, "STILL_IMAGE_NOT_SUPPORTED"},
	{compose.ErrIncompatibleLayerKind, http.StatusUnprocessableEntity, "INCOMPATIBLE_MEDIA"},
	{compose.ErrInspectionFailure, http.StatusUnprocessableEntity, "INSPECTION_FAILED"},
	{compose.ErrNoOutputStreams, http.StatusUnprocessableEntity, "NO_OUTPUT_STREAMS"},
}

func (h *Handlers) planError(w http.ResponseWriter, err error) {
	for _, m := range planErrorCodes {
		if !errors.Is(err, m.err) {
			continue
		}
		resp := ErrorResponse{Error: err.Error(), Code: m.code}
		var le *compose.LayerError
		if errors.As(err, &le) {
			resp.Item = &le.Index
		}
		writeJSON(w, m.status, resp)
		return
	}

	h.logger.Error("planning failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "planning failed", "PLANNING_FAILED")
}

func overlayInput(req OverlayRequest) (job.OverlayInput, error) {
	input := job.OverlayInput{
		Layers:   make([]job.LayerInput, len(req.Layers)),
		PushToS3: req.PushToS3,
	}
	seen := make(map[int]bool, len(req.Layers))
	for i, l := range req.Layers {
		slot := l.Slot
		if slot == 0 {
			slot = i + 1
		}
		if seen[slot] {
			return job.OverlayInput{}, fmt.Errorf("layers: slot %d is declared more than once", slot)
		}
		seen[slot] = true

		li := job.LayerInput{
			Slot:       l.Slot,
			FilePath:   l.FilePath,
			Loop:       l.Loop,
			TrimToThis: l.TrimToThis,
		}
		if l.BinaryBase64 != "" {
			data, err := base64.StdEncoding.DecodeString(l.BinaryBase64)
			if err != nil {
				return job.OverlayInput{}, errors.New("layers: invalid base64 payload")
			}
			li.Binary = data
		}
		input.Layers[i] = li
	}
	return input, nil
}

func appendInput(req AppendRequest) job.AppendInput {
	paths := make([]string, len(req.Files))
	for i, f := range req.Files {
		paths[i] = f.Path
	}
	return job.AppendInput{Paths: paths, PushToS3: req.PushToS3}
}

func createdResponse(j *job.Job) CreateJobResponse {
	return CreateJobResponse{
		ID:     j.ID,
		Kind:   string(j.Kind),
		Status: string(j.Status),
	}
}

func jobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:              j.ID,
		Kind:            string(j.Kind),
		Status:          string(j.Status),
		Progress:        j.Progress,
		Error:           j.Error,
		Warnings:        j.Warnings,
		Inputs:          j.Inputs,
		FilterGraph:     j.FilterGraph,
		DurationSeconds: j.DurationSeconds,
		OutputURL:       j.OutputURL,
		CreatedAt:       j.CreatedAt,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

func planResponse(res *job.PlanResult) PlanResponse {
	plan := res.Plan
	resp := PlanResponse{
		Mode:        string(plan.Mode),
		Inputs:      make([]PlanInput, len(plan.Inputs)),
		FilterGraph: plan.FilterGraph,
		Maps:        make([]string, 0, 2),
		OutputExt:   plan.OutputExt(),
		Args:        plan.Args(),
	}
	for i, in := range plan.Inputs {
		resp.Inputs[i] = PlanInput{Path: in.Path, Loop: loopName(in.Loop)}
	}
	if plan.HasVideo() {
		resp.Maps = append(resp.Maps, plan.VideoLabel.String())
	}
	if plan.HasAudio() {
		resp.Maps = append(resp.Maps, plan.AudioLabel.String())
	}
	if plan.Bounded {
		d := plan.DurationSeconds
		resp.DurationSeconds = &d
	}
	for _, d := range res.Dropped {
		resp.Dropped = append(resp.Dropped, DroppedLayer{Slot: d.Index, Path: d.Path, Error: d.Err.Error()})
	}
	return resp
}

func loopName(m compose.LoopMode) string {
	switch m {
	case compose.LoopImage:
		return "image"
	case compose.LoopStream:
		return "stream"
	default:
		return ""
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
