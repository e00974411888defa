// Package server provides the HTTP API for media composition jobs.
// DTOs are kept separate from the domain types of the job and compose packages.
package server

import "time"

// LayerRequest is one overlay layer. A layer is read from file_path or from
// the base64 payload in binary_base64.
type LayerRequest struct {
	// Slot is the declared slot number (1-10). Defaults to the list position.
	Slot         int    `json:"slot,omitempty" validate:"omitempty,min=1,max=10"`
	FilePath     string `json:"file_path,omitempty" validate:"required_without=BinaryBase64"`
	BinaryBase64 string `json:"binary_base64,omitempty" validate:"omitempty,base64"`
	// Loop repeats the layer for the whole output.
	Loop bool `json:"loop"`
	// TrimToThis makes this layer's duration the output duration.
	TrimToThis bool `json:"trim_to_this"`
}

// OverlayRequest is the body of POST /jobs/overlay and POST /plans/overlay.
type OverlayRequest struct {
	Layers   []LayerRequest `json:"layers" validate:"required,min=1,max=10,dive"`
	PushToS3 bool           `json:"push_to_s3"`
}

// MediaFile is one entry of an append list.
type MediaFile struct {
	Path string `json:"path" validate:"required"`
}

// AppendRequest is the body of POST /jobs/append and POST /plans/append.
type AppendRequest struct {
	Files    []MediaFile `json:"files" validate:"required,min=2,dive"`
	PushToS3 bool        `json:"push_to_s3"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Status      string   `json:"status"`
	Progress    int      `json:"progress"`
	Error       string   `json:"error,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Inputs      []string `json:"inputs,omitempty"`
	FilterGraph string   `json:"filter_graph,omitempty"`
	// DurationSeconds is the planned output duration for overlay jobs.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	// OutputURL is the S3 URL of the output (if push_to_s3=true and completed).
	OutputURL string `json:"output_url,omitempty"`
	// OutputBase64 is the base64-encoded output (if push_to_s3=false and completed).
	OutputBase64 string     `json:"output_base64,omitempty"`
	FileName     string     `json:"file_name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the HTTP response for GET /jobs. Outputs are not inlined.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// PlanInput is one engine input in a plan response.
type PlanInput struct {
	Path string `json:"path"`
	// Loop is "image", "stream" or empty.
	Loop string `json:"loop,omitempty"`
}

// DroppedLayer reports an overlay layer that was skipped during planning.
type DroppedLayer struct {
	Slot  int    `json:"slot"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// PlanResponse is the HTTP response for the dry-run endpoints.
type PlanResponse struct {
	Mode            string         `json:"mode"`
	Inputs          []PlanInput    `json:"inputs"`
	FilterGraph     string         `json:"filter_graph"`
	Maps            []string       `json:"maps"`
	DurationSeconds *float64       `json:"duration_seconds,omitempty"`
	OutputExt       string         `json:"output_ext"`
	Args            []string       `json:"args"`
	Dropped         []DroppedLayer `json:"dropped,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Item is the offending slot number or list position, when known.
	Item *int `json:"item,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
