// Package compose plans multi-layer media compositions.
//
// It turns an ordered set of probed media layers into an ExecutionPlan: the
// ordered engine inputs, a filter graph chaining video overlays and mixing or
// concatenating audio, the output stream labels, and the output duration.
// Two modes are supported: overlay (layers play simultaneously, later layers
// drawn on top) and append (inputs joined end to end).
//
// Planning is pure. Probing is delegated to an Inspector and execution is left
// to the caller.
package compose

import (
	"context"
	"fmt"
)

// StillImageThreshold is the duration, in seconds, below which a source with a
// video stream is treated as a still image. Inspectors report a near-zero
// duration for single-frame sources.
const StillImageThreshold = 0.1

// MediaDescriptor holds the facts about one input that planning depends on.
type MediaDescriptor struct {
	// DurationSeconds is the container duration reported by the inspector.
	DurationSeconds float64
	// HasVideo is true when the source carries at least one video stream.
	HasVideo bool
	// HasAudio is true when the source carries at least one audio stream.
	HasAudio bool
}

// NewDescriptor creates a MediaDescriptor and validates it.
func NewDescriptor(durationSeconds float64, hasVideo, hasAudio bool) (MediaDescriptor, error) {
	d := MediaDescriptor{
		DurationSeconds: durationSeconds,
		HasVideo:        hasVideo,
		HasAudio:        hasAudio,
	}
	if err := d.Validate(); err != nil {
		return MediaDescriptor{}, err
	}
	return d, nil
}

// IsStillImage reports whether the descriptor describes a still image.
func (d MediaDescriptor) IsStillImage() bool {
	return d.HasVideo && d.DurationSeconds < StillImageThreshold
}

// Validate returns ErrInvalidDescriptor when the descriptor has no streams or a
// negative duration.
func (d MediaDescriptor) Validate() error {
	if !d.HasVideo && !d.HasAudio {
		return fmt.Errorf("%w: no audio or video stream", ErrInvalidDescriptor)
	}
	if d.DurationSeconds < 0 {
		return fmt.Errorf("%w: negative duration %.3f", ErrInvalidDescriptor, d.DurationSeconds)
	}
	return nil
}

// Inspector probes a media file. Implementations must be safe for concurrent use.
type Inspector interface {
	Inspect(ctx context.Context, path string) (MediaDescriptor, error)
}

// InspectorFunc adapts a function to the Inspector interface.
type InspectorFunc func(ctx context.Context, path string) (MediaDescriptor, error)

// Inspect calls f(ctx, path).
func (f InspectorFunc) Inspect(ctx context.Context, path string) (MediaDescriptor, error) {
	return f(ctx, path)
}
