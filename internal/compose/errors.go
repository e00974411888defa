package compose

import (
	"errors"
	"fmt"
)

// Static errors for planning.
var (
	// ErrNoValidLayers is returned when no overlay slot resolves to a usable layer.
	ErrNoValidLayers = errors.New("compose: no valid media layers provided")
	// ErrTooManyLayers is returned when more than MaxLayers slots are declared.
	ErrTooManyLayers = errors.New("compose: too many layers")
	// ErrDuplicateSlot is returned when two overlay layers declare the same slot number.
	ErrDuplicateSlot = errors.New("compose: duplicate layer slot")
	// ErrTooFewFiles is returned when an append request has fewer than MinAppendFiles entries.
	ErrTooFewFiles = errors.New("compose: append requires at least two media files")
	// ErrMissingInput is returned when an append entry has no path or the file does not exist.
	ErrMissingInput = errors.New("compose: file path is invalid or missing")
	// ErrInspectionFailure is returned when a file cannot be probed.
	ErrInspectionFailure = errors.New("compose: could not inspect file")
	// ErrIncompatibleLayerKind is returned when an append entry does not match the
	// composition kind fixed by the first file.
	ErrIncompatibleLayerKind = errors.New("compose: incompatible media kind")
	// ErrUnsupportedStillImage is returned when a still image appears in an append list.
	ErrUnsupportedStillImage = errors.New("compose: still images cannot be appended")
	// ErrInvalidDescriptor is returned for descriptors with no streams or a negative duration.
	ErrInvalidDescriptor = errors.New("compose: invalid media descriptor")
	// ErrNoOutputStreams is returned when a plan would have neither a video nor an audio output.
	ErrNoOutputStreams = errors.New("compose: plan has no output streams")
)

// LayerError ties a planning failure to the input that caused it.
// Index is the 0-based position in the declared list (append mode) or the
// 1-based slot number (overlay mode).
type LayerError struct {
	Index int
	Path  string
	Err   error
}

func (e *LayerError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("item %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *LayerError) Unwrap() error {
	return e.Err
}

// layerErr builds a LayerError whose chain carries both the sentinel and the cause.
func layerErr(index int, path string, sentinel, cause error) *LayerError {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &LayerError{Index: index, Path: path, Err: err}
}
