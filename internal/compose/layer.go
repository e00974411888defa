package compose

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"
)

const (
	// MaxLayers is the maximum number of overlay slots.
	MaxLayers = 10
	// MinAppendFiles is the minimum number of files in an append request.
	MinAppendFiles = 2
	// defaultMaxProbes bounds concurrent inspector calls.
	defaultMaxProbes = 4
)

// Source identifies where a layer's media comes from. It is either a FilePath
// or a BinaryRef.
type Source interface {
	isSource()
}

// FilePath is a layer source read directly from disk.
type FilePath string

// BinaryRef names a binary payload supplied alongside the request. A Builder
// resolves it to a path with its BinaryResolver.
type BinaryRef string

func (FilePath) isSource()  {}
func (BinaryRef) isSource() {}

// Slot is one user-declared overlay input.
type Slot struct {
	// Number is the 1-based slot number as declared by the caller. Numbering
	// may be sparse.
	Number int
	// Source is nil for an empty slot.
	Source Source
	// Loop repeats the layer for the full output duration.
	Loop bool
	// TrimToThis makes this layer the trim master.
	TrimToThis bool
}

// Layer is a validated, probed composition input.
type Layer struct {
	// Slot is the declared slot number (overlay) or 0-based list index (append).
	Slot         int
	Path         string
	Descriptor   MediaDescriptor
	Loop         bool
	IsTrimMaster bool
}

// LayerSet is the ordered list of usable overlay layers.
type LayerSet struct {
	Layers []Layer
	// Dropped holds slots that resolved to a file but could not be inspected.
	Dropped []*LayerError
}

// TrimMaster returns the trim master layer, if any.
func (s *LayerSet) TrimMaster() (Layer, bool) {
	for _, l := range s.Layers {
		if l.IsTrimMaster {
			return l, true
		}
	}
	return Layer{}, false
}

// BinaryResolver maps a binary payload name to a file path. It returns false
// when the payload is unknown.
type BinaryResolver func(name BinaryRef) (string, bool)

// Builder validates declared inputs and probes them into layer sets.
type Builder struct {
	inspector Inspector
	resolve   BinaryResolver
	exists    func(path string) bool
	maxProbes int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBinaryResolver sets how BinaryRef sources map to paths. The default
// treats the payload name as a path.
func WithBinaryResolver(r BinaryResolver) BuilderOption {
	return func(b *Builder) {
		b.resolve = r
	}
}

// WithMaxConcurrentProbes limits how many files are inspected in parallel.
func WithMaxConcurrentProbes(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxProbes = n
		}
	}
}

// WithExistsFunc overrides the file existence check.
func WithExistsFunc(fn func(path string) bool) BuilderOption {
	return func(b *Builder) {
		b.exists = fn
	}
}

// NewBuilder creates a Builder that probes files with inspector.
func NewBuilder(inspector Inspector, opts ...BuilderOption) *Builder {
	b := &Builder{
		inspector: inspector,
		resolve: func(name BinaryRef) (string, bool) {
			return string(name), name != ""
		},
		exists:    fileExists,
		maxProbes: defaultMaxProbes,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// probeResult is the outcome of inspecting one input, kept at its input position.
type probeResult struct {
	path       string
	descriptor MediaDescriptor
	err        error
}

// probeAll inspects paths concurrently. Results keep the order of paths; an
// empty path is not probed.
func (b *Builder) probeAll(ctx context.Context, paths []string) ([]probeResult, error) {
	results := make([]probeResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxProbes)
	for i, p := range paths {
		results[i].path = p
		if p == "" {
			continue
		}
		g.Go(func() error {
			d, err := b.inspector.Inspect(gctx, p)
			if err == nil {
				err = d.Validate()
			}
			results[i].descriptor = d
			results[i].err = err
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// resolvePath returns the on-disk path for a slot, or "" when the slot is empty,
// references an unknown payload, or points at a file that does not exist.
func (b *Builder) resolvePath(src Source) string {
	var path string
	switch s := src.(type) {
	case FilePath:
		path = string(s)
	case BinaryRef:
		p, ok := b.resolve(s)
		if !ok {
			return ""
		}
		path = p
	default:
		return ""
	}
	if path == "" || !b.exists(path) {
		return ""
	}
	return path
}

// ValidateSlots checks the declared overlay slots: at most MaxLayers, each
// slot number used once.
func ValidateSlots(slots []Slot) error {
	if len(slots) > MaxLayers {
		return ErrTooManyLayers
	}
	seen := make(map[int]bool, len(slots))
	for _, s := range slots {
		if seen[s.Number] {
			return &LayerError{Index: s.Number, Err: ErrDuplicateSlot}
		}
		seen[s.Number] = true
	}
	return nil
}

// Layers builds an overlay LayerSet from declared slots.
//
// Empty slots and slots whose file is missing are skipped silently. Slots whose
// file cannot be inspected are dropped and reported in LayerSet.Dropped. When
// several usable layers request TrimToThis, the first in declaration order
// becomes the trim master. ErrNoValidLayers is returned when nothing remains.
func (b *Builder) Layers(ctx context.Context, slots []Slot) (*LayerSet, error) {
	if err := ValidateSlots(slots); err != nil {
		return nil, err
	}

	paths := make([]string, len(slots))
	for i, s := range slots {
		paths[i] = b.resolvePath(s.Source)
	}

	results, err := b.probeAll(ctx, paths)
	if err != nil {
		return nil, err
	}

	set := &LayerSet{Layers: make([]Layer, 0, len(slots))}
	haveMaster := false
	for i, r := range results {
		if r.path == "" {
			continue
		}
		if r.err != nil {
			set.Dropped = append(set.Dropped, layerErr(slots[i].Number, r.path, ErrInspectionFailure, r.err))
			continue
		}
		master := slots[i].TrimToThis && !haveMaster
		haveMaster = haveMaster || master
		set.Layers = append(set.Layers, Layer{
			Slot:         slots[i].Number,
			Path:         r.path,
			Descriptor:   r.descriptor,
			Loop:         slots[i].Loop,
			IsTrimMaster: master,
		})
	}

	if len(set.Layers) == 0 {
		return set, ErrNoValidLayers
	}
	return set, nil
}
