package compose

import (
	"context"
	"errors"
	"sync"
)

// fakeInspector serves canned descriptors keyed by path.
type fakeInspector struct {
	mu     sync.Mutex
	media  map[string]MediaDescriptor
	fail   map[string]error
	probed []string
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{
		media: make(map[string]MediaDescriptor),
		fail:  make(map[string]error),
	}
}

func (f *fakeInspector) with(path string, duration float64, video, audio bool) *fakeInspector {
	f.media[path] = MediaDescriptor{DurationSeconds: duration, HasVideo: video, HasAudio: audio}
	return f
}

func (f *fakeInspector) failing(path string, err error) *fakeInspector {
	f.fail[path] = err
	return f
}

func (f *fakeInspector) Inspect(_ context.Context, path string) (MediaDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, path)
	if err, ok := f.fail[path]; ok {
		return MediaDescriptor{}, err
	}
	d, ok := f.media[path]
	if !ok {
		return MediaDescriptor{}, errors.New("not found")
	}
	return d, nil
}

func (f *fakeInspector) exists(path string) bool {
	_, known := f.media[path]
	_, failing := f.fail[path]
	return known || failing
}

func (f *fakeInspector) builder(opts ...BuilderOption) *Builder {
	return NewBuilder(f, append([]BuilderOption{WithExistsFunc(f.exists)}, opts...)...)
}

// layer builds a Layer for planner tests that bypass the builder.
func layer(path string, duration float64, video, audio bool) Layer {
	return Layer{
		Path:       path,
		Descriptor: MediaDescriptor{DurationSeconds: duration, HasVideo: video, HasAudio: audio},
	}
}

func looped(l Layer) Layer {
	l.Loop = true
	return l
}

func master(l Layer) Layer {
	l.IsTrimMaster = true
	return l
}

func set(layers ...Layer) *LayerSet {
	return &LayerSet{Layers: layers}
}
