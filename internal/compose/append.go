package compose

import (
	"context"
	"errors"
)

// ConcatKind is the media kind an append composition produces.
type ConcatKind string

const (
	// VideoConcat joins video streams, with audio when every input has it.
	VideoConcat ConcatKind = "video"
	// AudioConcat joins audio streams only.
	AudioConcat ConcatKind = "audio"
)

var errNoVideoStream = errors.New("expected a video stream")
var errNoAudioStream = errors.New("expected an audio stream")
var errAudioMismatch = errors.New("audio track presence differs from the first file")

// AppendSet is the validated, homogeneous input list for an append composition.
type AppendSet struct {
	Kind ConcatKind
	// WithAudio is true when the concat output carries an audio track.
	WithAudio bool
	Layers    []Layer
}

// AppendFiles validates and probes an ordered list of files for concatenation.
//
// Every file is mandatory. The first file fixes the composition kind: video if
// it has a video stream, audio otherwise. A missing file, a probe failure, a
// still image, or a file that does not match the kind fails the whole request
// with a *LayerError naming the 0-based index. For video concatenation every
// file must agree with the first on audio presence.
func (b *Builder) AppendFiles(ctx context.Context, paths []string) (*AppendSet, error) {
	if len(paths) < MinAppendFiles {
		return nil, ErrTooFewFiles
	}

	resolved := make([]string, len(paths))
	for i, p := range paths {
		if p == "" || !b.exists(p) {
			return nil, layerErr(i, p, ErrMissingInput, nil)
		}
		resolved[i] = p
	}

	results, err := b.probeAll(ctx, resolved)
	if err != nil {
		return nil, err
	}

	set := &AppendSet{Layers: make([]Layer, 0, len(results))}
	for i, r := range results {
		if r.err != nil {
			return nil, layerErr(i, r.path, ErrInspectionFailure, r.err)
		}
		d := r.descriptor
		if d.IsStillImage() {
			return nil, layerErr(i, r.path, ErrUnsupportedStillImage, nil)
		}

		if i == 0 {
			set.Kind = AudioConcat
			if d.HasVideo {
				set.Kind = VideoConcat
			}
			set.WithAudio = d.HasAudio
		} else if err := set.compatible(d); err != nil {
			return nil, layerErr(i, r.path, ErrIncompatibleLayerKind, err)
		}

		set.Layers = append(set.Layers, Layer{
			Slot:       i,
			Path:       r.path,
			Descriptor: d,
		})
	}
	return set, nil
}

// compatible checks a non-first file against the kind fixed by the first.
func (s *AppendSet) compatible(d MediaDescriptor) error {
	switch s.Kind {
	case VideoConcat:
		if !d.HasVideo {
			return errNoVideoStream
		}
		if d.HasAudio != s.WithAudio {
			return errAudioMismatch
		}
	case AudioConcat:
		if !d.HasAudio {
			return errNoAudioStream
		}
	}
	return nil
}
