package compose

import "fmt"

// StreamKind distinguishes video and audio stream references.
type StreamKind byte

const (
	// Video selects an input's video stream.
	Video StreamKind = 'v'
	// Audio selects an input's audio stream.
	Audio StreamKind = 'a'
)

// StreamRef identifies one input's video or audio stream inside a filter graph.
type StreamRef struct {
	Input int
	Kind  StreamKind
	// First pins the reference to the first stream of its kind ("0:v:0").
	First bool
}

// String renders the reference as a filter graph pad, e.g. "[1:v]".
func (r StreamRef) String() string {
	if r.First {
		return fmt.Sprintf("[%d:%c:0]", r.Input, r.Kind)
	}
	return fmt.Sprintf("[%d:%c]", r.Input, r.Kind)
}

// LoopMode is the per-input repeat flag passed to the engine.
type LoopMode int

const (
	// LoopNone reads the input once.
	LoopNone LoopMode = iota
	// LoopImage repeats a single-frame input indefinitely.
	LoopImage
	// LoopStream restarts a timed input indefinitely.
	LoopStream
)

// Input is one engine input in slot order.
type Input struct {
	Path string
	Loop LoopMode
}

// StreamPlan is the Stream Planner's output.
type StreamPlan struct {
	Inputs []Input
	Video  []StreamRef
	Audio  []StreamRef
}

// PlanOverlayStreams assigns input slots and classifies streams for an overlay
// composition, preserving layer order.
//
// A still image always loops. A looped layer loops unless it is the trim
// master, since the trim master defines the output length.
func PlanOverlayStreams(set *LayerSet) StreamPlan {
	sp := StreamPlan{Inputs: make([]Input, 0, len(set.Layers))}
	for i, l := range set.Layers {
		in := Input{Path: l.Path}
		switch {
		case l.Descriptor.IsStillImage():
			in.Loop = LoopImage
		case l.Loop && !l.IsTrimMaster:
			in.Loop = LoopStream
		}
		sp.Inputs = append(sp.Inputs, in)

		if l.Descriptor.HasVideo {
			sp.Video = append(sp.Video, StreamRef{Input: i, Kind: Video})
		}
		if l.Descriptor.HasAudio {
			sp.Audio = append(sp.Audio, StreamRef{Input: i, Kind: Audio})
		}
	}
	return sp
}

// PlanAppendStreams assigns input slots for an append composition. No input
// loops. Every input contributes a video stream for video concatenation and an
// audio stream when the set carries audio.
func PlanAppendStreams(set *AppendSet) StreamPlan {
	sp := StreamPlan{Inputs: make([]Input, 0, len(set.Layers))}
	for i, l := range set.Layers {
		sp.Inputs = append(sp.Inputs, Input{Path: l.Path})
		if set.Kind == VideoConcat {
			sp.Video = append(sp.Video, StreamRef{Input: i, Kind: Video, First: true})
		}
		if set.WithAudio && l.Descriptor.HasAudio {
			sp.Audio = append(sp.Audio, StreamRef{Input: i, Kind: Audio, First: true})
		}
	}
	return sp
}
