package compose

import (
	"strconv"
	"strings"
)

// Mode is the composition mode a plan was built for.
type Mode string

const (
	// ModeOverlay layers inputs on top of each other.
	ModeOverlay Mode = "overlay"
	// ModeAppend joins inputs end to end.
	ModeAppend Mode = "append"
)

// ExecutionPlan is the fully specified engine invocation for one composition.
// It is built once and only read afterwards.
type ExecutionPlan struct {
	Mode   Mode
	Inputs []Input
	// FilterGraph is the -filter_complex text; fragments are joined with ';'.
	FilterGraph string
	// VideoLabel is empty when the output has no video.
	VideoLabel Label
	// AudioLabel is empty when the output has no audio.
	AudioLabel Label
	// DurationSeconds bounds the output when Bounded is true (overlay only).
	DurationSeconds float64
	Bounded         bool
	// OverlayChain lists the labels produced by the video overlay chain in order.
	OverlayChain []Label
}

// PlanOverlay resolves the duration, plans streams, and compiles the overlay
// filter graph for set.
func PlanOverlay(set *LayerSet) (*ExecutionPlan, error) {
	if set == nil || len(set.Layers) == 0 {
		return nil, ErrNoValidLayers
	}

	duration := ResolveDuration(set)
	sp := PlanOverlayStreams(set)

	videoFrags, videoLabel, chain := compileOverlayVideo(sp.Video)
	audioFrags, audioLabel := compileOverlayAudio(sp.Audio)
	if videoLabel == "" && audioLabel == "" {
		return nil, ErrNoOutputStreams
	}

	return &ExecutionPlan{
		Mode:            ModeOverlay,
		Inputs:          sp.Inputs,
		FilterGraph:     strings.Join(append(videoFrags, audioFrags...), ";"),
		VideoLabel:      videoLabel,
		AudioLabel:      audioLabel,
		DurationSeconds: duration,
		Bounded:         true,
		OverlayChain:    chain,
	}, nil
}

// PlanAppend compiles the concat graph for set.
func PlanAppend(set *AppendSet) (*ExecutionPlan, error) {
	if set == nil || len(set.Layers) < MinAppendFiles {
		return nil, ErrTooFewFiles
	}

	sp := PlanAppendStreams(set)
	graph, videoLabel, audioLabel := compileConcat(len(sp.Inputs), sp.Video, sp.Audio)
	if videoLabel == "" && audioLabel == "" {
		return nil, ErrNoOutputStreams
	}

	return &ExecutionPlan{
		Mode:        ModeAppend,
		Inputs:      sp.Inputs,
		FilterGraph: graph,
		VideoLabel:  videoLabel,
		AudioLabel:  audioLabel,
	}, nil
}

// HasVideo reports whether the plan produces a video stream.
func (p *ExecutionPlan) HasVideo() bool {
	return p.VideoLabel != ""
}

// HasAudio reports whether the plan produces an audio stream.
func (p *ExecutionPlan) HasAudio() bool {
	return p.AudioLabel != ""
}

// OutputExt returns the container extension for the plan's output.
func (p *ExecutionPlan) OutputExt() string {
	if p.HasVideo() {
		return ".mp4"
	}
	return ".mp3"
}

// InputPaths returns the input paths in slot order.
func (p *ExecutionPlan) InputPaths() []string {
	paths := make([]string, len(p.Inputs))
	for i, in := range p.Inputs {
		paths[i] = in.Path
	}
	return paths
}

// Args flattens the plan into engine arguments: inputs with their loop flags,
// the filter graph, one -map per output label and the duration bound.
// Binary name, encoder settings and destination are left to the engine.
func (p *ExecutionPlan) Args() []string {
	args := make([]string, 0, 4*len(p.Inputs)+8)

	for _, in := range p.Inputs {
		switch in.Loop {
		case LoopImage:
			args = append(args, "-loop", "1")
		case LoopStream:
			args = append(args, "-stream_loop", "-1")
		}
		args = append(args, "-i", in.Path)
	}

	if p.FilterGraph != "" {
		args = append(args, "-filter_complex", p.FilterGraph)
	}
	if p.HasVideo() {
		args = append(args, "-map", p.VideoLabel.String())
	}
	if p.HasAudio() {
		args = append(args, "-map", p.AudioLabel.String())
	}
	if p.Bounded {
		args = append(args, "-t", strconv.FormatFloat(p.DurationSeconds, 'f', -1, 64))
	}
	return args
}
