package compose

import (
	"fmt"
	"strings"
)

// Label names a filter graph output pad.
type Label string

// String renders the label as a pad, e.g. "[vout]".
func (l Label) String() string {
	return "[" + string(l) + "]"
}

// Output labels produced by the compiler.
const (
	VideoOut  Label = "vout"
	AudioOut  Label = "aout"
	ConcatOut Label = "outv"
	ConcatAud Label = "outa"
)

// overlayChain is the fold state of the video overlay chain: the pad holding
// the running composite and the labels produced so far.
type overlayChain struct {
	composite string
	fragments []string
	labels    []Label
}

// step draws top over the running composite into out.
func (c overlayChain) step(top StreamRef, out Label) overlayChain {
	c.fragments = append(c.fragments, c.composite+top.String()+"overlay"+out.String())
	c.labels = append(c.labels, out)
	c.composite = out.String()
	return c
}

// compileOverlayVideo chains video streams left to right so that each later
// stream is drawn over everything before it. It returns the graph fragments,
// the output label ("" when there is no video) and the chain of labels produced.
func compileOverlayVideo(refs []StreamRef) ([]string, Label, []Label) {
	switch len(refs) {
	case 0:
		return nil, "", nil
	case 1:
		return []string{refs[0].String() + "copy" + VideoOut.String()}, VideoOut, []Label{VideoOut}
	}

	chain := overlayChain{composite: refs[0].String()}
	last := len(refs) - 1
	for i := 1; i <= last; i++ {
		out := VideoOut
		if i < last {
			out = Label(fmt.Sprintf("v%d", i))
		}
		chain = chain.step(refs[i], out)
	}
	return chain.fragments, VideoOut, chain.labels
}

// compileOverlayAudio mixes audio streams, using the longest input as the
// mix duration.
func compileOverlayAudio(refs []StreamRef) ([]string, Label) {
	switch len(refs) {
	case 0:
		return nil, ""
	case 1:
		return []string{refs[0].String() + "acopy" + AudioOut.String()}, AudioOut
	}

	var b strings.Builder
	for _, r := range refs {
		b.WriteString(r.String())
	}
	fmt.Fprintf(&b, "amix=inputs=%d:duration=longest%s", len(refs), AudioOut)
	return []string{b.String()}, AudioOut
}

// compileConcat joins every segment end to end. Pads are interleaved per
// segment as the concat filter requires. The compiler trusts the builder to
// have made the inputs homogeneous.
func compileConcat(segments int, video, audio []StreamRef) (string, Label, Label) {
	var b strings.Builder
	vi, ai := 0, 0
	for seg := 0; seg < segments; seg++ {
		for vi < len(video) && video[vi].Input == seg {
			b.WriteString(video[vi].String())
			vi++
		}
		for ai < len(audio) && audio[ai].Input == seg {
			b.WriteString(audio[ai].String())
			ai++
		}
	}

	var videoLabel, audioLabel Label
	v, a := 0, 0
	if len(video) > 0 {
		v, videoLabel = 1, ConcatOut
	}
	if len(audio) > 0 {
		a, audioLabel = 1, ConcatAud
	}
	fmt.Fprintf(&b, "concat=n=%d:v=%d:a=%d", segments, v, a)
	if videoLabel != "" {
		b.WriteString(videoLabel.String())
	}
	if audioLabel != "" {
		b.WriteString(audioLabel.String())
	}
	return b.String(), videoLabel, audioLabel
}
