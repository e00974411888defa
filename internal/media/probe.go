package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/maauso/mediacompose-api/internal/compose"
)

// FFprobeInspector implements compose.Inspector with a single ffprobe JSON call.
type FFprobeInspector struct {
	ffprobePath string
}

// NewFFprobeInspector creates a new FFprobeInspector.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobeInspector(ffprobePath string) *FFprobeInspector {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobeInspector{ffprobePath: ffprobePath}
}

// Inspect probes path and returns its descriptor.
func (i *FFprobeInspector) Inspect(ctx context.Context, path string) (compose.MediaDescriptor, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, i.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return compose.MediaDescriptor{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return compose.MediaDescriptor{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return ParseProbeJSON(stdout.Bytes())
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
}

// ParseProbeJSON converts raw ffprobe JSON output into a descriptor.
// Exported for testing without a real ffprobe binary.
func ParseProbeJSON(data []byte) (compose.MediaDescriptor, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return compose.MediaDescriptor{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	var hasVideo, hasAudio bool
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			hasVideo = true
		case "audio":
			hasAudio = true
		}
	}

	return compose.NewDescriptor(parseDuration(raw.Format.Duration), hasVideo, hasAudio)
}

// parseDuration reads ffprobe's string duration; absent or "N/A" is zero.
func parseDuration(s string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
