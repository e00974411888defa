package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/maauso/mediacompose-api/internal/compose"
)

// Static errors for media operations.
var (
	// ErrNilPlan is returned when Execute is called without a plan.
	ErrNilPlan = errors.New("media: execution plan is required")
	// ErrOutputRequired is returned when no destination path is given.
	ErrOutputRequired = errors.New("media: output path is required")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// FFmpegEngine implements Engine using the ffmpeg CLI.
type FFmpegEngine struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegEngine creates a new FFmpegEngine.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegEngine(ffmpegPath string) *FFmpegEngine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegEngine{ffmpegPath: ffmpegPath}
}

// Args returns the full ffmpeg argument list for plan, without the binary name.
//
// Overlay plans are re-encoded with libx264/yuv420p and AAC so that looped
// stills and mixed sources produce a playable file. Append plans keep
// ffmpeg's defaults for the output container.
func (e *FFmpegEngine) Args(plan *compose.ExecutionPlan, dst string) []string {
	args := []string{"-y"} // Overwrite output file without asking
	args = append(args, plan.Args()...)

	if plan.Mode == compose.ModeOverlay {
		if plan.HasVideo() {
			args = append(args, "-c:v", "libx264", "-pix_fmt", "yuv420p")
		}
		if plan.HasAudio() {
			args = append(args, "-c:a", "aac")
		}
	}
	return append(args, dst)
}

// CommandLine renders the invocation for plan as a single string, for error
// reports.
func (e *FFmpegEngine) CommandLine(plan *compose.ExecutionPlan, dst string) string {
	return strings.Join(append([]string{e.ffmpegPath}, e.Args(plan, dst)...), " ")
}

// Execute runs plan and writes the result to dst.
func (e *FFmpegEngine) Execute(ctx context.Context, plan *compose.ExecutionPlan, dst string) error {
	if plan == nil {
		return ErrNilPlan
	}
	if dst == "" {
		return ErrOutputRequired
	}
	return e.runFFmpeg(ctx, e.Args(plan, dst))
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (e *FFmpegEngine) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
