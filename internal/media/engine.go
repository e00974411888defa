// Package media runs the external ffmpeg/ffprobe tools on behalf of the
// composition planner: probing inputs into descriptors and executing plans.
package media

import (
	"context"

	"github.com/maauso/mediacompose-api/internal/compose"
)

// Engine executes composition plans.
type Engine interface {
	// Execute runs plan and writes the result to dst, overwriting it.
	// Failures from the engine carry its diagnostic output.
	Execute(ctx context.Context, plan *compose.ExecutionPlan, dst string) error
}

// Verify interface implementations at compile time.
var (
	_ Engine            = (*FFmpegEngine)(nil)
	_ compose.Inspector = (*FFprobeInspector)(nil)
)
