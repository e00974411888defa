// Package main provides the one-shot compose command. It reads a parameter
// file, plans and renders a composition, and prints a single JSON object.
//
// Usage:
//
//	compose overlay <params.json>
//	compose append <params.json>
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maauso/mediacompose-api/internal/compose"
	"github.com/maauso/mediacompose-api/internal/config"
	"github.com/maauso/mediacompose-api/internal/media"
	"github.com/maauso/mediacompose-api/internal/params"
	"github.com/maauso/mediacompose-api/internal/storage"
)

const usage = "usage: compose overlay|append <params.json>"

// response is the single JSON object written to stdout.
type response struct {
	OutputPath string   `json:"output_path,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
	BinaryData string   `json:"binary_data,omitempty"`
	FileName   string   `json:"file_name,omitempty"`
	Error      string   `json:"error,omitempty"`
	Command    *string  `json:"command,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	resp := execute(ctx, args)
	if err := json.NewEncoder(stdout).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Error != "" {
		return 1
	}
	return 0
}

func execute(ctx context.Context, args []string) response {
	if len(args) != 2 {
		return response{Error: usage}
	}

	cfg, err := config.Load()
	if err != nil {
		return response{Error: fmt.Sprintf("load config: %v", err)}
	}
	logger := cfg.NewStderrLogger()

	store, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return response{Error: err.Error()}
	}

	c := &composer{
		builder: compose.NewBuilder(
			media.NewFFprobeInspector(cfg.FFprobePath),
			compose.WithMaxConcurrentProbes(cfg.MaxConcurrentProbes),
		),
		engine: media.NewFFmpegEngine(cfg.FFmpegPath),
		store:  store,
		logger: logger,
	}

	switch args[0] {
	case "overlay":
		return c.overlay(ctx, args[1])
	case "append":
		return c.appendMedia(ctx, args[1])
	default:
		return response{Error: fmt.Sprintf("unknown mode %q; %s", args[0], usage)}
	}
}

type composer struct {
	builder *compose.Builder
	engine  *media.FFmpegEngine
	store   *storage.LocalStorage
	logger  *slog.Logger
}

func (c *composer) overlay(ctx context.Context, paramsPath string) response {
	p, err := params.LoadOverlay(paramsPath)
	if err != nil {
		return paramsFailure(err)
	}

	set, err := c.builder.Layers(ctx, p.Slots)
	if set != nil {
		for _, d := range set.Dropped {
			c.logger.Warn("layer skipped",
				slog.Int("slot", d.Index),
				slog.String("path", d.Path),
				slog.String("error", d.Err.Error()),
			)
		}
	}
	if err != nil {
		return response{Error: err.Error()}
	}

	plan, err := compose.PlanOverlay(set)
	if err != nil {
		return response{Error: err.Error()}
	}

	if !p.OutputAsBinary {
		if resp, failed := c.render(ctx, plan, p.OutputFilePath); failed {
			return resp
		}
		duration := plan.DurationSeconds
		return response{OutputPath: p.OutputFilePath, Duration: &duration}
	}
	return c.renderInline(ctx, plan, "ffmpeg_multilayer_output")
}

func (c *composer) appendMedia(ctx context.Context, paramsPath string) response {
	p, err := params.LoadAppend(paramsPath)
	if err != nil {
		return paramsFailure(err)
	}

	set, err := c.builder.AppendFiles(ctx, p.Paths)
	if err != nil {
		return response{Error: err.Error()}
	}

	plan, err := compose.PlanAppend(set)
	if err != nil {
		return response{Error: err.Error()}
	}

	if p.OutputAsFilePath {
		if resp, failed := c.render(ctx, plan, p.OutputFilePath); failed {
			return resp
		}
		return response{OutputPath: p.OutputFilePath}
	}
	return c.renderInline(ctx, plan, "ffmpeg_append_output")
}

// render executes plan into dst. On failure it returns the error response
// and true.
func (c *composer) render(ctx context.Context, plan *compose.ExecutionPlan, dst string) (response, bool) {
	command := c.engine.CommandLine(plan, dst)
	c.logger.Debug("running ffmpeg", slog.String("command", command))

	if err := c.engine.Execute(ctx, plan, dst); err != nil {
		msg := err.Error()
		var ffErr *media.FFmpegError
		if errors.As(err, &ffErr) {
			msg = "FFmpeg command failed. Stderr: " + ffErr.Stderr
		}
		return response{Error: msg, Command: &command}, true
	}
	return response{}, false
}

// renderInline renders into a temporary file and returns its content base64
// encoded. The temporary file is always removed.
func (c *composer) renderInline(ctx context.Context, plan *compose.ExecutionPlan, name string) response {
	dst, err := c.store.TempPath(ctx, name, plan.OutputExt())
	if err != nil {
		return response{Error: err.Error()}
	}
	defer func() {
		if err := c.store.CleanupTemp(context.WithoutCancel(ctx), []string{dst}); err != nil {
			c.logger.Warn("failed to remove temporary output",
				slog.String("path", dst),
				slog.String("error", err.Error()),
			)
		}
	}()

	if resp, failed := c.render(ctx, plan, dst); failed {
		return resp
	}

	rc, err := c.store.LoadTemp(ctx, dst)
	if err != nil {
		return response{Error: err.Error()}
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return response{Error: fmt.Sprintf("read output: %v", err)}
	}
	return response{
		BinaryData: base64.StdEncoding.EncodeToString(data),
		FileName:   name + plan.OutputExt(),
	}
}

func paramsFailure(err error) response {
	if errors.Is(err, params.ErrMalformed) {
		return response{Error: fmt.Sprintf("failed to read or parse parameters file: %v", err)}
	}
	return response{Error: err.Error()}
}
