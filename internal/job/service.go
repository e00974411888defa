package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/maauso/mediacompose-api/internal/compose"
	"github.com/maauso/mediacompose-api/internal/media"
	"github.com/maauso/mediacompose-api/internal/storage"
)

// ErrJobActive is returned when deleting a job that has not reached a terminal state.
var ErrJobActive = errors.New("job is still active")

const (
	defaultMaxConcurrentJobs = 2
	s3KeyPrefix              = "compositions"
)

// LayerInput is one overlay slot as received from a client. Exactly one of
// FilePath and Binary is expected to be set; an empty slot is skipped.
type LayerInput struct {
	// Slot is the 1-based slot number. Zero means "position in the list + 1".
	Slot       int
	FilePath   string
	Binary     []byte
	Loop       bool
	TrimToThis bool
}

// OverlayInput describes an overlay composition request.
type OverlayInput struct {
	Layers   []LayerInput
	PushToS3 bool
}

// AppendInput describes an append composition request.
type AppendInput struct {
	Paths    []string
	PushToS3 bool
}

// PlanResult is the outcome of a dry run.
type PlanResult struct {
	Plan    *compose.ExecutionPlan
	Dropped []*compose.LayerError
}

// ComposeService runs composition jobs: it stages binary inputs, builds and
// plans layer sets, executes plans with the engine and optionally publishes
// the output to S3.
type ComposeService struct {
	repo      Repository
	inspector compose.Inspector
	engine    media.Engine
	storage   storage.Storage
	logger    *slog.Logger

	builderOpts []compose.BuilderOption
	slots       chan struct{}
	jobTimeout  time.Duration

	// stop cancels background jobs on Shutdown.
	stopCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// ServiceOption configures a ComposeService.
type ServiceOption func(*ComposeService)

// WithLogger sets the logger used by the service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *ComposeService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxConcurrentJobs limits how many jobs execute at once. Excess jobs wait
// in IN_QUEUE.
func WithMaxConcurrentJobs(n int) ServiceOption {
	return func(s *ComposeService) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithJobTimeout bounds how long a job may run once it holds a slot. Time
// spent in IN_QUEUE does not count. Zero disables the bound.
func WithJobTimeout(d time.Duration) ServiceOption {
	return func(s *ComposeService) {
		if d >= 0 {
			s.jobTimeout = d
		}
	}
}

// WithBuilderOptions passes options to every compose.Builder the service creates.
func WithBuilderOptions(opts ...compose.BuilderOption) ServiceOption {
	return func(s *ComposeService) {
		s.builderOpts = append(s.builderOpts, opts...)
	}
}

// NewComposeService creates a new ComposeService.
func NewComposeService(
	repo Repository,
	inspector compose.Inspector,
	engine media.Engine,
	store storage.Storage,
	opts ...ServiceOption,
) *ComposeService {
	s := &ComposeService{
		repo:      repo,
		inspector: inspector,
		engine:    engine,
		storage:   store,
		logger:    slog.Default(),
		slots:     make(chan struct{}, defaultMaxConcurrentJobs),
	}
	s.stopCtx, s.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob creates a new IN_QUEUE job and persists it.
func (s *ComposeService) CreateJob(ctx context.Context, kind Kind, pushToS3 bool) (*Job, error) {
	j := New(kind)
	j.PushToS3 = pushToS3

	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("save job: %w", err)
	}

	s.logger.Info("job created",
		slog.String("job_id", j.ID),
		slog.String("kind", string(kind)),
		slog.Bool("push_to_s3", pushToS3),
	)
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *ComposeService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, oldest first.
func (s *ComposeService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// DeleteJob removes a finished job and its rendered output.
// Returns ErrJobActive if the job is still queued or running.
func (s *ComposeService) DeleteJob(ctx context.Context, id string) error {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !j.IsTerminal() {
		return ErrJobActive
	}

	if j.OutputPath != "" {
		if err := s.storage.CleanupTemp(ctx, []string{j.OutputPath}); err != nil {
			return fmt.Errorf("remove output: %w", err)
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// ProcessOverlay runs an overlay composition for an existing job.
func (s *ComposeService) ProcessOverlay(ctx context.Context, jobID string, in OverlayInput) (*Job, error) {
	return s.process(ctx, jobID, func(ctx context.Context, j *Job) (*compose.ExecutionPlan, []string, error) {
		res, staged, err := s.planOverlay(ctx, jobID, in)
		if res != nil {
			s.recordDropped(j, res.Dropped)
		}
		if err != nil {
			return nil, staged, err
		}
		return res.Plan, staged, nil
	})
}

// ProcessAppend runs an append composition for an existing job.
func (s *ComposeService) ProcessAppend(ctx context.Context, jobID string, in AppendInput) (*Job, error) {
	return s.process(ctx, jobID, func(ctx context.Context, _ *Job) (*compose.ExecutionPlan, []string, error) {
		res, err := s.planAppend(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		return res.Plan, nil, nil
	})
}

// PlanOverlay probes and plans an overlay request without executing it.
// Staged binary inputs are removed before returning.
func (s *ComposeService) PlanOverlay(ctx context.Context, in OverlayInput) (*PlanResult, error) {
	res, staged, err := s.planOverlay(ctx, "plan", in)
	s.cleanup(context.WithoutCancel(ctx), staged)
	return res, err
}

// PlanAppend probes and plans an append request without executing it.
func (s *ComposeService) PlanAppend(ctx context.Context, in AppendInput) (*PlanResult, error) {
	return s.planAppend(ctx, in)
}

// SubmitOverlay runs ProcessOverlay in the background. The job outlives ctx;
// only its values are inherited. Shutdown cancels it.
func (s *ComposeService) SubmitOverlay(ctx context.Context, jobID string, in OverlayInput) {
	s.goProcess(ctx, jobID, func(ctx context.Context) error {
		_, err := s.ProcessOverlay(ctx, jobID, in)
		return err
	})
}

// SubmitAppend runs ProcessAppend in the background.
func (s *ComposeService) SubmitAppend(ctx context.Context, jobID string, in AppendInput) {
	s.goProcess(ctx, jobID, func(ctx context.Context) error {
		_, err := s.ProcessAppend(ctx, jobID, in)
		return err
	})
}

func (s *ComposeService) goProcess(ctx context.Context, jobID string, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		unlink := context.AfterFunc(s.stopCtx, cancel)
		defer unlink()

		if err := run(runCtx); err != nil {
			s.logger.Error("background processing failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until all submitted jobs have returned.
func (s *ComposeService) Wait() {
	s.wg.Wait()
}

// Shutdown waits for submitted jobs to finish. If ctx ends first, the
// remaining jobs are cancelled and Shutdown waits for them to record their
// CANCELLED state before returning ctx.Err().
func (s *ComposeService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.logger.Warn("cancelling running jobs")
	s.stop()
	<-done
	return ctx.Err()
}

func (s *ComposeService) newBuilder(opts ...compose.BuilderOption) *compose.Builder {
	return compose.NewBuilder(s.inspector, append(opts, s.builderOpts...)...)
}

// planOverlay stages binary layers into temporary files and plans the layer
// set. It returns the staged paths so callers can remove them; on a
// planning failure the result still carries the dropped layers. Slot numbers
// are checked before anything is staged.
func (s *ComposeService) planOverlay(ctx context.Context, prefix string, in OverlayInput) (*PlanResult, []string, error) {
	slots := make([]compose.Slot, len(in.Layers))
	for i, l := range in.Layers {
		number := l.Slot
		if number == 0 {
			number = i + 1
		}
		slots[i] = compose.Slot{Number: number, Loop: l.Loop, TrimToThis: l.TrimToThis}
	}
	if err := compose.ValidateSlots(slots); err != nil {
		return nil, nil, err
	}

	var (
		staged   []string
		payloads = make(map[compose.BinaryRef]string)
	)
	for i, l := range in.Layers {
		number := slots[i].Number
		switch {
		case len(l.Binary) > 0:
			ref := compose.BinaryRef(fmt.Sprintf("layer%d", number))
			p, err := s.storage.SaveTemp(ctx, fmt.Sprintf("%s_%s", prefix, ref), bytes.NewReader(l.Binary))
			if err != nil {
				return nil, staged, fmt.Errorf("stage layer %d: %w", number, err)
			}
			staged = append(staged, p)
			payloads[ref] = p
			slots[i].Source = ref
		case l.FilePath != "":
			slots[i].Source = compose.FilePath(l.FilePath)
		}
	}

	resolve := func(ref compose.BinaryRef) (string, bool) {
		p, ok := payloads[ref]
		return p, ok
	}

	set, err := s.newBuilder(compose.WithBinaryResolver(resolve)).Layers(ctx, slots)
	if err != nil {
		if set != nil {
			return &PlanResult{Dropped: set.Dropped}, staged, err
		}
		return nil, staged, err
	}

	plan, err := compose.PlanOverlay(set)
	if err != nil {
		return &PlanResult{Dropped: set.Dropped}, staged, err
	}
	return &PlanResult{Plan: plan, Dropped: set.Dropped}, staged, nil
}

func (s *ComposeService) planAppend(ctx context.Context, in AppendInput) (*PlanResult, error) {
	set, err := s.newBuilder().AppendFiles(ctx, in.Paths)
	if err != nil {
		return nil, err
	}
	plan, err := compose.PlanAppend(set)
	if err != nil {
		return nil, err
	}
	return &PlanResult{Plan: plan}, nil
}

type planFunc func(ctx context.Context, j *Job) (*compose.ExecutionPlan, []string, error)

// process drives a job through its lifecycle: wait for a slot, plan, render,
// publish. The returned job reflects the final persisted state.
func (s *ComposeService) process(ctx context.Context, jobID string, build planFunc) (*Job, error) {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(slog.String("job_id", jobID), slog.String("kind", string(j.Kind)))

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return s.abort(j, logger, ctx.Err())
	}

	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	if err := j.Start(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return s.abort(j, logger, fmt.Errorf("save job: %w", err))
	}
	logger.Info("job started")

	plan, staged, err := build(ctx, j)
	defer s.cleanup(context.WithoutCancel(ctx), staged)
	if err != nil {
		return s.abort(j, logger, fmt.Errorf("plan: %w", err))
	}

	j.SetPlan(plan)
	j.UpdateProgress(25)
	if err := s.repo.Save(ctx, j); err != nil {
		return s.abort(j, logger, fmt.Errorf("save job: %w", err))
	}
	logger.Info("plan ready",
		slog.Int("inputs", len(plan.Inputs)),
		slog.String("filter_graph", plan.FilterGraph),
		slog.Float64("duration", plan.DurationSeconds),
	)

	out, err := s.storage.TempPath(ctx, jobID, plan.OutputExt())
	if err != nil {
		return s.abort(j, logger, fmt.Errorf("output path: %w", err))
	}
	if err := s.engine.Execute(ctx, plan, out); err != nil {
		s.cleanup(context.WithoutCancel(ctx), []string{out})
		return s.abort(j, logger, fmt.Errorf("execute: %w", err))
	}
	j.UpdateProgress(75)

	var url string
	if j.PushToS3 {
		url, err = s.upload(ctx, jobID, out)
		if err != nil {
			s.cleanup(context.WithoutCancel(ctx), []string{out})
			return s.abort(j, logger, fmt.Errorf("upload: %w", err))
		}
	}
	j.SetOutput(out, url)

	if err := j.Complete(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(context.WithoutCancel(ctx), j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	logger.Info("job completed",
		slog.String("output_path", out),
		slog.String("output_url", url),
	)
	return j, nil
}

func (s *ComposeService) upload(ctx context.Context, jobID, file string) (string, error) {
	rc, err := s.storage.LoadTemp(ctx, file)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	return s.storage.UploadToS3(ctx, path.Join(s3KeyPrefix, jobID+path.Ext(file)), rc)
}

// abort moves j to the terminal state matching cause, persists it and
// returns it together with cause.
func (s *ComposeService) abort(j *Job, logger *slog.Logger, cause error) (*Job, error) {
	var terr error
	switch {
	case errors.Is(cause, context.Canceled):
		terr = j.Cancel()
	case errors.Is(cause, context.DeadlineExceeded):
		terr = j.Timeout()
	default:
		terr = j.Fail(cause.Error())
	}
	if terr != nil {
		logger.Warn("could not record job outcome",
			slog.String("status", string(j.GetStatus())),
			slog.String("error", terr.Error()),
		)
	}

	if err := s.repo.Save(context.Background(), j); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}

	logger.Error("job failed",
		slog.String("status", string(j.GetStatus())),
		slog.String("error", cause.Error()),
	)
	return j, cause
}

func (s *ComposeService) recordDropped(j *Job, dropped []*compose.LayerError) {
	for _, d := range dropped {
		s.logger.Warn("layer skipped",
			slog.String("job_id", j.ID),
			slog.Int("slot", d.Index),
			slog.String("path", d.Path),
			slog.String("error", d.Err.Error()),
		)
		j.AddWarning(d.Error())
	}
}

func (s *ComposeService) cleanup(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	if err := s.storage.CleanupTemp(ctx, paths); err != nil {
		s.logger.Warn("failed to remove temporary files",
			slog.Int("count", len(paths)),
			slog.String("error", err.Error()),
		)
	}
}
