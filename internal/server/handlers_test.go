package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediacompose-api/internal/compose"
	"github.com/maauso/mediacompose-api/internal/job"
	"github.com/maauso/mediacompose-api/internal/storage"
)

// mockInspector implements compose.Inspector for testing.
type mockInspector struct {
	mock.Mock
}

func (m *mockInspector) Inspect(ctx context.Context, path string) (compose.MediaDescriptor, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(compose.MediaDescriptor), args.Error(1)
}

// mockEngine implements media.Engine for testing.
type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Execute(ctx context.Context, plan *compose.ExecutionPlan, dst string) error {
	args := m.Called(ctx, plan, dst)
	if args.Error(0) == nil {
		_ = os.WriteFile(dst, []byte("composed"), 0o600)
	}
	return args.Error(0)
}

type testEnv struct {
	handlers  *Handlers
	service   *job.ComposeService
	repo      *job.MemoryRepository
	inspector *mockInspector
	engine    *mockEngine
	mediaDir  string
	logger    *slog.Logger
}

func newTestEnv(t *testing.T, opts ...HandlerOption) *testEnv {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		repo:      job.NewMemoryRepository(),
		inspector: &mockInspector{},
		engine:    &mockEngine{},
		mediaDir:  t.TempDir(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	env.service = job.NewComposeService(env.repo, env.inspector, env.engine, store, job.WithLogger(env.logger))

	// Disable async processing unless a test asks for it
	opts = append([]HandlerOption{WithAsyncProcessing(false)}, opts...)
	env.handlers = NewHandlers(env.service, env.logger, opts...)
	return env
}

func (e *testEnv) router() http.Handler {
	return NewRouter(e.handlers, e.logger, DefaultConfig())
}

func (e *testEnv) media(t *testing.T, name string, duration float64, video, audio bool) string {
	t.Helper()
	p := filepath.Join(e.mediaDir, name)
	require.NoError(t, os.WriteFile(p, []byte(name), 0o600))
	e.inspector.On("Inspect", mock.Anything, p).
		Return(compose.MediaDescriptor{DurationSeconds: duration, HasVideo: video, HasAudio: audio}, nil)
	return p
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := do(t, env.router(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthResponse](t, rec).Status)
}

func TestCreateOverlayJob_Success(t *testing.T) {
	env := newTestEnv(t)

	rec := do(t, env.router(), http.MethodPost, "/jobs/overlay", OverlayRequest{
		Layers: []LayerRequest{
			{FilePath: "/media/background.png"},
			{BinaryBase64: base64.StdEncoding.EncodeToString([]byte("voice")), TrimToThis: true},
		},
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[CreateJobResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "overlay", resp.Kind)
	assert.Equal(t, "IN_QUEUE", resp.Status)

	saved, err := env.repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, job.KindOverlay, saved.Kind)
}

func TestCreateJob_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	validB64 := base64.StdEncoding.EncodeToString([]byte("x"))

	tests := []struct {
		name   string
		target string
		body   any
		code   string
	}{
		{"invalid json", "/jobs/overlay", `{"layers": [`, "INVALID_JSON"},
		{"no layers", "/jobs/overlay", OverlayRequest{}, "VALIDATION_ERROR"},
		{"layer without source", "/jobs/overlay", OverlayRequest{Layers: []LayerRequest{{Loop: true}}}, "VALIDATION_ERROR"},
		{"bad base64", "/jobs/overlay", OverlayRequest{Layers: []LayerRequest{{BinaryBase64: "not base64!"}}}, "VALIDATION_ERROR"},
		{"slot out of range", "/jobs/overlay", OverlayRequest{Layers: []LayerRequest{{Slot: 11, BinaryBase64: validB64}}}, "VALIDATION_ERROR"},
		{"duplicate slot", "/jobs/overlay", OverlayRequest{Layers: []LayerRequest{{Slot: 2, BinaryBase64: validB64}, {BinaryBase64: validB64}}}, "VALIDATION_ERROR"},
		{"eleven layers", "/jobs/overlay", OverlayRequest{Layers: make([]LayerRequest, 11)}, "VALIDATION_ERROR"},
		{"one file", "/jobs/append", AppendRequest{Files: []MediaFile{{Path: "a.mp4"}}}, "VALIDATION_ERROR"},
		{"empty path", "/jobs/append", AppendRequest{Files: []MediaFile{{Path: "a.mp4"}, {}}}, "VALIDATION_ERROR"},
		{"append invalid json", "/jobs/append", `nope`, "INVALID_JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, env.router(), http.MethodPost, tt.target, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}

	jobs, err := env.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected requests must not create jobs")
}

func TestCreateAppendJob_ProcessesInBackground(t *testing.T) {
	env := newTestEnv(t, WithAsyncProcessing(true))
	a := env.media(t, "a.mp4", 2, true, true)
	b := env.media(t, "b.mp4", 3, true, true)
	env.engine.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	rec := do(t, env.router(), http.MethodPost, "/jobs/append", AppendRequest{
		Files: []MediaFile{{Path: a}, {Path: b}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[CreateJobResponse](t, rec)
	assert.Equal(t, "append", created.Kind)

	env.service.Wait()

	rec = do(t, env.router(), http.MethodGet, "/jobs/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[JobResponse](t, rec)

	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, []string{a, b}, resp.Inputs)
	assert.Equal(t, "[0:v:0][0:a:0][1:v:0][1:a:0]concat=n=2:v=1:a=1[outv][outa]", resp.FilterGraph)
	assert.NotNil(t, resp.CompletedAt)

	data, err := base64.StdEncoding.DecodeString(resp.OutputBase64)
	require.NoError(t, err)
	assert.Equal(t, "composed", string(data))
	assert.Equal(t, ".mp4", filepath.Ext(resp.FileName))
}

func TestCreateOverlayJob_FailureIsReported(t *testing.T) {
	env := newTestEnv(t, WithAsyncProcessing(true))

	rec := do(t, env.router(), http.MethodPost, "/jobs/overlay", OverlayRequest{
		Layers: []LayerRequest{{FilePath: filepath.Join(env.mediaDir, "missing.mp4")}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[CreateJobResponse](t, rec)

	env.service.Wait()

	rec = do(t, env.router(), http.MethodGet, "/jobs/"+created.ID, nil)
	resp := decodeBody[JobResponse](t, rec)
	assert.Equal(t, "FAILED", resp.Status)
	assert.Contains(t, resp.Error, "no valid media layers")
	assert.Empty(t, resp.OutputBase64)
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := do(t, env.router(), http.MethodGet, "/jobs/job-missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestGetJob_MissingID(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
	rec := httptest.NewRecorder()
	env.handlers.GetJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_JOB_ID", decodeBody[ErrorResponse](t, rec).Code)
}

func TestGetJob_WithS3URL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	j := job.New(job.KindAppend)
	j.PushToS3 = true
	require.NoError(t, j.Start())
	j.SetOutput(filepath.Join(env.mediaDir, "out.mp4"), "https://bucket.s3.eu-west-1.amazonaws.com/compositions/out.mp4")
	require.NoError(t, j.Complete())
	require.NoError(t, env.repo.Save(ctx, j))

	rec := do(t, env.router(), http.MethodGet, "/jobs/"+j.ID, nil)
	resp := decodeBody[JobResponse](t, rec)

	assert.Equal(t, "https://bucket.s3.eu-west-1.amazonaws.com/compositions/out.mp4", resp.OutputURL)
	assert.Empty(t, resp.OutputBase64, "uploaded outputs are not inlined")
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	rec := do(t, router, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[JobListResponse](t, rec).Jobs)

	for _, kind := range []job.Kind{job.KindOverlay, job.KindAppend} {
		_, err := env.service.CreateJob(context.Background(), kind, false)
		require.NoError(t, err)
	}

	rec = do(t, router, http.MethodGet, "/jobs", nil)
	list := decodeBody[JobListResponse](t, rec)
	require.Len(t, list.Jobs, 2)
	for _, j := range list.Jobs {
		assert.Equal(t, "IN_QUEUE", j.Status)
	}
}

func TestDeleteJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	router := env.router()

	queued, err := env.service.CreateJob(ctx, job.KindOverlay, false)
	require.NoError(t, err)

	rec := do(t, router, http.MethodDelete, "/jobs/"+queued.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_ACTIVE", decodeBody[ErrorResponse](t, rec).Code)

	out := filepath.Join(env.mediaDir, "done.mp4")
	require.NoError(t, os.WriteFile(out, []byte("video"), 0o600))
	done := job.New(job.KindOverlay)
	require.NoError(t, done.Start())
	done.SetOutput(out, "")
	require.NoError(t, done.Complete())
	require.NoError(t, env.repo.Save(ctx, done))

	rec = do(t, router, http.MethodDelete, "/jobs/"+done.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoFileExists(t, out)

	rec = do(t, router, http.MethodDelete, "/jobs/"+done.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanOverlay(t *testing.T) {
	env := newTestEnv(t)
	bg := env.media(t, "bg.png", 0, true, false)
	clip := env.media(t, "clip.mp4", 6, true, true)
	music := env.media(t, "music.mp3", 30, false, true)

	rec := do(t, env.router(), http.MethodPost, "/plans/overlay", OverlayRequest{
		Layers: []LayerRequest{
			{FilePath: bg},
			{FilePath: clip},
			{FilePath: music, Loop: true},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[PlanResponse](t, rec)

	assert.Equal(t, "overlay", resp.Mode)
	assert.Equal(t, []PlanInput{{Path: bg, Loop: "image"}, {Path: clip}, {Path: music, Loop: "stream"}}, resp.Inputs)
	assert.Equal(t,
		"[0:v][1:v]overlay[vout];[1:a][2:a]amix=inputs=2:duration=longest[aout]",
		resp.FilterGraph)
	assert.Equal(t, []string{"[vout]", "[aout]"}, resp.Maps)
	require.NotNil(t, resp.DurationSeconds)
	assert.InDelta(t, 6.0, *resp.DurationSeconds, 1e-9)
	assert.Equal(t, ".mp4", resp.OutputExt)
	assert.Contains(t, resp.Args, "-filter_complex")
	env.engine.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestPlanOverlay_ReportsDroppedLayers(t *testing.T) {
	env := newTestEnv(t)
	clip := env.media(t, "clip.mp4", 2, true, false)
	broken := filepath.Join(env.mediaDir, "broken.mov")
	require.NoError(t, os.WriteFile(broken, []byte("x"), 0o600))
	env.inspector.On("Inspect", mock.Anything, broken).
		Return(compose.MediaDescriptor{}, assert.AnError)

	rec := do(t, env.router(), http.MethodPost, "/plans/overlay", OverlayRequest{
		Layers: []LayerRequest{{FilePath: clip}, {Slot: 4, FilePath: broken}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[PlanResponse](t, rec)

	require.Len(t, resp.Dropped, 1)
	assert.Equal(t, 4, resp.Dropped[0].Slot)
	assert.Equal(t, broken, resp.Dropped[0].Path)
	assert.Equal(t, "[0:v]copy[vout]", resp.FilterGraph)
}

func TestPlanAppend_Errors(t *testing.T) {
	env := newTestEnv(t)
	video := env.media(t, "a.mp4", 2, true, true)
	audio := env.media(t, "b.mp3", 2, false, true)
	still := env.media(t, "cover.jpg", 0, true, false)

	tests := []struct {
		name   string
		files  []MediaFile
		status int
		code   string
		item   int
	}{
		{"kind mismatch", []MediaFile{{Path: video}, {Path: audio}}, http.StatusUnprocessableEntity, "INCOMPATIBLE_MEDIA", 1},
		{"still image", []MediaFile{{Path: still}, {Path: video}}, http.StatusUnprocessableEntity, "STILL_IMAGE_NOT_SUPPORTED", 0},
		{"missing file", []MediaFile{{Path: video}, {Path: filepath.Join(env.mediaDir, "nope.mp4")}}, http.StatusUnprocessableEntity, "MISSING_INPUT", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, env.router(), http.MethodPost, "/plans/append", AppendRequest{Files: tt.files})

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			require.NotNil(t, resp.Item)
			assert.Equal(t, tt.item, *resp.Item)
		})
	}
}

func TestPlanAppend_AudioOnly(t *testing.T) {
	env := newTestEnv(t)
	a := env.media(t, "a.mp3", 2, false, true)
	b := env.media(t, "b.wav", 4, false, true)

	rec := do(t, env.router(), http.MethodPost, "/plans/append", AppendRequest{
		Files: []MediaFile{{Path: a}, {Path: b}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[PlanResponse](t, rec)

	assert.Equal(t, "append", resp.Mode)
	assert.Equal(t, "[0:a:0][1:a:0]concat=n=2:v=0:a=1[outa]", resp.FilterGraph)
	assert.Equal(t, []string{"[outa]"}, resp.Maps)
	assert.Nil(t, resp.DurationSeconds)
	assert.Equal(t, ".mp3", resp.OutputExt)
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestEnv(t)
	router := NewRouter(env.handlers, env.logger, Config{AllowedOrigins: []string{"https://example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/jobs/overlay", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	panicHandler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("test panic")
	})

	rec := httptest.NewRecorder()
	RecoveryMiddleware(logger)(panicHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody[ErrorResponse](t, rec).Code)
}

func TestBodyLimitMiddleware(t *testing.T) {
	env := newTestEnv(t)
	router := NewRouter(env.handlers, env.logger, Config{AllowedOrigins: []string{"*"}, MaxBodyBytes: 64})

	big := OverlayRequest{Layers: []LayerRequest{{FilePath: strings.Repeat("x", 200)}}}
	rec := do(t, router, http.MethodPost, "/jobs/overlay", big)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "REQUEST_TOO_LARGE", decodeBody[ErrorResponse](t, rec).Code)

	jobs, err := env.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
