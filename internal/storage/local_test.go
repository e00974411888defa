package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates nested directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "scratch", "jobs")

		s, err := NewLocalStorage(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, s.TempDir())

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("defaults to mediacompose under os temp dir", func(t *testing.T) {
		s, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(os.TempDir(), "mediacompose"), s.TempDir())
	})
}

func TestLocalStorage_SaveTemp(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	path, err := s.SaveTemp(ctx, "layer1", strings.NewReader("frame bytes"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(path), "layer1_"))
	assert.Equal(t, s.TempDir(), filepath.Dir(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "frame bytes", string(content))

	t.Run("unique per call", func(t *testing.T) {
		other, err := s.SaveTemp(ctx, "layer1", strings.NewReader("x"))
		require.NoError(t, err)
		assert.NotEqual(t, path, other)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := s.SaveTemp(cctx, "layer", strings.NewReader("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("failing reader leaves nothing behind", func(t *testing.T) {
		before := dirEntries(t, s.TempDir())

		_, err := s.SaveTemp(ctx, "broken", io.MultiReader(strings.NewReader("x"), errReader{}))
		require.Error(t, err)
		assert.Equal(t, before, dirEntries(t, s.TempDir()))
	})
}

func TestLocalStorage_TempPath(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	p1, err := s.TempPath(ctx, "overlay", ".mp4")
	require.NoError(t, err)
	p2, err := s.TempPath(ctx, "overlay", ".mp4")
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.Equal(t, ".mp4", filepath.Ext(p1))
	assert.True(t, strings.HasPrefix(filepath.Base(p1), "overlay_"))

	_, err = os.Stat(p1)
	assert.True(t, os.IsNotExist(err), "TempPath must not create the file")

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.TempPath(cctx, "overlay", ".mp4")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStorage_LoadTemp(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	path, err := s.SaveTemp(ctx, "clip", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)

	rc, err := s.LoadTemp(ctx, path)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = s.LoadTemp(ctx, filepath.Join(s.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	a, err := s.SaveTemp(ctx, "a", strings.NewReader("a"))
	require.NoError(t, err)
	b, err := s.SaveTemp(ctx, "b", strings.NewReader("b"))
	require.NoError(t, err)

	// missing files are ignored
	err = s.CleanupTemp(ctx, []string{a, filepath.Join(s.TempDir(), "gone"), b})
	require.NoError(t, err)

	for _, p := range []string{a, b} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = s.CleanupTemp(cctx, []string{a})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStorage_UploadToS3(t *testing.T) {
	s := setupTestStorage(t)

	_, err := s.UploadToS3(context.Background(), "out.mp4", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrS3NotConfigured)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
