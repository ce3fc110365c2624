package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStoreTests(t *testing.T, s Store) {
	ctx := context.Background()

	h, err := s.Upload(ctx, EventImagePath("u1", 1700000000000), strings.NewReader("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, Handle("events/u1/1700000000000"), h)

	u, err := s.PublicURL(ctx, h)
	require.NoError(t, err)
	assert.Contains(t, u, "events/u1/1700000000000")

	require.NoError(t, s.Delete(ctx, h))
	assert.ErrorIs(t, s.Delete(ctx, h), ErrNotFound)

	_, err = s.Upload(ctx, "../escape", strings.NewReader("x"), "")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = s.Upload(ctx, "/abs", strings.NewReader("x"), "")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	runStoreTests(t, m)
	assert.Equal(t, 0, m.Len())
}

func TestFS(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFS(dir, "")
	require.NoError(t, err)
	runStoreTests(t, f)
}

func TestFS_WritesFileAndBaseURL(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFS(dir, "https://img.example.com/")
	require.NoError(t, err)

	h, err := f.Upload(context.Background(), ProfileImagePath("u1", 5), strings.NewReader("jpeg"), "image/jpeg")
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "profilePictures", "u1", "5"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(b))

	u, err := f.PublicURL(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/profilePictures/u1/5", u)
}

func TestCleanPath(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "../x", "/x", "a/../../b"} {
		_, err := CleanPath(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}
	c, err := CleanPath("events//u1/./2")
	require.NoError(t, err)
	assert.Equal(t, "events/u1/2", c)
}
