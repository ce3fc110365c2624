package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joncaseee/pdx-underground-app/feed"
	"github.com/joncaseee/pdx-underground-app/internal/docstore/memstore"
	"github.com/joncaseee/pdx-underground-app/internal/health"
)

// localEnv points the CLI at a throwaway sqlite database and blob dir.
func localEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PDXFEED_BUILD_TARGET", "local")
	t.Setenv("PDXFEED_SQLITE_PATH", filepath.Join(dir, "feed.db"))
	t.Setenv("PDXFEED_BLOB_DIR", filepath.Join(dir, "blobs"))
	t.Setenv("PDXFEED_BLOB_BASE_URL", "https://cdn.test")
	t.Setenv("PDXFEED_TIMEZONE", "UTC")
	t.Setenv("PDXFEED_LOG_LEVEL", "error")
	t.Setenv("PDXFEED_USER_ID", "alice")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "feedctl %s", strings.Join(args, " "))
	return out
}

func TestCLI_EndToEnd(t *testing.T) {
	dir := localEnv(t)
	flyer := filepath.Join(dir, "flyer.png")
	require.NoError(t, os.WriteFile(flyer, []byte("png"), 0o600))

	out := mustRun(t, "signup", "--alias", "Alice", "--role", "promoter")
	assert.Contains(t, out, "signed up alice as Alice (promoter)")

	id := strings.TrimSpace(mustRun(t, "create", "--title", "Warehouse Night", "--when", "2099-06-07T22:00",
		"--description", "bring earplugs", "--image", flyer))
	require.NotEmpty(t, id)

	out = mustRun(t, "watch", "--once")
	assert.Contains(t, out, "-- 1 upcoming")
	assert.Contains(t, out, "Warehouse Night")
	assert.Contains(t, out, "by Alice, 0 likes")
	assert.Contains(t, out, "| bring earplugs")

	assert.Equal(t, "liked "+id+"\n", mustRun(t, "like", id))
	assert.Equal(t, "saved "+id+"\n", mustRun(t, "save", id))
	out = mustRun(t, "watch", "--once")
	assert.Contains(t, out, "1 likes liked saved")

	out = mustRun(t, "saved")
	assert.Contains(t, out, "saved (1)")
	assert.Contains(t, out, id)

	ics := filepath.Join(dir, "feed.ics")
	mustRun(t, "export-ics", "--out", ics, "--name", "Test Feed")
	body, err := os.ReadFile(ics)
	require.NoError(t, err)
	assert.Contains(t, string(body), "SUMMARY:Warehouse Night")
	assert.Contains(t, string(body), "X-WR-CALNAME:Test Feed")

	mustRun(t, "edit", id, "--title", "Warehouse Night II")
	out = mustRun(t, "profile")
	assert.Contains(t, out, "Alice (promoter) alice")
	assert.Contains(t, out, "posted (1)")
	assert.Contains(t, out, "Warehouse Night II")

	_, err = run(t, "--user", "bob", "delete", id)
	assert.ErrorIs(t, err, feed.ErrNotOwner)

	assert.Equal(t, "unliked "+id+"\n", mustRun(t, "like", id))
	assert.Equal(t, "deleted "+id+"\n", mustRun(t, "delete", id))
	out = mustRun(t, "watch", "--once")
	assert.Contains(t, out, "-- 0 upcoming")
}

func TestCLI_Seed(t *testing.T) {
	dir := localEnv(t)
	fixtures := filepath.Join(dir, "events.yaml")
	require.NoError(t, os.WriteFile(fixtures, []byte(`
- title: Porch Set
  dateTime: 2099-06-08T18:30
- title: Basement Show
  organizer: Somebody Else
  dateTime: 2099-06-07T21:00
`), 0o600))

	out := mustRun(t, "seed", "--dry-run", fixtures)
	assert.Equal(t, 2, strings.Count(out, "would create"))
	assert.Contains(t, mustRun(t, "watch", "--once"), "-- 0 upcoming")

	out = mustRun(t, "seed", fixtures)
	assert.Equal(t, 2, strings.Count(out, "created "))

	out = mustRun(t, "watch", "--once", "--mine")
	assert.Contains(t, out, "-- 2 upcoming")
	assert.Less(t, strings.Index(out, "Basement Show"), strings.Index(out, "Porch Set"), "sorted by dateTime")
	assert.Contains(t, out, "by Somebody Else")
}

func TestCLI_RequiresUser(t *testing.T) {
	localEnv(t)
	t.Setenv("PDXFEED_USER_ID", "")

	_, err := run(t, "like", "some-event")
	assert.ErrorIs(t, err, feed.ErrUnauthenticated)
	_, err = run(t, "saved")
	assert.ErrorIs(t, err, feed.ErrUnauthenticated)
	_, err = run(t, "watch", "--once", "--mine")
	assert.ErrorIs(t, err, feed.ErrUnauthenticated)

	out, err := run(t, "watch", "--once")
	require.NoError(t, err, "anonymous browsing is allowed")
	assert.Contains(t, out, "-- 0 upcoming")
}

func TestCLI_BadConfig(t *testing.T) {
	localEnv(t)
	t.Setenv("PDXFEED_DOC_STORE", "cassandra")
	_, err := run(t, "watch", "--once")
	assert.Error(t, err)
}

func TestRouter_Healthz(t *testing.T) {
	store := memstore.New()
	checker := health.NewPingChecker("docstore", store, zerolog.Nop(), time.Second)
	svc := health.NewServiceHealthChecker(zerolog.Nop(), checker)
	srv := httptest.NewServer(newRouter(svc))
	defer srv.Close()

	status := func() (int, map[string]any) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, body := status()
	assert.Equal(t, http.StatusServiceUnavailable, code, "unhealthy until the first probe")
	assert.Equal(t, "DOWN", body["status"])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx, 10*time.Millisecond)
	require.Eventually(t, func() bool { c, _ := status(); return c == http.StatusOK }, 2*time.Second, 10*time.Millisecond)

	_ = store.Close()
	require.Eventually(t, func() bool {
		c, b := status()
		failing, _ := b["failing"].([]any)
		return c == http.StatusServiceUnavailable && len(failing) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRemountSpecRejected(t *testing.T) {
	localEnv(t)
	_, err := run(t, "watch", "--remount", "every now and then")
	require.Error(t, err)
	assert.False(t, errors.Is(err, feed.ErrViewClosed))
	assert.Contains(t, err.Error(), "--remount")
}
