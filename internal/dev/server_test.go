package dev

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetsync/assetsync/internal/bundle"
	"github.com/assetsync/assetsync/internal/config"
	"github.com/assetsync/assetsync/internal/metrics"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *fakeRunner) Run(_ context.Context, args []string) (bundle.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	return bundle.Outcome{Messages: []bundle.Message{
		{Event: bundle.EventDone, Bundle: &bundle.BundleContent{Content: "bundle of " + args[1]}},
	}}, nil
}

type fixture struct {
	dir    string
	srv    *Server
	runner *fakeRunner
	prom   *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	write(t, dir, "index.html", `<script src="a.js"></script>`)
	write(t, dir, "a.js", `var x = 1;`)

	cfg := config.New()
	cfg.Base = dir
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Sync = false

	prom := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(prom))
	runner := &fakeRunner{}
	srv := NewServer(ServerOptions{
		Config: cfg,
		Builder: bundle.New(bundle.Options{
			Base:    dir,
			Runner:  runner,
			Metrics: m,
			Logger:  discardLogger(),
		}),
		Metrics:  m,
		Gatherer: prom,
		Logger:   discardLogger(),
	})
	return &fixture{dir: dir, srv: srv, runner: runner, prom: prom}
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_StaticFiles(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	status, body := get(t, ts.URL+"/a.js")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "var x = 1;", body)

	status, _ = get(t, ts.URL+"/missing.js")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_BundleEndpoint(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	status, body := get(t, ts.URL+BundlePrefix+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bundle of "+filepath.Join(f.dir, "index.html"), body)

	status, _ = get(t, ts.URL+BundlePrefix+"/nothing/here")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Len(t, f.runner.calls, 1)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	get(t, ts.URL+BundlePrefix+"/")
	status, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "assetsync_bundle_builds_total")
}

func TestServer_ChangesReloadAndRescan(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := f.srv.Registry()
	reg.Events().Attach(f.srv.onRegistryEvent, f.srv)
	go f.srv.processRescans(ctx)

	_, _, err := f.srv.Scanner().Scan(ctx, filepath.Join(f.dir, "index.html"))
	require.NoError(t, err)
	require.NotNil(t, reg.Get("a.js"))
	require.Nil(t, reg.Get("b.js"))

	a := write(t, f.dir, "a.js", `var b = resource("b.js");`)
	write(t, f.dir, "b.js", `var y = 2;`)
	f.srv.handleChanges(ctx, []Change{
		{Path: a, Type: ChangeWrite},
		{Path: filepath.Join(f.dir, "unknown.js"), Type: ChangeWrite},
	})

	assert.Equal(t, `var b = resource("b.js");`, reg.Get("a.js").Content())
	require.Eventually(t, func() bool {
		deps := reg.Get("a.js").Dependencies()
		return len(deps) == 1 && deps[0] == "b.js"
	}, 5*time.Second, 10*time.Millisecond)
	assert.NotNil(t, reg.Get("b.js"))
	assert.Nil(t, reg.Get("unknown.js"))

	require.NoError(t, os.Remove(a))
	f.srv.handleChanges(ctx, []Change{{Path: a, Type: ChangeRemove}})
	assert.Nil(t, reg.Get("a.js"))
}

func TestServer_StartAndStop(t *testing.T) {
	f := newFixture(t)
	f.srv.config.Index = filepath.Join(f.dir, "index.html")
	f.srv.config.Sync = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		return f.srv.Addr() != nil
	}, 5*time.Second, 10*time.Millisecond)

	status, body := get(t, "http://"+f.srv.Addr().String()+"/a.js")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "var x = 1;", body)
	assert.NotNil(t, f.srv.Registry().Get("a.js"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
