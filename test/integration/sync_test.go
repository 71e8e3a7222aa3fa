package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetsync/assetsync/internal/bundle"
	"github.com/assetsync/assetsync/internal/config"
	"github.com/assetsync/assetsync/internal/dev"
	"github.com/assetsync/assetsync/internal/filesync"
	"github.com/assetsync/assetsync/internal/metrics"
)

// stubRunner answers every build with the entry path.
type stubRunner struct{}

func (stubRunner) Run(_ context.Context, args []string) (bundle.Outcome, error) {
	return bundle.Outcome{Messages: []bundle.Message{
		{Event: bundle.EventDone, Bundle: &bundle.BundleContent{Content: "// built " + filepath.Base(args[1])}},
	}}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func newProject(t *testing.T) (string, *dev.Server) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "index.html", `<link rel="stylesheet" href="style.css"><script src="app.js"></script>`)
	writeFile(t, dir, "app.js", `var util = basis.resource('./lib/util.js');`)
	writeFile(t, dir, "lib/util.js", `module.exports = 1;`)
	writeFile(t, dir, "style.css", `body { color: red }`)

	cfg := config.New()
	cfg.Base = dir
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Index = filepath.Join(dir, "index.html")

	prom := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(prom))
	srv := dev.NewServer(dev.ServerOptions{
		Config:   cfg,
		Builder:  bundle.New(bundle.Options{Base: dir, Runner: stubRunner{}, Logger: quietLogger()}),
		Metrics:  m,
		Gatherer: prom,
		Logger:   quietLogger(),
	})
	return dir, srv
}

func startServer(t *testing.T, srv *dev.Server) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	return srv.Addr().String()
}

// TestServerToMirror runs a server over a real project directory and follows
// it with a mirror.
func TestServerToMirror(t *testing.T) {
	dir, srv := newProject(t)
	addr := startServer(t, srv)

	m := filesync.NewMirror(filesync.MirrorOptions{Logger: quietLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx, "ws://"+addr+dev.SocketPath))
	defer m.Close()
	assert.True(t, m.Online().Get())

	// The index scan announced the whole graph.
	for _, name := range []string{"/index.html", "/app.js", "/lib/util.js", "/style.css"} {
		_, ok := m.Entry(name)
		assert.True(t, ok, "missing %s", name)
	}

	content, err := m.Read(ctx, "/lib/util.js")
	require.NoError(t, err)
	assert.Equal(t, "module.exports = 1;", content)

	// Edits on disk reach the mirror through the watcher.
	writeFile(t, dir, "lib/util.js", `module.exports = 2;`)
	require.Eventually(t, func() bool {
		e, ok := m.Entry("/lib/util.js")
		return ok && e.Loaded && e.Content == "module.exports = 2;"
	}, 5*time.Second, 20*time.Millisecond)

	// Saves from the mirror reach the disk.
	require.NoError(t, m.Save(ctx, "/notes/todo.txt", "ship it"))
	data, err := os.ReadFile(filepath.Join(dir, "notes", "todo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ship it", string(data))

	g, err := m.FileGraph(ctx, "/index.html")
	require.NoError(t, err)
	ids := make([]string, 0, len(g.Files))
	for _, f := range g.Files {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []string{"index.html", "app.js", "lib/util.js", "style.css"}, ids)

	out, err := m.Bundle(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, "// built index.html", out)

	_, err = m.Bundle(ctx, "/missing/")
	assert.Error(t, err)
}

// TestMountInChiRouter serves the server's handler below a prefix of an
// application router.
func TestMountInChiRouter(t *testing.T) {
	_, srv := newProject(t)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Mount("/assets", http.StripPrefix("/assets", srv.Handler()))

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/assets/style.css")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body { color: red }", string(body))

	resp, err = http.Get(ts.URL + "/assets" + dev.BundlePrefix + "/index.html")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "// built"))

	m := filesync.NewMirror(filesync.MirrorOptions{Logger: quietLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/assets" + dev.SocketPath
	require.NoError(t, m.Connect(ctx, wsURL))
	assert.NoError(t, m.Close())
}
