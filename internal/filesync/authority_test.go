package filesync

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/scan"
)

const projectRoot = "/project"

type fixture struct {
	reg       *files.Registry
	authority *Authority
	server    *httptest.Server
	url       string

	mu     sync.Mutex
	opened []string
}

func newFixture(t *testing.T, tree map[string]string) *fixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, content := range tree {
		require.NoError(t, afero.WriteFile(fsys, projectRoot+name, []byte(content), 0o644))
	}
	logger := discardLogger()
	reg := files.New(files.Options{Root: projectRoot, Fs: fsys, Logger: logger})
	for name := range tree {
		reg.Add(files.Spec{Filename: strings.TrimPrefix(name, "/")})
	}

	fx := &fixture{reg: reg}
	fx.authority = NewAuthority(AuthorityOptions{
		Registry: reg,
		Scanner:  scan.New(scan.Options{Registry: reg, Logger: logger}),
		Bundle: func(_ context.Context, reqPath string) (string, error) {
			return "bundle:" + reqPath, nil
		},
		Open: func(_ context.Context, filename string) error {
			fx.mu.Lock()
			defer fx.mu.Unlock()
			fx.opened = append(fx.opened, filename)
			return nil
		},
		Logger: logger,
	})
	fx.server = httptest.NewServer(fx.authority)
	fx.url = "ws" + strings.TrimPrefix(fx.server.URL, "http")
	t.Cleanup(func() {
		fx.authority.Close()
		fx.server.Close()
	})
	return fx
}

func (fx *fixture) connect(t *testing.T, m *Mirror) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx, fx.url))
	t.Cleanup(func() { m.Close() })
}

func entryExists(m *Mirror, filename string) func() bool {
	return func() bool {
		_, ok := m.Entry(filename)
		return ok
	}
}

func TestAuthority_HandshakeAnnouncesRegistry(t *testing.T) {
	fx := newFixture(t, map[string]string{"/a.js": "a", "/css/site.css": "body{}"})
	m := NewMirror(MirrorOptions{Logger: discardLogger()})

	fx.connect(t, m)

	assert.True(t, m.Online().Get())
	assert.Equal(t, 1, fx.authority.ClientCount())

	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "/a.js", entries[0].Filename)
	assert.Equal(t, fx.reg.Get("a.js").Digest(), entries[0].Digest)
	assert.False(t, entries[0].Loaded)
	assert.Equal(t, "/css/site.css", entries[1].Filename)
}

func TestAuthority_HandshakePushesStaleAndRemoved(t *testing.T) {
	fx := newFixture(t, map[string]string{"/a.js": "current", "/b.js": "b"})
	m := NewMirror(MirrorOptions{Logger: discardLogger()})
	require.NoError(t, m.applyNew(FilePayload{Filename: "/a.js", Content: "old", Digest: "old"}))
	require.NoError(t, m.applyNew(FilePayload{Filename: "/b.js", Content: "b", Digest: files.Digest("b")}))
	require.NoError(t, m.applyNew(FilePayload{Filename: "/gone.js", Content: "g", Digest: "g"}))

	fx.connect(t, m)

	a, _ := m.Entry("/a.js")
	assert.Equal(t, "current", a.Content)
	assert.True(t, a.Loaded)
	assert.Equal(t, files.Digest("current"), a.Digest)

	b, _ := m.Entry("/b.js")
	assert.True(t, b.Loaded)

	_, ok := m.Entry("/gone.js")
	assert.False(t, ok)
}

func TestAuthority_ReadFile(t *testing.T) {
	fx := newFixture(t, map[string]string{"/a.js": "const a = 1"})
	require.NoError(t, afero.WriteFile(fx.reg.Fs(), projectRoot+"/late.js", []byte("late"), 0o644))
	m := NewMirror(MirrorOptions{Logger: discardLogger()})
	fx.connect(t, m)
	ctx := context.Background()

	content, err := m.Read(ctx, "/a.js")
	require.NoError(t, err)
	assert.Equal(t, "const a = 1", content)
	e, _ := m.Entry("/a.js")
	assert.True(t, e.Loaded)

	content, err = m.Read(ctx, "/late.js")
	require.NoError(t, err)
	assert.Equal(t, "late", content)
	assert.NotNil(t, fx.reg.Get("late.js"))

	_, err = m.Read(ctx, "/missing.js")
	assert.True(t, errors.IsCode(err, "A100"))
	assert.ErrorIs(t, err, errors.ErrRemote)

	_, err = m.Read(ctx, "/../etc/passwd")
	assert.True(t, errors.IsCode(err, "A160"))
}

func TestAuthority_SaveIsOptimisticAndPersisted(t *testing.T) {
	fx := newFixture(t, map[string]string{"/a.js": "one"})
	m := NewMirror(MirrorOptions{Logger: discardLogger()})
	fx.connect(t, m)

	require.NoError(t, m.Save(context.Background(), "/a.js", "two"))

	assert.Equal(t, "two", fx.reg.Get("a.js").Content())
	data, err := afero.ReadFile(fx.reg.Fs(), projectRoot+"/a.js")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	e, _ := m.Entry("/a.js")
	assert.Equal(t, "two", e.Content)
	assert.Equal(t, fx.reg.Get("a.js").Digest(), e.Digest)
}

func TestAuthority_FailedSaveKeepsLocalContent(t *testing.T) {
	fx := newFixture(t, nil)
	m := NewMirror(MirrorOptions{Logger: discardLogger()})
	fx.connect(t, m)

	err := m.Save(context.Background(), "/../outside.js", "x")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "A160"))

	e, ok := m.Entry("/../outside.js")
	require.True(t, ok)
	assert.Equal(t, "x", e.Content)
}

func TestAuthority_PushesRegistryChanges(t *testing.T) {
	fx := newFixture(t, map[string]string{"/a.js": "one"})
	m := NewMirror(MirrorOptions{Logger: discardLogger()})
	fx.connect(t, m)

	fx.reg.SetContent(fx.reg.Get("a.js"), "two")
	require.Eventually(t, func() bool {
		e, _ := m.Entry("/a.js")
		return e.Content == "two"
	}, 2*time.Second, 10*time.Millisecond)

	fx.reg.Add(files.Spec{Filename: "new.js", Content: "fresh"})
	require.Eventually(t, entryExists(m, "/new.js"), 2*time.Second, 10*time.Millisecond)

	fx.reg.Remove("a.js")
	require.Eventually(t, func() bool {
		_, ok := m.Entry("/a.js")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuthority_CreateFile(t *testing.T) {
	fx := newFixture(t, map[string]string{"/exists.js": "x"})
	m := NewMirror(MirrorOptions{Logger: discardLogger()})
	fx.connect(t, m)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "/lib/new.js"))
	assert.NotNil(t, fx.reg.Get("lib/new.js"))
	exists, err := afero.Exists(fx.reg.Fs(), projectRoot+"/lib/new.js")
	require.NoError(t, err)
	assert.True(t, exists)

	err = m.Create(ctx, "/exists.js")
	assert.True(t, errors.IsCode(err, "A161"))
}

func TestAuthority_OpenFile(t *testing.T) {
	fx := newFixture(t, map[string]string{"/a.js": "x"})
	m := NewMirror(MirrorOptions{Logger: discardLogger()})
	fx.connect(t, m)

	require.NoError(t, m.Open(context.Background(), "/a.js"))
	fx.mu.Lock()
	defer fx.mu.Unlock()
	assert.Equal(t, []string{projectRoot + "/a.js"}, fx.opened)
}

func TestAuthority_OpenFileWithoutEditor(t *testing.T) {
	reg := files.New(files.Options{Root: "/", Fs: afero.NewMemMapFs(), Logger: discardLogger()})
	a := NewAuthority(AuthorityOptions{Registry: reg, Logger: discardLogger()})
	defer a.Close()

	_, err := a.handleOpenFile(context.Background(), nil, []byte(`["/a.js"]`))
	assert.True(t, errors.IsCode(err, "A162"))

	_, err = a.handleGetBundle(context.Background(), nil, []byte(`["/"]`))
	assert.True(t, errors.IsCode(err, "A123"))
}

func TestAuthority_FileGraph(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"/index.html": `<script src="app.js"></script>`,
		"/app.js":     `basis.resource("./tmpl/view.tmpl");`,
	})
	m := NewMirror(MirrorOptions{Logger: discardLogger()})
	fx.connect(t, m)

	g, err := m.FileGraph(context.Background(), "http://localhost:8000/")
	require.NoError(t, err)

	var ids []string
	for _, n := range g.Files {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"index.html", "app.js", "tmpl/view.tmpl"}, ids)
	assert.Len(t, g.Links, 2)
}

func TestAuthority_Bundle(t *testing.T) {
	fx := newFixture(t, nil)
	m := NewMirror(MirrorOptions{Logger: discardLogger()})
	fx.connect(t, m)

	content, err := m.Bundle(context.Background(), "/widgets/foo")
	require.NoError(t, err)
	assert.Equal(t, "bundle:/widgets/foo", content)
}

func TestAuthority_UnknownRequest(t *testing.T) {
	fx := newFixture(t, nil)
	m := NewMirror(MirrorOptions{Logger: discardLogger()})
	fx.connect(t, m)

	err := m.request(context.Background(), "dance", nil)
	assert.True(t, errors.IsCode(err, "A123"))
}

func TestMirror_GoesOfflineOnDisconnect(t *testing.T) {
	fx := newFixture(t, map[string]string{"/a.js": "x"})
	m := NewMirror(MirrorOptions{Logger: discardLogger()})

	var states []bool
	var mu sync.Mutex
	m.Online().Attach(func(v bool) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, v)
	}, nil)

	fx.connect(t, m)
	fx.authority.Close()

	require.Eventually(t, func() bool { return !m.Online().Get() }, 2*time.Second, 10*time.Millisecond)
	_, err := m.Read(context.Background(), "/a.js")
	assert.ErrorIs(t, err, errors.ErrOffline)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, states)
}

func TestOriginPath(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8000/":          "/index.html",
		"http://localhost:8000/app/":      "/app/index.html",
		"http://localhost:8000/page.html": "/page.html",
		"/demo/":                          "/demo/index.html",
		"":                                "index.html",
	}
	for in, want := range tests {
		assert.Equal(t, want, originPath(in), in)
	}
}
