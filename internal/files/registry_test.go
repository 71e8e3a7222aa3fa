package files

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetsync/assetsync/internal/errors"
)

func newTestRegistry(t *testing.T, files map[string]string) *Registry {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fsys, name, []byte(content), 0o644))
	}
	return New(Options{
		Root:   "/",
		Fs:     fsys,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func countDigests(t *testing.T) *atomic.Int32 {
	t.Helper()
	var n atomic.Int32
	prev := digestFunc
	digestFunc = func(s string) string {
		n.Add(1)
		return Digest(s)
	}
	t.Cleanup(func() { digestFunc = prev })
	return &n
}

func TestTypeOf(t *testing.T) {
	tests := map[string]Type{
		"a.js":         TypeScript,
		"a.css":        TypeStyle,
		"a.tmpl":       TypeTemplate,
		"index.html":   TypeMarkup,
		"index.HTM":    TypeMarkup,
		"logo.svg":     TypeMarkup,
		"data.json":    TypeData,
		"icon.png":     TypeImage,
		"photo.JPEG":   TypeImage,
		"notes.txt":    TypeUnknown,
		"no-extension": TypeUnknown,
	}
	for name, want := range tests {
		assert.Equal(t, want, TypeOf(name), name)
	}
}

func TestDigest_URLSafeWithoutPadding(t *testing.T) {
	d := Digest("hello")
	assert.Len(t, d, 22)
	assert.NotContains(t, d, "=")
	assert.NotContains(t, d, "/")
	assert.NotContains(t, d, "+")
	assert.Equal(t, "XUFAKrxLKna5cZ2REBfFkg", d)
}

func TestAdd_DedupsRelativeSpellings(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"/src/app.js": "x"})

	a, created := r.Add(Spec{Filename: "src/app.js"})
	require.True(t, created)
	b, created := r.Add(Spec{Filename: "./src/../src/app.js"})
	assert.False(t, created)
	c, _ := r.Add(Spec{Filename: "/src/app.js"})

	assert.Same(t, a, b)
	assert.Same(t, a, c)
	assert.Equal(t, "src/app.js", a.ID())
	assert.Equal(t, "/src/app.js", a.Filename())
	assert.Equal(t, "/src/", a.BaseURI())
	assert.Equal(t, 1, r.Len())
	assert.Same(t, a, r.Get("src/./app.js"))
}

func TestAdd_ReadsContentAndClassifies(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"/style.css": "body{}"})

	f, _ := r.Add(Spec{Filename: "style.css", Source: "html:link"})
	assert.Equal(t, "body{}", f.Content())
	assert.Equal(t, TypeStyle, f.Type())
	assert.Equal(t, "html:link", f.Source())
	assert.Equal(t, "utf-8", f.Encoding())
	assert.Equal(t, "style.css", f.RelPath())
}

func TestAdd_MissingFilesGetPlaceholders(t *testing.T) {
	r := newTestRegistry(t, nil)

	js, _ := r.Add(Spec{Filename: "lib/missing.js"})
	css, _ := r.Add(Spec{Filename: "missing.css"})
	png, _ := r.Add(Spec{Filename: "missing.png"})

	assert.Equal(t, "/* Javascript file /lib/missing.js not found */", js.Content())
	assert.Equal(t, "/* CSS file /missing.css not found */", css.Content())
	assert.Equal(t, "", png.Content())
	assert.Equal(t, "binary", png.Encoding())
}

func TestAdd_AnonymousContent(t *testing.T) {
	r := newTestRegistry(t, nil)

	f, created := r.Add(Spec{Content: "inline()", Type: TypeScript})
	require.True(t, created)
	assert.True(t, f.Anonymous())
	assert.Equal(t, "[no filename]", f.RelPath())
	assert.Equal(t, "/", f.BaseURI())
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Files())

	next, ok := r.Cursor().Next()
	require.True(t, ok)
	assert.Same(t, f, next)
}

func TestDigest_ComputedOncePerMutation(t *testing.T) {
	calls := countDigests(t)
	r := newTestRegistry(t, map[string]string{"/a.js": "one"})

	f, _ := r.Add(Spec{Filename: "a.js"})
	assert.Equal(t, int32(0), calls.Load())

	d1 := f.Digest()
	assert.Equal(t, d1, f.Digest())
	assert.Equal(t, int32(1), calls.Load())

	require.True(t, r.SetContent(f, "two"))
	d2 := f.Digest()
	f.Digest()
	assert.NotEqual(t, d1, d2)
	assert.Equal(t, int32(2), calls.Load())

	assert.False(t, r.SetContent(f, "two"))
	f.Digest()
	assert.Equal(t, int32(2), calls.Load())
}

func TestDigest_PrefersOutputContent(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"/a.js": "source"})
	f, _ := r.Add(Spec{Filename: "a.js"})
	before := f.Digest()

	r.SetOutputContent(f, "compiled")
	out, ok := f.OutputContent()
	require.True(t, ok)
	assert.Equal(t, "compiled", out)
	assert.Equal(t, Digest("compiled"), f.Digest())
	assert.NotEqual(t, before, f.Digest())
}

func TestSetContent_BumpsVersionAndEmits(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"/a.js": "one"})
	var got []Event
	r.Events().Attach(func(e Event) { got = append(got, e) }, nil)

	f, _ := r.Add(Spec{Filename: "a.js"})
	v := f.Version()
	r.SetContent(f, "two")
	r.SetContent(f, "two")

	assert.Equal(t, v+1, f.Version())
	require.Len(t, got, 2)
	assert.Equal(t, ActionCreated, got[0].Action)
	assert.Equal(t, ActionUpdated, got[1].Action)
	assert.Equal(t, "a.js", got[1].ID)
}

func TestRemove_DropsFromMapAndQueue(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"/a.js": "a", "/b.js": "b"})
	var removed []string
	r.Events().Attach(func(e Event) {
		if e.Action == ActionRemoved {
			removed = append(removed, e.ID)
		}
	}, nil)

	r.Add(Spec{Filename: "a.js"})
	b, _ := r.Add(Spec{Filename: "b.js"})

	assert.True(t, r.Remove("/a.js"))
	assert.False(t, r.Remove("a.js"))
	assert.Nil(t, r.Get("a.js"))
	assert.Equal(t, []string{"a.js"}, removed)

	c := r.Cursor()
	next, ok := c.Next()
	require.True(t, ok)
	assert.Same(t, b, next)
	_, ok = c.Next()
	assert.False(t, ok)

	again, created := r.Add(Spec{Filename: "a.js"})
	assert.True(t, created)
	assert.Equal(t, "a", again.Content())
}

func TestCursor_SeesFilesAppendedDuringIteration(t *testing.T) {
	r := newTestRegistry(t, nil)
	r.Add(Spec{Filename: "a.js"})

	c := r.Cursor()
	var seen []string
	for f, ok := c.Next(); ok; f, ok = c.Next() {
		seen = append(seen, f.ID())
		if f.ID() == "a.js" {
			r.Add(Spec{Filename: "b.js"})
		}
	}
	assert.Equal(t, []string{"a.js", "b.js"}, seen)
}

func TestReload_PicksUpDiskChanges(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"/a.js": "one"})
	f, _ := r.Add(Spec{Filename: "a.js"})

	require.NoError(t, afero.WriteFile(r.Fs(), "/a.js", []byte("two"), 0o644))
	got, changed, err := r.Reload("a.js")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Same(t, f, got)
	assert.Equal(t, "two", f.Content())

	got, changed, err = r.Reload("unknown.js")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, changed)
}

func TestSave_WritesAndUpdates(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"/a.js": "one"})
	f, _ := r.Add(Spec{Filename: "a.js"})

	saved, err := r.Save("/a.js", "two", true)
	require.NoError(t, err)
	assert.Same(t, f, saved)
	assert.Equal(t, "two", f.Content())

	data, err := afero.ReadFile(r.Fs(), "/a.js")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	_, err = r.Save("/a.js", "three", false)
	assert.True(t, errors.IsCode(err, "A161"))
	assert.Equal(t, "two", f.Content())
}

func TestCreate_NewAndExisting(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"/exists.js": "x"})

	f, err := r.Create("/new/file.css")
	require.NoError(t, err)
	assert.Equal(t, "new/file.css", f.ID())
	assert.Equal(t, "", f.Content())

	_, err = r.Create("/exists.js")
	assert.True(t, errors.IsCode(err, "A161"))
}

func TestWithin_RejectsEscapes(t *testing.T) {
	r := New(Options{Root: "/srv/app", Fs: afero.NewMemMapFs()})

	abs, err := r.Within("/src/app.js")
	require.NoError(t, err)
	assert.Equal(t, "/srv/app/src/app.js", abs)

	_, err = r.Within("/../etc/passwd")
	assert.ErrorIs(t, err, errors.ErrPathEscape)
	_, err = r.Within("src/../../other.js")
	assert.ErrorIs(t, err, errors.ErrPathEscape)
}

func TestDependencies_Copied(t *testing.T) {
	r := newTestRegistry(t, nil)
	f, _ := r.Add(Spec{Filename: "a.js"})

	r.SetDependencies(f, []string{"b.js"})
	r.AddDependency(f, "c.js")
	deps := f.Dependencies()
	deps[0] = "mutated"

	assert.Equal(t, []string{"b.js", "c.js"}, f.Dependencies())
}

func TestDiscard_AnonymousFile(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"/a.js": "a"})
	a, _ := r.Add(Spec{Filename: "a.js"})
	blob, _ := r.Add(Spec{Type: TypeScript, Content: "x"})
	assert.Equal(t, 2, r.Queued())

	r.Discard(blob)
	assert.Equal(t, 1, r.Queued())
	assert.Equal(t, 1, r.Len())

	c := r.Cursor()
	next, ok := c.Next()
	require.True(t, ok)
	assert.Same(t, a, next)
	_, ok = c.Next()
	assert.False(t, ok)

	r.Discard(a)
	assert.Nil(t, r.Get("a.js"))
	assert.Equal(t, 0, r.Queued())
}
