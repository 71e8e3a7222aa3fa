package files

import (
	stderrors "errors"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/notify"
)

// Action identifies a registry change.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionRemoved Action = "removed"
)

// Event describes a change to a named file. File is nil for removals.
type Event struct {
	Action Action
	ID     string
	File   *File
}

// Spec describes a file to add.
type Spec struct {
	// Filename is absolute or relative to the registry root. Empty for
	// anonymous content blobs.
	Filename string

	// Type overrides the extension based classification.
	Type Type

	// Content is used for anonymous files, and for named files that do not
	// exist in the store.
	Content string

	// BaseURI is the reference base for anonymous files.
	BaseURI string

	// Source records how the file was discovered.
	Source string
}

// Options configures a Registry.
type Options struct {
	// Root is the base directory. Relative roots are made absolute.
	Root string

	// Fs is the backing store. Defaults to the OS filesystem.
	Fs afero.Fs

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Registry maps canonical ids to Files and records every File in insertion
// order.
type Registry struct {
	mu    sync.RWMutex
	root  string
	fs    afero.Fs
	files map[string]*File
	queue []*File

	events *notify.Stream[Event]
	logger *slog.Logger
}

// New creates an empty registry.
func New(opts Options) *Registry {
	root := opts.Root
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	root = filepath.ToSlash(filepath.Clean(root))

	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "files")

	return &Registry{
		root:   root,
		fs:     fsys,
		files:  make(map[string]*File),
		events: notify.NewStream[Event](notify.WithLogger(logger), notify.WithName("registry")),
		logger: logger,
	}
}

// Root returns the absolute, slash-separated base directory.
func (r *Registry) Root() string { return r.root }

// Fs returns the backing store.
func (r *Registry) Fs() afero.Fs { return r.fs }

// Events returns the stream of registry changes.
func (r *Registry) Events() *notify.Stream[Event] { return r.events }

// Normpath returns the absolute, slash-separated form of filename. Relative
// names resolve against the root.
func (r *Registry) Normpath(filename string) string {
	name := strings.ReplaceAll(filename, "\\", "/")
	if !path.IsAbs(name) && !filepath.IsAbs(filename) {
		name = path.Join(r.root, name)
	}
	return path.Clean(name)
}

// ID returns the canonical id of filename: its path relative to the root.
func (r *Registry) ID(filename string) string {
	abs := r.Normpath(filename)
	if abs == r.root {
		return "."
	}
	prefix := r.root
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if rel, ok := strings.CutPrefix(abs, prefix); ok {
		return rel
	}
	rel, err := filepath.Rel(filepath.FromSlash(r.root), filepath.FromSlash(abs))
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// Within resolves a root-relative filename such as "/src/app.js" and
// rejects paths outside the root.
func (r *Registry) Within(filename string) (string, error) {
	abs := r.Normpath(strings.TrimPrefix(strings.ReplaceAll(filename, "\\", "/"), "/"))
	id := r.ID(abs)
	if id == ".." || strings.HasPrefix(id, "../") || path.IsAbs(id) {
		return "", errors.New("A160").WithDetail(filename)
	}
	return abs, nil
}

// Get returns the file registered under filename, or nil.
func (r *Registry) Get(filename string) *File {
	id := r.ID(filename)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.files[id]
}

// Len returns the number of named files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// Files returns the named files in insertion order.
func (r *Registry) Files() []*File {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*File, 0, len(r.files))
	for _, f := range r.queue {
		if f.filename != "" && !f.isRemoved() {
			out = append(out, f)
		}
	}
	return out
}

// Add registers the file described by spec and returns it. If a file with
// the same canonical id exists, that file is returned unchanged with created
// false. Named files are read from the store; a missing file gets a
// placeholder so that dangling references stay visible.
func (r *Registry) Add(spec Spec) (*File, bool) {
	f := &File{
		typ:     spec.Type,
		source:  spec.Source,
		baseURI: spec.BaseURI,
	}

	if spec.Filename == "" {
		if f.typ == "" {
			f.typ = TypeUnknown
		}
		if f.baseURI == "" {
			f.baseURI = dirURI(r.root)
		}
		f.setContent(spec.Content)

		r.mu.Lock()
		r.queue = append(r.queue, f)
		r.mu.Unlock()
		return f, true
	}

	f.filename = r.Normpath(spec.Filename)
	f.id = r.ID(f.filename)
	if f.typ == "" {
		f.typ = TypeOf(f.filename)
	}

	r.mu.RLock()
	existing := r.files[f.id]
	r.mu.RUnlock()
	if existing != nil {
		r.logger.Debug("file already in registry", "file", f.id)
		return existing, false
	}

	content, err := r.read(f.filename)
	switch {
	case err == nil:
	case stderrors.Is(err, fs.ErrNotExist):
		if spec.Content != "" {
			content = spec.Content
		} else {
			content = notFoundContent(f.filename)
		}
		r.logger.Warn("file not found", "file", f.id)
	default:
		content = notFoundContent(f.filename)
		r.logger.Warn("file could not be read", "file", f.id, "error", err)
	}
	f.setContent(content)

	r.mu.Lock()
	if existing := r.files[f.id]; existing != nil {
		r.mu.Unlock()
		return existing, false
	}
	r.files[f.id] = f
	r.queue = append(r.queue, f)
	r.mu.Unlock()

	r.events.Emit(Event{Action: ActionCreated, ID: f.id, File: f})
	return f, true
}

// Remove deletes the file from the map and the queue. It reports whether a
// file was removed.
func (r *Registry) Remove(filename string) bool {
	id := r.ID(filename)

	r.mu.Lock()
	f := r.files[id]
	if f == nil {
		r.mu.Unlock()
		return false
	}
	delete(r.files, id)
	f.markRemoved()
	r.mu.Unlock()

	r.events.Emit(Event{Action: ActionRemoved, ID: id})
	return true
}

// Discard retires f so that cursors skip it. Named files are removed as by
// Remove.
func (r *Registry) Discard(f *File) {
	if f.filename != "" {
		r.Remove(f.filename)
		return
	}
	f.markRemoved()
}

// Queued returns the number of live files in the queue, anonymous files
// included.
func (r *Registry) Queued() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, f := range r.queue {
		if !f.isRemoved() {
			n++
		}
	}
	return n
}

// SetContent replaces the content of f. It reports whether the content
// changed; unchanged content keeps the cached digest and emits nothing.
func (r *Registry) SetContent(f *File, content string) bool {
	if !f.setContent(content) {
		return false
	}
	if f.filename != "" && !f.isRemoved() {
		r.events.Emit(Event{Action: ActionUpdated, ID: f.id, File: f})
	}
	return true
}

// SetOutputContent sets the output override of f.
func (r *Registry) SetOutputContent(f *File, content string) {
	f.setOutputContent(content)
}

// SetDependencies replaces the dependency edges of f.
func (r *Registry) SetDependencies(f *File, ids []string) {
	f.setDependencies(ids)
}

// AddDependency appends a dependency edge from f to id.
func (r *Registry) AddDependency(f *File, id string) {
	f.addDependency(id)
}

// Reload re-reads a registered file from the store. It returns the file and
// whether its content changed. Unknown files are ignored.
func (r *Registry) Reload(filename string) (*File, bool, error) {
	f := r.Get(filename)
	if f == nil {
		return nil, false, nil
	}
	content, err := r.read(f.filename)
	if err != nil {
		return f, false, errors.FromError(err, "A100").WithDetail(f.id)
	}
	return f, r.SetContent(f, content), nil
}

// Save writes content to the root-relative filename and updates the
// registry. Without overwrite an existing file is left alone and A161 is
// returned.
func (r *Registry) Save(filename, content string, overwrite bool) (*File, error) {
	abs, err := r.Within(filename)
	if err != nil {
		return nil, err
	}
	if !overwrite {
		if exists, _ := afero.Exists(r.fs, filepath.FromSlash(abs)); exists {
			return nil, errors.New("A161").WithDetail(r.ID(abs))
		}
	}
	if err := r.fs.MkdirAll(filepath.Dir(filepath.FromSlash(abs)), 0o755); err != nil {
		return nil, errors.FromError(err, "A100").WithDetail(r.ID(abs))
	}
	if err := afero.WriteFile(r.fs, filepath.FromSlash(abs), []byte(content), 0o644); err != nil {
		return nil, errors.FromError(err, "A100").WithDetail(r.ID(abs))
	}

	f, created := r.Add(Spec{Filename: abs, Source: "save"})
	if !created {
		r.SetContent(f, content)
	}
	return f, nil
}

// Create creates an empty root-relative file. It fails with A161 if the file exists.
func (r *Registry) Create(filename string) (*File, error) {
	return r.Save(filename, "", false)
}

func (r *Registry) read(filename string) (string, error) {
	data, err := afero.ReadFile(r.fs, filepath.FromSlash(filename))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Cursor walks the registry queue. Files appended after the cursor was
// created are returned by later calls to Next.
type Cursor struct {
	r   *Registry
	pos int
}

// Cursor returns a cursor positioned at the start of the queue.
func (r *Registry) Cursor() *Cursor {
	return &Cursor{r: r}
}

// Next returns the next live file in the queue.
func (c *Cursor) Next() (*File, bool) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()
	for c.pos < len(c.r.queue) {
		f := c.r.queue[c.pos]
		c.pos++
		if !f.isRemoved() {
			return f, true
		}
	}
	return nil, false
}
