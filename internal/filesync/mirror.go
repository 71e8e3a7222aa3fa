package filesync

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/metrics"
	"github.com/assetsync/assetsync/internal/notify"
	"github.com/assetsync/assetsync/internal/scan"
)

// Entry is a mirrored file. Loaded is false for files announced by the
// authority whose content has not been fetched yet.
type Entry struct {
	Filename string
	Content  string
	Digest   string
	Loaded   bool
}

// Change is a mirror lifecycle event.
type Change struct {
	Action files.Action
	Entry  Entry
}

// MirrorOptions configures a Mirror.
type MirrorOptions struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the websocket handshake.
	Header http.Header

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Mirror is a remote cache of an authority's files.
type Mirror struct {
	dialer *websocket.Dialer
	header http.Header

	mu      sync.RWMutex
	entries map[string]*Entry
	conn    *Conn

	online  *notify.Value[bool]
	changes *notify.Stream[Change]

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewMirror creates a disconnected mirror.
func NewMirror(opts MirrorOptions) *Mirror {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mirror")

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Mirror{
		dialer:  dialer,
		header:  opts.Header,
		entries: make(map[string]*Entry),
		online:  notify.NewValue(false, notify.WithLogger(logger), notify.WithName("online")),
		changes: notify.NewStream[Change](notify.WithLogger(logger), notify.WithName("changes")),
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Online is true between a completed handshake and the next disconnect.
func (m *Mirror) Online() *notify.Value[bool] { return m.online }

// Changes streams created, updated and removed entries.
func (m *Mirror) Changes() *notify.Stream[Change] { return m.changes }

// Connect dials the authority at url and performs the handshake. It returns
// once the mirror is online. The connection is served in the background
// until it fails or Close is called.
func (m *Mirror) Connect(ctx context.Context, url string) error {
	_, err := m.connect(ctx, url)
	return err
}

func (m *Mirror) connect(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := m.dialer.DialContext(ctx, url, m.header)
	if err != nil {
		return nil, errors.New("A120").WithDetail(url).Wrap(err)
	}

	c := newConn(ws, m.logger, m.metrics)
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = c
	m.mu.Unlock()

	go m.serve(c)

	if err := c.Request(ctx, RequestHandshake, nil, m.handshake()); err != nil {
		c.Close()
		return nil, err
	}
	m.online.Set(true)
	m.logger.Info("mirror online", "url", url)
	return c, nil
}

// Run keeps the mirror connected, reconnecting with exponential backoff
// until ctx is done.
func (m *Mirror) Run(ctx context.Context, url string) error {
	delay := time.Second
	const maxDelay = 30 * time.Second

	for {
		c, err := m.connect(ctx, url)
		if err != nil {
			m.logger.Warn("connect failed", "url", url, "error", err, "retry", delay)
		} else {
			delay = time.Second
			select {
			case <-ctx.Done():
				m.Close()
				return ctx.Err()
			case <-c.Done():
			}
		}

		select {
		case <-ctx.Done():
			m.Close()
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDelay)
	}
}

// Close disconnects from the authority.
func (m *Mirror) Close() error {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()
	m.online.Set(false)
	if c == nil {
		return nil
	}
	return c.Close()
}

func (m *Mirror) serve(c *Conn) {
	err := c.readLoop(m.handleEvent)

	m.mu.Lock()
	current := m.conn == c
	if current {
		m.conn = nil
	}
	m.mu.Unlock()

	if current {
		m.online.Set(false)
		m.logger.Warn("mirror offline", "operation", "transport", "error", err)
	}
}

func (m *Mirror) handleEvent(env envelope) {
	var err error
	switch env.Event {
	case EventHandshake:
		var hs Handshake
		if err = json.Unmarshal(env.Data, &hs); err == nil {
			m.applyHandshake(hs)
		}
	case EventNewFile:
		var p FilePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = m.applyNew(p)
		}
	case EventUpdateFile:
		var p FilePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = m.applyUpdate(p)
		}
	case EventDeleteFile:
		var p DeletePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			m.applyDelete(p.Filename)
		}
	case EventError:
		var p ErrorPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			m.logger.Error("authority reported an error", "operation", p.Operation, "message", p.Message)
		}
	default:
		m.logger.Debug("unknown event", "event", env.Event)
	}
	if err != nil {
		m.logger.Warn("event could not be applied", "operation", env.Event, "error", errors.New("A122").Wrap(err))
	}
}

// applyHandshake creates placeholder entries for announced files. Content
// is fetched on demand.
func (m *Mirror) applyHandshake(hs Handshake) {
	var created []Entry
	m.mu.Lock()
	for _, fd := range hs.Files {
		e, ok := m.entries[fd.Filename]
		if !ok {
			e = &Entry{Filename: fd.Filename}
			m.entries[fd.Filename] = e
			created = append(created, *e)
		}
		if e.Digest != fd.Digest {
			e.Digest = fd.Digest
			e.Loaded = false
		}
	}
	m.mu.Unlock()

	for _, e := range created {
		m.changes.Emit(Change{Action: files.ActionCreated, Entry: e})
	}
}

// applyNew creates or replaces an entry.
func (m *Mirror) applyNew(p FilePayload) error {
	content, err := p.decodedContent()
	if err != nil {
		return err
	}

	m.mu.Lock()
	_, existed := m.entries[p.Filename]
	e := &Entry{Filename: p.Filename, Content: content, Digest: p.Digest, Loaded: true}
	m.entries[p.Filename] = e
	snapshot := *e
	m.mu.Unlock()

	action := files.ActionCreated
	if existed {
		action = files.ActionUpdated
	}
	m.changes.Emit(Change{Action: action, Entry: snapshot})
	return nil
}

// applyUpdate stores new content when it differs. The digest is always
// adopted, even when the content is unchanged.
func (m *Mirror) applyUpdate(p FilePayload) error {
	content, err := p.decodedContent()
	if err != nil {
		return err
	}

	m.mu.Lock()
	e, ok := m.entries[p.Filename]
	if !ok {
		m.mu.Unlock()
		return m.applyNew(p)
	}
	changed := !e.Loaded || e.Content != content
	e.Content = content
	e.Digest = p.Digest
	e.Loaded = true
	snapshot := *e
	m.mu.Unlock()

	if changed {
		m.changes.Emit(Change{Action: files.ActionUpdated, Entry: snapshot})
	}
	return nil
}

func (m *Mirror) applyDelete(filename string) {
	m.mu.Lock()
	e, ok := m.entries[filename]
	if ok {
		delete(m.entries, filename)
	}
	m.mu.Unlock()

	if ok {
		m.changes.Emit(Change{Action: files.ActionRemoved, Entry: *e})
	}
}

func (m *Mirror) handshake() Handshake {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hs := Handshake{Files: make([]FileDigest, 0, len(m.entries))}
	for _, e := range m.entries {
		hs.Files = append(hs.Files, FileDigest{Filename: e.Filename, Digest: e.Digest})
	}
	sort.Slice(hs.Files, func(i, j int) bool { return hs.Files[i].Filename < hs.Files[j].Filename })
	return hs
}

// Entry returns a copy of the entry for filename.
func (m *Mirror) Entry(filename string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[filename]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns copies of all entries sorted by filename.
func (m *Mirror) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// request sends a request when online and fails with ErrOffline otherwise.
func (m *Mirror) request(ctx context.Context, name string, result any, args ...any) error {
	m.mu.RLock()
	c := m.conn
	m.mu.RUnlock()

	if c == nil || !m.online.Get() {
		err := errors.New("A120").WithDetail(name)
		m.logger.Warn("request while offline", "operation", name)
		return err
	}
	err := c.Request(ctx, name, result, args...)
	if err != nil {
		m.logger.Warn("request failed", "operation", name, "error", err)
	}
	return err
}

// Read fetches the authoritative content of filename and stores it.
func (m *Mirror) Read(ctx context.Context, filename string) (string, error) {
	var p FilePayload
	if err := m.request(ctx, RequestReadFile, &p, filename); err != nil {
		return "", err
	}
	if err := m.applyUpdate(p); err != nil {
		return "", errors.New("A122").WithDetail(RequestReadFile).Wrap(err)
	}
	e, _ := m.Entry(p.Filename)
	return e.Content, nil
}

// Save applies content locally, then asks the authority to persist it. A
// failed save is returned without reverting the local entry.
func (m *Mirror) Save(ctx context.Context, filename, content string) error {
	if !m.online.Get() {
		m.logger.Warn("request while offline", "operation", RequestSaveFile)
		return errors.New("A120").WithDetail(RequestSaveFile)
	}

	m.mu.Lock()
	e, ok := m.entries[filename]
	if !ok {
		e = &Entry{Filename: filename}
		m.entries[filename] = e
	}
	e.Content = content
	e.Digest = files.Digest(content)
	e.Loaded = true
	snapshot := *e
	m.mu.Unlock()

	action := files.ActionUpdated
	if !ok {
		action = files.ActionCreated
	}
	m.changes.Emit(Change{Action: action, Entry: snapshot})

	return m.request(ctx, RequestSaveFile, nil, filename, content, true)
}

// Create asks the authority to create an empty file.
func (m *Mirror) Create(ctx context.Context, filename string) error {
	return m.request(ctx, RequestCreateFile, nil, filename)
}

// Open asks the authority to open filename in its editor.
func (m *Mirror) Open(ctx context.Context, filename string) error {
	return m.request(ctx, RequestOpenFile, nil, filename)
}

// FileGraph fetches the dependency graph reachable from origin, a page URL
// or path.
func (m *Mirror) FileGraph(ctx context.Context, origin string) (scan.FileGraph, error) {
	var g scan.FileGraph
	err := m.request(ctx, RequestGetFileGraph, &g, origin)
	return g, err
}

// Bundle asks the authority to build the bundle for a request path.
func (m *Mirror) Bundle(ctx context.Context, reqPath string) (string, error) {
	var b BundlePayload
	if err := m.request(ctx, RequestGetBundle, &b, reqPath); err != nil {
		return "", err
	}
	return b.Content, nil
}
