package filesync

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/metrics"
	"github.com/assetsync/assetsync/internal/notify"
	"github.com/assetsync/assetsync/internal/scan"
)

const tracerName = "github.com/assetsync/assetsync/internal/filesync"

// Handler answers one request. args is the positional argument array.
type Handler func(ctx context.Context, c *Conn, args json.RawMessage) (any, error)

// AuthorityOptions configures an Authority.
type AuthorityOptions struct {
	// Registry is the authoritative file set. Required.
	Registry *files.Registry

	// Scanner refreshes the graph before getFileGraph answers. Optional.
	Scanner *scan.Scanner

	// Bundle builds the bundle for a request path. Without it getBundle
	// fails with A123.
	Bundle func(ctx context.Context, reqPath string) (string, error)

	// Open opens a file in an editor. Without it openFile fails with A162.
	Open func(ctx context.Context, filename string) error

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Authority serves a registry to connected mirrors.
type Authority struct {
	reg     *files.Registry
	scanner *scan.Scanner
	bundle  func(ctx context.Context, reqPath string) (string, error)
	open    func(ctx context.Context, filename string) error

	upgrader websocket.Upgrader
	handlers map[string]Handler

	mu      sync.RWMutex
	clients map[*Conn]bool

	sub     *notify.Subscription
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewAuthority creates an Authority and subscribes it to registry changes.
func NewAuthority(opts AuthorityOptions) *Authority {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Authority{
		reg:     opts.Registry,
		scanner: opts.Scanner,
		bundle:  opts.Bundle,
		open:    opts.Open,
		clients: make(map[*Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in dev
			},
		},
		metrics: opts.Metrics,
		logger:  logger.With("component", "filesync"),
		tracer:  otel.Tracer(tracerName),
	}
	a.handlers = map[string]Handler{
		RequestHandshake:    a.handleHandshake,
		RequestReadFile:     a.handleReadFile,
		RequestSaveFile:     a.handleSaveFile,
		RequestCreateFile:   a.handleCreateFile,
		RequestOpenFile:     a.handleOpenFile,
		RequestGetFileGraph: a.handleGetFileGraph,
		RequestGetBundle:    a.handleGetBundle,
	}
	a.sub = a.reg.Events().Attach(a.push, a)
	return a
}

// Handle registers or replaces the handler for a request name.
func (a *Authority) Handle(name string, h Handler) {
	a.handlers[name] = h
}

// ServeHTTP upgrades the request to a websocket and serves it until the
// mirror disconnects.
func (a *Authority) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}

	c := newConn(ws, a.logger.With("remote", req.RemoteAddr), a.metrics)
	a.mu.Lock()
	a.clients[c] = true
	a.mu.Unlock()
	a.metrics.ClientConnected(1)
	a.logger.Info("mirror connected", "remote", req.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	err = c.readLoop(func(env envelope) {
		if env.ID == 0 {
			a.logger.Debug("unexpected event from mirror", "event", env.Event)
			return
		}
		go a.dispatch(ctx, c, env)
	})
	cancel()

	a.mu.Lock()
	delete(a.clients, c)
	a.mu.Unlock()
	a.metrics.ClientConnected(-1)
	c.Close()
	a.logger.Info("mirror disconnected", "remote", req.RemoteAddr, "reason", err)
}

func (a *Authority) dispatch(ctx context.Context, c *Conn, env envelope) {
	ctx, span := a.tracer.Start(ctx, "filesync."+env.Event, trace.WithAttributes(
		attribute.Int64("assetsync.request_id", int64(env.ID)),
	))
	defer span.End()

	h, ok := a.handlers[env.Event]
	var (
		result any
		err    error
	)
	if !ok {
		err = errors.New("A123").WithDetail(env.Event)
	} else {
		result, err = h(ctx, c, env.Data)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn("request failed", "operation", env.Event, "error", err)
	}
	if wErr := c.reply(env.ID, result, err); wErr != nil {
		a.logger.Debug("reply not delivered", "operation", env.Event, "error", wErr)
	}
}

// push forwards a registry change to every mirror.
func (a *Authority) push(e files.Event) {
	switch e.Action {
	case files.ActionCreated:
		a.broadcast(EventNewFile, payloadOf(e.File))
	case files.ActionUpdated:
		a.broadcast(EventUpdateFile, payloadOf(e.File))
	case files.ActionRemoved:
		a.broadcast(EventDeleteFile, DeletePayload{Filename: mirrorName(e.ID)})
	}
}

func (a *Authority) broadcast(event string, payload any) {
	a.mu.RLock()
	clients := make([]*Conn, 0, len(a.clients))
	for c := range a.clients {
		clients = append(clients, c)
	}
	a.mu.RUnlock()

	for _, c := range clients {
		if err := c.Emit(event, payload); err != nil {
			a.mu.Lock()
			delete(a.clients, c)
			a.mu.Unlock()
			c.Close()
		}
	}
}

// ClientCount returns the number of connected mirrors.
func (a *Authority) ClientCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clients)
}

// Close detaches from the registry and closes all mirror connections.
func (a *Authority) Close() {
	a.reg.Events().Detach(a.sub)

	a.mu.Lock()
	defer a.mu.Unlock()
	for c := range a.clients {
		c.Close()
		delete(a.clients, c)
	}
}

// handleHandshake diffs the mirror's files against the registry. Stale
// files are pushed as updates, unknown files as deletions, and every
// registry file is announced with its digest.
func (a *Authority) handleHandshake(_ context.Context, c *Conn, args json.RawMessage) (any, error) {
	var hs Handshake
	if err := decodeArgs(args, &hs); err != nil {
		return nil, err
	}

	known := a.reg.Files()
	byName := make(map[string]*files.File, len(known))
	for _, f := range known {
		byName[mirrorName(f.ID())] = f
	}

	var stale, gone int
	for _, fd := range hs.Files {
		f, ok := byName[fd.Filename]
		switch {
		case !ok:
			gone++
			if err := c.Emit(EventDeleteFile, DeletePayload{Filename: fd.Filename}); err != nil {
				return nil, err
			}
		case f.Digest() != fd.Digest:
			stale++
			if err := c.Emit(EventUpdateFile, payloadOf(f)); err != nil {
				return nil, err
			}
		}
	}

	announce := Handshake{Files: make([]FileDigest, 0, len(known))}
	for _, f := range known {
		announce.Files = append(announce.Files, FileDigest{Filename: mirrorName(f.ID()), Digest: f.Digest()})
	}
	if err := c.Emit(EventHandshake, announce); err != nil {
		return nil, err
	}

	a.logger.Debug("handshake", "mirror_files", len(hs.Files), "stale", stale, "removed", gone, "announced", len(known))
	return nil, nil
}

func (a *Authority) handleReadFile(_ context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var filename string
	if err := decodeArgs(args, &filename); err != nil {
		return nil, err
	}
	f, err := a.lookup(filename)
	if err != nil {
		return nil, err
	}
	return payloadOf(f), nil
}

func (a *Authority) handleSaveFile(_ context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var (
		filename, content string
		overwrite         bool
	)
	if err := decodeArgs(args, &filename, &content, &overwrite); err != nil {
		return nil, err
	}
	f, err := a.reg.Save(filename, content, overwrite)
	if err != nil {
		return nil, err
	}
	return FileDigest{Filename: mirrorName(f.ID()), Digest: f.Digest()}, nil
}

func (a *Authority) handleCreateFile(_ context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var filename string
	if err := decodeArgs(args, &filename); err != nil {
		return nil, err
	}
	f, err := a.reg.Create(filename)
	if err != nil {
		return nil, err
	}
	return payloadOf(f), nil
}

func (a *Authority) handleOpenFile(ctx context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var filename string
	if err := decodeArgs(args, &filename); err != nil {
		return nil, err
	}
	abs, err := a.reg.Within(filename)
	if err != nil {
		return nil, err
	}
	if a.open == nil {
		return nil, errors.New("A162")
	}
	return nil, a.open(ctx, abs)
}

func (a *Authority) handleGetFileGraph(ctx context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var origin string
	if err := decodeArgs(args, &origin); err != nil {
		return nil, err
	}

	id := ""
	if origin != "" {
		abs, err := a.reg.Within(originPath(origin))
		if err != nil {
			return nil, err
		}
		id = a.reg.ID(abs)
		if a.scanner != nil {
			if _, _, err := a.scanner.Scan(ctx, abs); err != nil {
				return nil, err
			}
		}
	}
	return scan.Export(a.reg, id), nil
}

func (a *Authority) handleGetBundle(ctx context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var reqPath string
	if err := decodeArgs(args, &reqPath); err != nil {
		return nil, err
	}
	if a.bundle == nil {
		return nil, errors.New("A123").WithDetail(RequestGetBundle)
	}
	content, err := a.bundle(ctx, reqPath)
	if err != nil {
		return nil, err
	}
	return BundlePayload{Content: content}, nil
}

// lookup returns the registry file for a mirror filename, loading it from
// the store when it is not registered yet.
func (a *Authority) lookup(filename string) (*files.File, error) {
	abs, err := a.reg.Within(filename)
	if err != nil {
		return nil, err
	}
	if f := a.reg.Get(abs); f != nil {
		return f, nil
	}
	if ok, _ := afero.Exists(a.reg.Fs(), filepath.FromSlash(abs)); !ok {
		return nil, errors.New("A100").WithDetail(filename)
	}
	f, _ := a.reg.Add(files.Spec{Filename: abs, Source: RequestReadFile})
	return f, nil
}

// originPath turns a page URL or path into a root-relative filename.
// Directory URLs name their index.html.
func originPath(origin string) string {
	p := origin
	if u, err := url.Parse(origin); err == nil {
		p = u.Path
	}
	if p == "" || strings.HasSuffix(p, "/") {
		p = path.Join(p, "index.html")
	}
	return p
}
