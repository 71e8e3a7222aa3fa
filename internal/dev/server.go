package dev

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/assetsync/assetsync/internal/bundle"
	"github.com/assetsync/assetsync/internal/config"
	aserrors "github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/filesync"
	"github.com/assetsync/assetsync/internal/metrics"
	"github.com/assetsync/assetsync/internal/notify"
	"github.com/assetsync/assetsync/internal/publish"
	"github.com/assetsync/assetsync/internal/scan"
)

const (
	// SocketPath is the websocket endpoint mirrors connect to.
	SocketPath = "/socket"

	// BundlePrefix is the HTTP bundle endpoint.
	BundlePrefix = "/_assetsync/bundle"
)

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// Registry defaults to a registry rooted at Config.Base.
	Registry *files.Registry

	// Builder defaults to a builder running Config.Build.Command.
	Builder *bundle.Builder

	// Publisher uploads built bundles. Optional.
	Publisher *publish.Publisher

	Metrics *metrics.Metrics

	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server is the development server.
type Server struct {
	config    *config.Config
	registry  *files.Registry
	scanner   *scan.Scanner
	authority *filesync.Authority
	builder   *bundle.Builder
	publisher *publish.Publisher
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	logger    *slog.Logger

	mu         sync.Mutex
	running    bool
	httpServer *http.Server
	listener   net.Listener
	watcher    *Watcher
	subs       []*notify.Subscription

	rescanMu sync.Mutex
	rescan   map[*files.File]struct{}
	rescanCh chan struct{}
}

// NewServer creates a new development server.
func NewServer(options ServerOptions) *Server {
	cfg := options.Config
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := options.Registry
	if reg == nil {
		reg = files.New(files.Options{Root: cfg.Base, Logger: logger})
	}
	scanner := scan.New(scan.Options{
		Registry:   reg,
		Namespaces: cfg.JS.Namespaces,
		BaseURI:    cfg.JS.BaseURI,
		Metrics:    options.Metrics,
		Logger:     logger,
	})

	builder := options.Builder
	if builder == nil {
		builder = bundle.New(bundle.Options{
			Base:    cfg.Base,
			Runner:  &bundle.ExecRunner{Command: cfg.Build.Command, Env: cfg.Env(), Logger: logger},
			Metrics: options.Metrics,
			Logger:  logger,
		})
	}

	gatherer := options.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:    cfg,
		registry:  reg,
		scanner:   scanner,
		builder:   builder,
		publisher: options.Publisher,
		metrics:   options.Metrics,
		gatherer:  gatherer,
		logger:    logger.With("component", "dev"),
		rescan:    make(map[*files.File]struct{}),
		rescanCh:  make(chan struct{}, 1),
	}

	var open func(context.Context, string) error
	if cfg.Editor != "" {
		open = filesync.EditorOpener(cfg.Editor, logger)
	}
	s.authority = filesync.NewAuthority(filesync.AuthorityOptions{
		Registry: reg,
		Scanner:  scanner,
		Bundle:   s.bundleContent,
		Open:     open,
		Metrics:  options.Metrics,
		Logger:   logger,
	})
	return s
}

// Registry returns the authoritative registry.
func (s *Server) Registry() *files.Registry { return s.registry }

// Scanner returns the dependency scanner.
func (s *Server) Scanner() *scan.Scanner { return s.scanner }

// Authority returns the sync endpoint.
func (s *Server) Authority() *filesync.Authority { return s.authority }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Handle(SocketPath, s.authority)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get(BundlePrefix+"/*", s.handleBundle)
	r.Handle("/*", http.FileServer(http.Dir(s.config.Base)))
	return r
}

// Start scans the index file, starts watching and serves HTTP until ctx is
// done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if sub := s.metrics.ObserveRegistry(s.registry); sub != nil {
		s.subs = append(s.subs, sub)
	}
	s.subs = append(s.subs, s.registry.Events().Attach(s.onRegistryEvent, s))
	go s.processRescans(ctx)

	if s.config.Index != "" {
		s.logger.Info("Scanning index", "file", s.config.Index)
		_, res, err := s.scanner.Scan(ctx, s.config.Index)
		if err != nil {
			s.logger.Error("index scan failed", "error", err)
		} else {
			s.logger.Info("Index scanned", "files", s.registry.Len(), "references", res.References)
		}
	}

	if s.config.Sync {
		watcher, err := NewWatcher(WatcherConfig{
			Base:   s.config.Base,
			Ignore: IgnorePatterns(s.config.Base, s.config.Ignore),
			Logger: s.logger,
		})
		if err != nil {
			s.logger.Error("file watching disabled", "error", err)
		} else {
			watcher.OnChange(func(changes []Change) {
				s.handleChanges(ctx, changes)
			})
			s.mu.Lock()
			s.watcher = watcher
			s.mu.Unlock()
			go watcher.Start(ctx)
		}
	}

	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		s.Stop()
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Server running", "url", "http://"+ln.Addr().String(), "base", s.config.Base)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		s.Stop()
		return err
	}
}

// Addr returns the listening address once Start is serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the server.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false

	for _, sub := range s.subs {
		s.registry.Events().Detach(sub)
	}
	s.subs = nil
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	s.authority.Close()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
		s.httpServer = nil
	}
}

// handleChanges applies watcher changes to registered files.
func (s *Server) handleChanges(_ context.Context, changes []Change) {
	for _, change := range changes {
		if !isWithinDir(change.Path, s.config.Base) {
			continue
		}
		if s.registry.Get(change.Path) == nil {
			continue
		}

		if change.Type == ChangeRemove {
			if s.registry.Remove(change.Path) {
				s.logger.Info("Removed", "file", s.registry.ID(change.Path))
			}
			continue
		}

		f, changed, err := s.registry.Reload(change.Path)
		switch {
		case err != nil:
			s.logger.Warn("reload failed", "file", s.registry.ID(change.Path), "error", err)
		case changed:
			s.logger.Info("Changed", "file", f.RelPath())
		}
	}
}

func (s *Server) onRegistryEvent(e files.Event) {
	if e.Action != files.ActionUpdated || e.File == nil {
		return
	}
	s.rescanMu.Lock()
	s.rescan[e.File] = struct{}{}
	s.rescanMu.Unlock()

	select {
	case s.rescanCh <- struct{}{}:
	default:
	}
}

// processRescans rescans updated files outside the registry event path.
func (s *Server) processRescans(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.rescanCh:
		}

		s.rescanMu.Lock()
		batch := make([]*files.File, 0, len(s.rescan))
		for f := range s.rescan {
			batch = append(batch, f)
		}
		clear(s.rescan)
		s.rescanMu.Unlock()

		for _, f := range batch {
			if _, err := s.scanner.ScanFile(ctx, f); err != nil {
				s.logger.Warn("rescan failed", "file", f.RelPath(), "error", err)
			}
		}
	}
}

// bundleContent builds and, when configured, publishes a bundle.
func (s *Server) bundleContent(ctx context.Context, reqPath string) (string, error) {
	res, err := s.builder.Build(ctx, reqPath)
	if err != nil {
		return "", err
	}
	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, res.Content); err != nil {
			s.logger.Warn("bundle publish failed", "entry", res.Entry, "error", err)
		}
	}
	return res.Content, nil
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	reqPath := "/" + chi.URLParam(r, "*")
	content, err := s.bundleContent(r.Context(), reqPath)
	if err != nil {
		status := http.StatusInternalServerError
		if aserrors.IsCode(err, "A101") {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(content))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
