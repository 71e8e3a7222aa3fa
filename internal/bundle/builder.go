package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/metrics"
)

const tracerName = "github.com/assetsync/assetsync/internal/bundle"

// indexFiles are probed in order when a request names a directory.
var indexFiles = []string{"index.html", "index.htm"}

// Options configures a Builder.
type Options struct {
	// Base is the directory request paths resolve against. Required.
	Base string

	// Fs is used to resolve entries. Defaults to the OS filesystem.
	Fs afero.Fs

	// Runner runs the build process. Defaults to an ExecRunner for
	// DefaultCommand.
	Runner Runner

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Result is a finished bundle.
type Result struct {
	// Entry is the resolved entry file.
	Entry string

	// Content is the bundle text.
	Content string

	// Files lists the bundled files, when the build process reports them.
	Files []string

	// StartTime is when the build process was started.
	StartTime time.Time

	// Duration is the time from start to the final message.
	Duration time.Duration
}

// ExitError reports a build process that exited without a result.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("Process exit with code %d", e.Code)
}

// BuildError is a failure reported by the build process itself.
type BuildError struct {
	Message string
}

func (e *BuildError) Error() string {
	return e.Message
}

// Builder produces bundles for request paths.
type Builder struct {
	base    string
	fs      afero.Fs
	runner  Runner
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a Builder.
func New(opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	base, err := filepath.Abs(opts.Base)
	if err != nil {
		base = filepath.Clean(opts.Base)
	}
	runner := opts.Runner
	if runner == nil {
		runner = &ExecRunner{Logger: logger}
	}
	return &Builder{
		base:    base,
		fs:      fs,
		runner:  runner,
		metrics: opts.Metrics,
		logger:  logger.With("component", "bundle"),
		tracer:  otel.Tracer(tracerName),
	}
}

// Base returns the absolute base directory.
func (b *Builder) Base() string {
	return b.base
}

// Resolve maps a request path to an entry file under the base directory.
// Only the path of a URL is used. Directories resolve to their index.html,
// then index.htm.
func (b *Builder) Resolve(reqPath string) (string, error) {
	p := reqPath
	if u, err := url.Parse(reqPath); err == nil {
		p = u.Path
	}
	clean := path.Clean("/" + p)
	full := filepath.Join(b.base, filepath.FromSlash(clean))

	info, err := b.fs.Stat(full)
	if err != nil {
		return "", errors.New("A101").WithDetail(reqPath)
	}
	if !info.IsDir() {
		return full, nil
	}
	for _, name := range indexFiles {
		candidate := filepath.Join(full, name)
		if info, err := b.fs.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", errors.New("A101").WithDetail(reqPath)
}

// Args returns the build process arguments for an entry.
func (b *Builder) Args(entry string) []string {
	return []string{
		"--file", entry,
		"--base", b.base,
		"--js-cut-dev",
		"--js-bundle",
		"--target", "none",
	}
}

// Build resolves reqPath and runs a build process for it. No process is
// started when the entry cannot be resolved.
func (b *Builder) Build(ctx context.Context, reqPath string) (*Result, error) {
	ctx, span := b.tracer.Start(ctx, "bundle.Build", trace.WithAttributes(
		attribute.String("bundle.path", reqPath),
	))
	defer span.End()

	res, outcome, err := b.build(ctx, reqPath)
	b.metrics.BundleBuilt(outcome, res.Duration)
	span.SetAttributes(attribute.String("bundle.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

func (b *Builder) build(ctx context.Context, reqPath string) (*Result, string, error) {
	res := &Result{}
	entry, err := b.Resolve(reqPath)
	if err != nil {
		b.logger.Warn("bundle entry not found", "path", reqPath)
		return res, "not_found", err
	}
	res.Entry = entry
	res.StartTime = time.Now()

	b.logger.Debug("build started", "entry", entry)
	outcome, err := b.runner.Run(ctx, b.Args(entry))
	res.Duration = time.Since(res.StartTime)
	if err != nil {
		b.logger.Error("build process could not be started", "entry", entry, "error", err)
		return res, "start_failed", errors.New("A133").WithDetail(entry).Wrap(err)
	}

	for _, msg := range outcome.Messages {
		if msg.Error != "" {
			berr := &BuildError{Message: msg.Error}
			b.logger.Error("Error on build: "+berr.Message, "entry", entry)
			return res, "build_error", errors.New("A131").WithDetail(entry).Wrap(berr)
		}
		if msg.Event == EventDone && msg.Bundle != nil {
			res.Content = msg.Bundle.Content
			res.Files = msg.Bundle.Files
			b.logger.Info("bundle built",
				"entry", entry,
				"bytes", len(res.Content),
				"duration", res.Duration.Round(time.Millisecond),
			)
			return res, "ok", nil
		}
	}

	if outcome.ExitCode != 0 {
		eerr := &ExitError{Code: outcome.ExitCode, Stderr: outcome.Stderr}
		b.logger.Error(eerr.Error(), "entry", entry, "stderr", outcome.Stderr)
		return res, "exit_error", errors.New("A130").WithDetail(entry).Wrap(eerr)
	}
	return res, "no_result", errors.New("A132").WithDetail(entry)
}
