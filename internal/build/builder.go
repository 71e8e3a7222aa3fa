package build

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/assetsync/assetsync/internal/bundle"
	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/scan"
)

// TargetNone returns the bundle without writing any files.
const TargetNone = "none"

// devPrefix marks a development-only script line.
const devPrefix = ";;;"

// Result contains the build output.
type Result struct {
	// Entry is the canonical id of the entry file.
	Entry string

	// Content is the bundle text.
	Content string

	// Files lists the bundled file ids in output order.
	Files []string

	// Scan summarises the dependency scan.
	Scan scan.Result

	// Duration is how long the build took.
	Duration time.Duration
}

// Options configures a build.
type Options struct {
	// File is the entry file. Required.
	File string

	// Base is the project root. Defaults to the entry's directory.
	Base string

	// CutDev drops development-only script lines.
	CutDev bool

	// Bundle joins every reachable script. Without it only the entry is
	// emitted.
	Bundle bool

	// Target selects the output. Only TargetNone is supported.
	Target string

	// Namespaces and BaseURI configure module reference resolution.
	Namespaces map[string]string
	BaseURI    string

	// Fs is the filesystem to read from. Defaults to the OS filesystem.
	Fs afero.Fs

	Logger *slog.Logger

	// OnProgress is called with progress updates.
	OnProgress func(step string)
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.File == "" {
		return errors.New("A150").WithDetail("--file is required")
	}
	if o.Target != "" && o.Target != TargetNone {
		return errors.New("A150").
			WithDetailf("unsupported target %q", o.Target).
			WithSuggestion("Use --target none")
	}
	return nil
}

// Build scans the entry and assembles the bundle.
func Build(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "build")

	start := time.Now()
	file, err := filepath.Abs(opts.File)
	if err != nil {
		return nil, errors.New("A100").WithDetail(opts.File).Wrap(err)
	}
	if info, err := opts.fs().Stat(file); err != nil || info.IsDir() {
		return nil, errors.New("A100").WithDetail(opts.File)
	}
	base := opts.Base
	if base == "" {
		base = filepath.Dir(file)
	}

	progress(opts, "Scanning dependencies...")
	reg := files.New(files.Options{Root: base, Fs: opts.fs(), Logger: logger})
	scanner := scan.New(scan.Options{
		Registry:   reg,
		Namespaces: opts.Namespaces,
		BaseURI:    opts.BaseURI,
		Logger:     logger,
	})
	entry, scanned, err := scanner.Scan(ctx, filepath.ToSlash(file))
	if err != nil {
		return nil, err
	}

	progress(opts, "Bundling scripts...")
	ids := []string{entry.ID()}
	if opts.Bundle {
		ids = scan.GraphOf(reg).Order(entry.ID())
	}

	res := &Result{Entry: entry.ID(), Scan: scanned}
	var b strings.Builder
	for _, id := range ids {
		f := reg.Get(id)
		if f == nil || f.Type() != files.TypeScript {
			continue
		}
		content := f.Content()
		if opts.CutDev {
			content = CutDev(content)
		}
		b.WriteString("// ")
		b.WriteString(f.RelPath())
		b.WriteByte('\n')
		b.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteByte('\n')
		}
		res.Files = append(res.Files, id)
	}
	res.Content = b.String()
	res.Duration = time.Since(start)

	logger.Debug("bundle assembled",
		"entry", res.Entry,
		"files", len(res.Files),
		"bytes", len(res.Content),
		"duration", res.Duration,
	)
	return res, nil
}

// CutDev drops lines whose trimmed text starts with ";;;".
func CutDev(content string) string {
	if !strings.Contains(content, devPrefix) {
		return content
	}
	lines := strings.SplitAfter(content, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), devPrefix) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "")
}

// Report writes the outcome of a build to w as one bundle message.
func Report(w io.Writer, res *Result, err error) error {
	enc := bundle.NewEncoder(w)
	if err != nil {
		return enc.Fail(err)
	}
	return enc.Done(res.Content, res.Files)
}

func (o Options) fs() afero.Fs {
	if o.Fs == nil {
		return afero.NewOsFs()
	}
	return o.Fs
}

func progress(opts Options, step string) {
	if opts.OnProgress != nil {
		opts.OnProgress(step)
	}
}
