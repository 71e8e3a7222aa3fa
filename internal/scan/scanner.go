package scan

import (
	"context"
	stderrors "errors"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tdewolff/parse/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/metrics"
)

const tracerName = "github.com/assetsync/assetsync/internal/scan"

// Options configures a Scanner.
type Options struct {
	// Registry receives discovered files and edges. Required.
	Registry *files.Registry

	// Namespaces maps a module namespace (the first segment of a
	// basis.require name) to the directory holding it. Relative directories
	// resolve against the registry root.
	Namespaces map[string]string

	// BaseURI is the directory for module names without a namespace entry.
	// Defaults to the registry root.
	BaseURI string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Result summarises a scan pass.
type Result struct {
	// Scanned is the number of files parsed.
	Scanned int

	// Failed is the number of files that could not be parsed.
	Failed int

	// References is the number of resolved references.
	References int

	// Skipped is the number of references that were not statically
	// resolvable.
	Skipped int

	// Errors holds one A111 error per failed file.
	Errors []error
}

func (r *Result) add(o Result) {
	r.Scanned += o.Scanned
	r.Failed += o.Failed
	r.References += o.References
	r.Skipped += o.Skipped
	r.Errors = append(r.Errors, o.Errors...)
}

// reference is one resolved reference found in a file.
type reference struct {
	filename string
	source   string
}

// Scanner walks the registry queue and records dependency edges.
type Scanner struct {
	reg     *files.Registry
	ns      map[string]string
	baseURI string

	mu      sync.Mutex
	cursor  *files.Cursor
	scanned map[*files.File]uint64
	owners  map[*files.File]*files.File
	inlines map[*files.File][]*files.File

	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a Scanner positioned at the start of the registry queue.
func New(opts Options) *Scanner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scanner{
		reg:     opts.Registry,
		ns:      make(map[string]string, len(opts.Namespaces)),
		cursor:  opts.Registry.Cursor(),
		scanned: make(map[*files.File]uint64),
		owners:  make(map[*files.File]*files.File),
		inlines: make(map[*files.File][]*files.File),
		metrics: opts.Metrics,
		logger:  logger.With("component", "scan"),
		tracer:  otel.Tracer(tracerName),
	}
	for name, dir := range opts.Namespaces {
		s.ns[name] = opts.Registry.Normpath(dir)
	}
	s.baseURI = opts.Registry.Root()
	if opts.BaseURI != "" {
		s.baseURI = opts.Registry.Normpath(opts.BaseURI)
	}
	return s
}

// Scan adds entry to the registry and runs a pass.
func (s *Scanner) Scan(ctx context.Context, entry string) (*files.File, Result, error) {
	f, _ := s.reg.Add(files.Spec{Filename: entry, Source: "entry"})
	res, err := s.Run(ctx)
	return f, res, err
}

// Run scans every queued file not yet scanned at its current content
// version, including files appended during the pass.
func (s *Scanner) Run(ctx context.Context) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "scan.Run")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res, err := s.drain(ctx)
	s.finish(span, res, err, time.Since(start))
	return res, err
}

// ScanFile rescans f regardless of its version, then drains files the
// rescan discovered.
func (s *Scanner) ScanFile(ctx context.Context, f *files.File) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "scan.ScanFile", trace.WithAttributes(
		attribute.String("assetsync.file", f.RelPath()),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var res Result
	if scannable(f) {
		res.add(s.scanOne(f))
	}
	more, err := s.drain(ctx)
	res.add(more)
	s.finish(span, res, err, time.Since(start))
	return res, err
}

func (s *Scanner) drain(ctx context.Context) (Result, error) {
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		f, ok := s.cursor.Next()
		if !ok {
			return res, nil
		}
		if !scannable(f) {
			continue
		}
		if v, ok := s.scanned[f]; ok && v == f.Version() {
			continue
		}
		res.add(s.scanOne(f))
	}
}

func (s *Scanner) finish(span trace.Span, res Result, err error, d time.Duration) {
	span.SetAttributes(
		attribute.Int("assetsync.scanned", res.Scanned),
		attribute.Int("assetsync.references", res.References),
		attribute.Int("assetsync.failed", res.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.ScanCompleted(res.Scanned, res.Failed, d)
	s.logger.Debug("scan pass finished",
		"scanned", res.Scanned,
		"references", res.References,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration", d,
	)
}

// scanOne parses f and records its edges. The caller holds s.mu.
func (s *Scanner) scanOne(f *files.File) Result {
	res := Result{Scanned: 1}
	version := f.Version()

	var (
		refs    []reference
		bodies  []inlineBody
		skipped int
		err     error
	)
	switch f.Type() {
	case files.TypeScript:
		refs, skipped, err = s.scriptRefs(f)
	case files.TypeStyle:
		refs, err = s.styleRefs(f)
	case files.TypeMarkup:
		refs, bodies, err = s.markupRefs(f)
	}
	s.scanned[f] = version
	res.Skipped = skipped

	if err != nil {
		res.Failed = 1
		res.Errors = []error{parseError(f, err)}
		s.logger.Warn("file could not be parsed", "file", f.RelPath(), "error", res.Errors[0])
		return res
	}

	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		target, created := s.reg.Add(files.Spec{Filename: ref.filename, Source: ref.source})
		ids = append(ids, target.ID())
		s.metrics.ReferenceFound(ref.source)
		if created {
			s.logger.Debug("file discovered", "file", target.ID(), "source", ref.source, "from", f.RelPath())
		}
	}
	res.References = len(ids)

	if owner := s.owners[f]; owner != nil {
		for _, id := range ids {
			s.reg.AddDependency(owner, id)
		}
	} else {
		s.reg.SetDependencies(f, ids)
	}

	if f.Type() == files.TypeMarkup {
		res.add(s.scanInline(f, bodies))
	}
	return res
}

// inlineBody is a script or style body embedded in markup.
type inlineBody struct {
	typ     files.Type
	content string
	source  string
}

// scanInline matches the inline files of owner to bodies by position and
// scans them, so that rescanning a page reuses its anonymous files. Edges
// found in inline bodies are recorded on owner. The caller holds s.mu.
func (s *Scanner) scanInline(owner *files.File, bodies []inlineBody) Result {
	prev := s.inlines[owner]
	cur := make([]*files.File, 0, len(bodies))
	for i, b := range bodies {
		if i < len(prev) && prev[i].Type() == b.typ {
			s.reg.SetContent(prev[i], b.content)
			cur = append(cur, prev[i])
			continue
		}
		if i < len(prev) {
			s.retire(prev[i])
		}
		f, _ := s.reg.Add(files.Spec{
			Type:    b.typ,
			Content: b.content,
			BaseURI: owner.BaseURI(),
			Source:  b.source,
		})
		s.owners[f] = owner
		cur = append(cur, f)
	}
	for _, f := range prev[min(len(prev), len(bodies)):] {
		s.retire(f)
	}

	if len(cur) == 0 {
		delete(s.inlines, owner)
	} else {
		s.inlines[owner] = cur
	}

	var res Result
	for _, f := range cur {
		res.add(s.scanOne(f))
	}
	return res
}

// retire forgets an inline file that its page no longer contains.
func (s *Scanner) retire(f *files.File) {
	delete(s.owners, f)
	delete(s.scanned, f)
	s.reg.Discard(f)
}

// parseError wraps err as A111, located in f when the parser reported a
// position.
func parseError(f *files.File, err error) *errors.AssetError {
	ae := errors.New("A111").WithDetail(f.RelPath())
	var pe *parse.Error
	if stderrors.As(err, &pe) {
		ae.WithSource(f.RelPath(), pe.Line, pe.Column, f.Content())
		return ae.Wrap(stderrors.New(pe.Message))
	}
	return ae.Wrap(err)
}

func scannable(f *files.File) bool {
	switch f.Type() {
	case files.TypeScript, files.TypeStyle, files.TypeMarkup:
		return true
	}
	return false
}

// resolve joins ref onto the directory dir. Absolute refs already under the
// registry root are kept; other absolute refs are taken as root-relative.
func (s *Scanner) resolve(dir, ref string) string {
	if strings.HasPrefix(ref, "/") {
		root := s.reg.Root()
		if ref == root || strings.HasPrefix(ref, strings.TrimSuffix(root, "/")+"/") {
			return path.Clean(ref)
		}
		return path.Join(root, ref)
	}
	return path.Join(dir, ref)
}

// requirePath maps a dotted module name to its script filename.
func (s *Scanner) requirePath(name string) string {
	parts := strings.Split(name, ".")
	root, ok := s.ns[parts[0]]
	if !ok {
		root = s.baseURI
	}
	return path.Join(root, strings.Join(parts, "/")) + ".js"
}

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

// localURL strips the query and fragment from a style or markup URL and
// reports whether it names a local file.
func localURL(u string) (string, bool) {
	u = strings.TrimSpace(u)
	if u == "" || strings.HasPrefix(u, "#") || strings.HasPrefix(u, "//") || schemeRe.MatchString(u) {
		return "", false
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u, u != ""
}

func dirOf(f *files.File) string {
	if d := strings.TrimSuffix(f.BaseURI(), "/"); d != "" {
		return d
	}
	return "/"
}
