package files

import (
	"path"
	"strings"
	"sync"
)

// File is one discovered or authored asset. Its mutable state is changed
// only by the Registry that created it.
type File struct {
	mu sync.RWMutex

	id       string
	filename string
	baseURI  string
	typ      Type
	source   string

	content       string
	outputContent string
	hasOutput     bool
	digest        string
	version       uint64
	deps          []string
	removed       bool
}

// ID returns the canonical, base-relative id. Anonymous files have an empty id.
func (f *File) ID() string { return f.id }

// Filename returns the absolute, slash-separated filename, or "" for
// anonymous files.
func (f *File) Filename() string { return f.filename }

// Type returns the file classification.
func (f *File) Type() Type { return f.typ }

// Source describes how the file was discovered (e.g. "js:basis.resource").
func (f *File) Source() string { return f.source }

// Anonymous reports whether the file has no filename.
func (f *File) Anonymous() bool { return f.filename == "" }

// BaseURI returns the directory references in this file resolve against,
// with a trailing slash.
func (f *File) BaseURI() string {
	if f.filename != "" {
		return dirURI(path.Dir(f.filename))
	}
	return f.baseURI
}

// RelPath returns the path relative to the registry root.
func (f *File) RelPath() string {
	if f.filename == "" {
		return "[no filename]"
	}
	return f.id
}

// Encoding returns "binary" for images and "utf-8" otherwise.
func (f *File) Encoding() string {
	if f.typ == TypeImage {
		return "binary"
	}
	return "utf-8"
}

// Content returns the current content.
func (f *File) Content() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.content
}

// OutputContent returns the output override and whether one is set.
func (f *File) OutputContent() (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.outputContent, f.hasOutput
}

// Version increases by one on every content change.
func (f *File) Version() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

// Dependencies returns a copy of the dependency edge list.
func (f *File) Dependencies() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.deps))
	copy(out, f.deps)
	return out
}

// Digest returns the fingerprint of the output content when set, otherwise of
// the content. It is computed on first use and cached until the next
// mutation.
func (f *File) Digest() string {
	f.mu.RLock()
	d := f.digest
	f.mu.RUnlock()
	if d != "" {
		return d
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.digest == "" {
		if f.hasOutput {
			f.digest = digestFunc(f.outputContent)
		} else {
			f.digest = digestFunc(f.content)
		}
	}
	return f.digest
}

func (f *File) setContent(content string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.content == content && f.version > 0 {
		return false
	}
	f.content = content
	f.digest = ""
	f.version++
	return true
}

func (f *File) setOutputContent(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputContent = content
	f.hasOutput = true
	f.digest = ""
}

func (f *File) setDependencies(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deps = append([]string(nil), ids...)
}

func (f *File) addDependency(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deps = append(f.deps, id)
}

func (f *File) isRemoved() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.removed
}

func (f *File) markRemoved() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
}

func dirURI(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}
