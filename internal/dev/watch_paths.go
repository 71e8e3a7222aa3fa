package dev

import (
	"path/filepath"
	"strings"
)

// DefaultIgnore contains patterns every watcher skips.
var DefaultIgnore = []string{
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

// IgnorePatterns turns configured ignore entries into doublestar patterns
// relative to base. Plain names such as ".git" match that segment at any
// depth together with everything below it; entries containing glob
// characters are used as they are.
func IgnorePatterns(base string, ignore []string) []string {
	patterns := append([]string(nil), DefaultIgnore...)
	seen := make(map[string]bool, len(ignore)*2)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			patterns = append(patterns, p)
		}
	}

	for _, entry := range ignore {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if filepath.IsAbs(entry) {
			rel, err := filepath.Rel(base, entry)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			entry = rel
		}
		entry = strings.TrimSuffix(filepath.ToSlash(entry), "/")

		if strings.ContainsAny(entry, "*?[{") {
			add(entry)
			continue
		}
		if strings.Contains(entry, "/") {
			add(entry)
			add(entry + "/**")
			continue
		}
		add("**/" + entry)
		add("**/" + entry + "/**")
	}
	return patterns
}

func isWithinDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
