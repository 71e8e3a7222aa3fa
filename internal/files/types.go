package files

import (
	"path/filepath"
	"strings"
)

// Type classifies a file by extension.
type Type string

const (
	TypeScript   Type = "script"
	TypeStyle    Type = "style"
	TypeTemplate Type = "template"
	TypeMarkup   Type = "markup"
	TypeData     Type = "data"
	TypeImage    Type = "image"
	TypeUnknown  Type = "unknown"
)

var typeByExt = map[string]Type{
	".js":   TypeScript,
	".css":  TypeStyle,
	".tmpl": TypeTemplate,
	".html": TypeMarkup,
	".htm":  TypeMarkup,
	".xml":  TypeMarkup,
	".svg":  TypeMarkup,
	".json": TypeData,
	".bmp":  TypeImage,
	".gif":  TypeImage,
	".png":  TypeImage,
	".jpg":  TypeImage,
	".jpeg": TypeImage,
	".tiff": TypeImage,
}

// textExts lists extensions read as text. Everything else is read as raw
// bytes.
var textExts = map[string]bool{
	".css":  true,
	".js":   true,
	".json": true,
	".tmpl": true,
	".txt":  true,
	".svg":  true,
	".html": true,
	".htm":  true,
}

// TypeOf returns the Type for filename based on its extension.
func TypeOf(filename string) Type {
	if t, ok := typeByExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return TypeUnknown
}

// IsText reports whether filename is read as text.
func IsText(filename string) bool {
	return textExts[strings.ToLower(filepath.Ext(filename))]
}

// notFoundContent returns the placeholder content for a missing file.
func notFoundContent(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".js":
		return "/* Javascript file " + filename + " not found */"
	case ".css":
		return "/* CSS file " + filename + " not found */"
	}
	return ""
}
