package scan

import (
	"strings"

	"github.com/tdewolff/parse/v2/js"
)

// scope holds the identifiers a script argument may use.
type scope struct {
	dirname  string
	filename string
}

// literal evaluates expr if it is built only from string literals.
func literal(expr js.IExpr, sc scope) (string, bool) {
	switch e := expr.(type) {
	case *js.LiteralExpr:
		if e.TokenType != js.StringToken {
			return "", false
		}
		return unquote(e.Data), true
	case *js.TemplateExpr:
		if e.Tag != nil || len(e.List) > 0 {
			return "", false
		}
		return unquote(e.Tail), true
	case *js.GroupExpr:
		return literal(e.X, sc)
	case *js.BinaryExpr:
		if e.Op != js.AddToken {
			return "", false
		}
		x, ok := literal(e.X, sc)
		if !ok {
			return "", false
		}
		y, ok := literal(e.Y, sc)
		if !ok {
			return "", false
		}
		return x + y, true
	case *js.Var:
		switch string(e.Data) {
		case "__dirname":
			return sc.dirname, true
		case "__filename":
			return sc.filename, true
		}
	}
	return "", false
}

// calleeName returns the dotted name of a call target, e.g. "basis.resource".
func calleeName(expr js.IExpr) string {
	switch e := expr.(type) {
	case *js.Var:
		return string(e.Data)
	case *js.DotExpr:
		x := calleeName(e.X)
		if x == "" {
			return ""
		}
		switch y := e.Y.(type) {
		case js.LiteralExpr:
			return x + "." + string(y.Data)
		case *js.LiteralExpr:
			return x + "." + string(y.Data)
		}
	case *js.GroupExpr:
		return calleeName(e.X)
	}
	return ""
}

// unquote strips the delimiters of a string or template token and resolves
// simple escapes.
func unquote(data []byte) string {
	s := string(data)
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				s = s[1 : len(s)-1]
			}
		}
	}
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\n':
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
