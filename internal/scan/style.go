package scan

import (
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"

	"github.com/assetsync/assetsync/internal/files"
)

func (s *Scanner) styleRefs(f *files.File) ([]reference, error) {
	return s.styleContentRefs(dirOf(f), f.Content())
}

func (s *Scanner) styleContentRefs(dir, content string) ([]reference, error) {
	var refs []reference
	add := func(u, source string) {
		if u, ok := localURL(u); ok {
			refs = append(refs, reference{filename: s.resolve(dir, u), source: source})
		}
	}

	l := css.NewLexer(parse.NewInputString(content))
	importing := false
	for {
		tt, data := l.Next()
		switch tt {
		case css.ErrorToken:
			if err := l.Err(); err != nil && err != io.EOF {
				return refs, err
			}
			return refs, nil
		case css.WhitespaceToken, css.CommentToken:
			continue
		case css.AtKeywordToken:
			importing = strings.EqualFold(string(data), "@import")
			continue
		case css.URLToken:
			if importing {
				add(cssURL(data), "css:import")
			} else {
				add(cssURL(data), "css:url")
			}
		case css.StringToken:
			if importing {
				add(unquote(data), "css:import")
			}
		}
		importing = false
	}
}

// cssURL extracts the address from a url(...) token.
func cssURL(data []byte) string {
	s := string(data)
	if len(s) >= 4 && strings.EqualFold(s[:4], "url(") {
		s = s[4:]
	}
	s = strings.TrimSuffix(s, ")")
	return unquote([]byte(strings.TrimSpace(s)))
}
