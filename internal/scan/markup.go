package scan

import (
	stdhtml "html"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/html"

	"github.com/assetsync/assetsync/internal/files"
)

func (s *Scanner) markupRefs(f *files.File) ([]reference, []inlineBody, error) {
	var (
		refs   []reference
		bodies []inlineBody
	)
	dir := dirOf(f)
	add := func(u, source string) {
		if u, ok := localURL(u); ok {
			refs = append(refs, reference{filename: s.resolve(dir, u), source: source})
		}
	}

	l := html.NewLexer(parse.NewInputString(f.Content()))
	var (
		tag   string
		attrs map[string]string
		raw   string
	)
	for {
		tt, _ := l.Next()
		switch tt {
		case html.ErrorToken:
			if err := l.Err(); err != nil && err != io.EOF {
				return refs, bodies, err
			}
			return refs, bodies, nil
		case html.StartTagToken:
			tag = string(l.Text())
			attrs = make(map[string]string)
			raw = ""
		case html.AttributeToken:
			if attrs != nil {
				attrs[string(l.AttrKey())] = attrValue(l.AttrVal())
			}
		case html.StartTagCloseToken, html.StartTagVoidToken:
			switch tag {
			case "script":
				if src, ok := attrs["src"]; ok {
					add(src, "html:script")
				} else if tt == html.StartTagCloseToken {
					raw = tag
				}
			case "link":
				if hasToken(attrs["rel"], "stylesheet") {
					add(attrs["href"], "html:link")
				}
			case "img":
				add(attrs["src"], "html:img")
			case "style":
				if tt == html.StartTagCloseToken {
					raw = tag
				}
			}
			tag, attrs = "", nil
		case html.TextToken:
			body := string(l.Text())
			switch {
			case strings.TrimSpace(body) == "":
			case raw == "script":
				bodies = append(bodies, inlineBody{files.TypeScript, body, "html:inline-script"})
			case raw == "style":
				bodies = append(bodies, inlineBody{files.TypeStyle, body, "html:inline-style"})
			}
		case html.EndTagToken:
			raw = ""
		}
	}
}

func attrValue(b []byte) string {
	v := string(b)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	return stdhtml.UnescapeString(v)
}

func hasToken(list, token string) bool {
	for _, t := range strings.Fields(list) {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}
