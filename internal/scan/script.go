package scan

import (
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"

	"github.com/assetsync/assetsync/internal/files"
)

const (
	callResource      = "resource"
	callBasisResource = "basis.resource"
	callBasisRequire  = "basis.require"
)

func (s *Scanner) scriptRefs(f *files.File) ([]reference, int, error) {
	ast, err := js.Parse(parse.NewInputString(f.Content()), js.Options{})
	if err != nil {
		return nil, 0, err
	}

	v := &scriptVisitor{
		s:    s,
		file: f,
		sc: scope{
			dirname:  dirOf(f),
			filename: f.Filename(),
		},
	}
	js.Walk(v, ast)
	return v.refs, v.skipped, nil
}

type scriptVisitor struct {
	s       *Scanner
	file    *files.File
	sc      scope
	refs    []reference
	skipped int
}

func (v *scriptVisitor) Enter(n js.INode) js.IVisitor {
	if call, ok := n.(*js.CallExpr); ok {
		v.call(call)
	}
	return v
}

func (v *scriptVisitor) Exit(js.INode) {}

func (v *scriptVisitor) call(call *js.CallExpr) {
	name := calleeName(call.X)
	switch name {
	case callResource, callBasisResource, callBasisRequire:
	default:
		return
	}
	if len(call.Args.List) == 0 {
		return
	}

	arg := call.Args.List[0].Value
	value, ok := literal(arg, v.sc)
	if !ok || value == "" {
		v.skipped++
		v.s.logger.Debug("dynamic reference skipped",
			"file", v.file.RelPath(),
			"call", name,
			"arg", arg.String(),
		)
		return
	}

	if name == callBasisRequire {
		v.refs = append(v.refs, reference{
			filename: v.s.requirePath(value),
			source:   "js:basis.require",
		})
		return
	}
	v.refs = append(v.refs, reference{
		filename: v.s.resolve(v.sc.dirname, value),
		source:   "js:basis.resource",
	})
}
