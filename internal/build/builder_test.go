package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetsync/assetsync/internal/bundle"
	"github.com/assetsync/assetsync/internal/errors"
)

func testFs(t *testing.T, tree map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, content := range tree {
		require.NoError(t, afero.WriteFile(fsys, name, []byte(content), 0o644))
	}
	return fsys
}

func testOptions(fsys afero.Fs, file string) Options {
	return Options{
		File:   file,
		Base:   "/app",
		CutDev: true,
		Bundle: true,
		Target: TargetNone,
		Fs:     fsys,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

var project = map[string]string{
	"/app/index.html": `<html><head>
<link rel="stylesheet" href="style.css">
<script src="main.js"></script>
</head></html>`,
	"/app/style.css":     `body { background: url(bg.png) }`,
	"/app/main.js":       "var util = resource('lib/util.js');\n;;;console.log('debug');\nutil.run();\n",
	"/app/lib/util.js":   "var util = { run: function () {} };",
	"/app/lib/unused.js": "throw new Error();\n",
}

func TestBuild_DependencyFirstBundle(t *testing.T) {
	res, err := Build(context.Background(), testOptions(testFs(t, project), "/app/index.html"))
	require.NoError(t, err)

	assert.Equal(t, "index.html", res.Entry)
	assert.Equal(t, []string{"lib/util.js", "main.js"}, res.Files)
	assert.Equal(t,
		"// lib/util.js\nvar util = { run: function () {} };\n"+
			"// main.js\nvar util = resource('lib/util.js');\nutil.run();\n",
		res.Content)
	assert.Equal(t, 0, res.Scan.Failed)
}

func TestBuild_KeepsDevLinesWithoutCutDev(t *testing.T) {
	opts := testOptions(testFs(t, project), "/app/main.js")
	opts.CutDev = false

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Contains(t, res.Content, ";;;console.log('debug');")
}

func TestBuild_EntryOnlyWithoutBundle(t *testing.T) {
	opts := testOptions(testFs(t, project), "/app/main.js")
	opts.Bundle = false

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.js"}, res.Files)
}

func TestBuild_DefaultBaseIsEntryDirectory(t *testing.T) {
	opts := testOptions(testFs(t, project), "/app/lib/util.js")
	opts.Base = ""

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "util.js", res.Entry)
}

func TestBuild_MissingEntry(t *testing.T) {
	_, err := Build(context.Background(), testOptions(testFs(t, project), "/app/nope.html"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "A100"))
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{File: "a.js", Target: TargetNone}, false},
		{"empty target", Options{File: "a.js"}, false},
		{"missing file", Options{Target: TargetNone}, true},
		{"unsupported target", Options{File: "a.js", Target: "output"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, "A150"))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCutDev(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a();\n", "a();\n"},
		{";;;debug();\na();\n", "a();\n"},
		{"a();\n  ;;; debug();\nb();", "a();\nb();"},
		{"a(); ;;; inline\n", "a(); ;;; inline\n"},
		{"a();\n;;;last", "a();\n"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CutDev(tt.in), "input %q", tt.in)
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Report(&buf, &Result{Content: "x();\n", Files: []string{"a.js"}}, nil))
	require.NoError(t, Report(&buf, nil, fmt.Errorf("boom")))

	dec := json.NewDecoder(&buf)
	var done, failed bundle.Message
	require.NoError(t, dec.Decode(&done))
	require.NoError(t, dec.Decode(&failed))

	assert.Equal(t, bundle.EventDone, done.Event)
	require.NotNil(t, done.Bundle)
	assert.Equal(t, "x();\n", done.Bundle.Content)
	assert.Equal(t, "boom", failed.Error)
	assert.Nil(t, failed.Bundle)
}
