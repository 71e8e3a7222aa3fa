package templates

import (
	"bytes"
	"path/filepath"
	"sort"
	"text/template"

	"github.com/spf13/afero"

	"github.com/assetsync/assetsync/internal/errors"
)

// Config contains template configuration.
type Config struct {
	// Name is the project name.
	Name string

	// Port is the development server port.
	Port int

	// Namespace is the module namespace used by the modules template.
	// Defaults to "app".
	Namespace string
}

// Template represents a project template.
type Template struct {
	// Name is the template name.
	Name string

	// Description describes the template.
	Description string

	// Files is a map of slash-separated relative paths to file contents.
	Files map[string]string
}

// Available templates.
var templates = map[string]*Template{
	"minimal": minimalTemplate(),
	"modules": modulesTemplate(),
}

// Get returns a template by name.
func Get(name string) (*Template, error) {
	tmpl, ok := templates[name]
	if !ok {
		return nil, errors.New("A152").WithDetail("Template '" + name + "' not found")
	}
	return tmpl, nil
}

// List returns all available template names in sorted order.
func List() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Paths returns the template's file paths in sorted order.
func (t *Template) Paths() []string {
	paths := make([]string, 0, len(t.Files))
	for p := range t.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Create renders the template into dir on fs. Nothing is written when any
// target file already exists.
func (t *Template) Create(fs afero.Fs, dir string, cfg Config) error {
	if cfg.Namespace == "" {
		cfg.Namespace = "app"
	}

	rendered := make(map[string][]byte, len(t.Files))
	for _, name := range t.Paths() {
		relPath, err := render(name, name, cfg)
		if err != nil {
			return err
		}
		data, err := render(name, t.Files[name], cfg)
		if err != nil {
			return err
		}

		fullPath := filepath.Join(dir, filepath.FromSlash(string(relPath)))
		if exists, _ := afero.Exists(fs, fullPath); exists {
			return errors.New("A161").WithDetail(fullPath)
		}
		rendered[fullPath] = data
	}

	for fullPath, data := range rendered {
		if err := fs.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(fs, fullPath, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// render executes text as a template. Templates use [[ ]] delimiters so
// that file contents may contain braces.
func render(name, text string, cfg Config) ([]byte, error) {
	tmpl, err := template.New(name).Delims("[[", "]]").Parse(text)
	if err != nil {
		return nil, errors.Newf(errors.CategoryCLI, "invalid template %s: %v", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return nil, errors.Newf(errors.CategoryCLI, "template execute error %s: %v", name, err)
	}
	return buf.Bytes(), nil
}

// minimalTemplate returns the minimal template.
func minimalTemplate() *Template {
	return &Template{
		Name:        "minimal",
		Description: "A page with one script and one stylesheet",
		Files: map[string]string{
			"assetsync.json": `{
  "port": [[.Port]],
  "index": "index.html"
}
`,
			"index.html": `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>[[.Name]]</title>
  <link rel="stylesheet" href="style.css">
</head>
<body>
  <h1>[[.Name]]</h1>
  <script src="app.js"></script>
</body>
</html>
`,
			"app.js": `;;; console.log('[[.Name]] loaded');
document.querySelector('h1').classList.add('ready');
`,
			"style.css": `h1 {
  font-family: sans-serif;
}

h1.ready {
  color: #2a7;
}
`,
		},
	}
}

// modulesTemplate returns a template with module references.
func modulesTemplate() *Template {
	return &Template{
		Name:        "modules",
		Description: "Scripts split into modules loaded with basis.require",
		Files: map[string]string{
			"assetsync.json": `{
  "port": [[.Port]],
  "index": "index.html",
  "js": {
    "namespaces": {
      "[[.Namespace]]": "src"
    }
  }
}
`,
			"index.html": `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>[[.Name]]</title>
  <link rel="stylesheet" href="css/main.css">
</head>
<body>
  <div id="root"></div>
  <script src="src/main.js"></script>
</body>
</html>
`,
			"src/main.js": `var view = basis.require('[[.Namespace]].view');
var template = basis.resource('./[[.Namespace]]/view.tmpl');

;;; console.log('starting [[.Name]]');
view.render(document.getElementById('root'), template);
`,
			"src/[[.Namespace]]/view.js": `var util = basis.require('[[.Namespace]].util');

module.exports = {
  render: function(root, template) {
    root.innerHTML = util.format(template);
  }
};
`,
			"src/[[.Namespace]]/util.js": `module.exports = {
  format: function(text) {
    return String(text).trim();
  }
};
`,
			"src/[[.Namespace]]/view.tmpl": `<h1>[[.Name]]</h1>
`,
			"css/main.css": `@import url(theme.css);

#root {
  margin: 2em;
}
`,
			"css/theme.css": `body {
  font-family: sans-serif;
}
`,
		},
	}
}
