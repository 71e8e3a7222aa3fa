// Package templates provides project scaffolding for new assetsync projects.
//
// # Available Templates
//
//   - minimal: assetsync.json, a page, one script and one stylesheet
//   - modules: a page whose script pulls modules in with basis.require and
//     basis.resource, and a stylesheet with an @import
//
// # Usage
//
//	tmpl, err := templates.Get("modules")
//	if err != nil {
//	    return err
//	}
//	err = tmpl.Create(afero.NewOsFs(), dir, templates.Config{Name: "shop"})
//
// # Template Variables
//
//	{{.Name}}        - Project name, used in the page title
//	{{.Port}}        - Development server port written to assetsync.json
//	{{.Namespace}}   - Module namespace of the modules template
//
// Create refuses to overwrite existing files.
package templates
