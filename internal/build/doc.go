// Package build is the body of the isolated build process.
//
// It scans the entry file into a fresh registry, orders the reachable
// scripts so every file follows the files it references, and joins them into
// a single bundle:
//
//	res, err := build.Build(ctx, build.Options{
//	    File:   "/srv/app/index.html",
//	    Base:   "/srv/app",
//	    CutDev: true,
//	    Bundle: true,
//	    Target: build.TargetNone,
//	})
//
// With CutDev, lines whose trimmed text starts with ";;;" are dropped. Only
// the "none" target is supported: the bundle is returned, never written.
//
// Report sends the result to the parent process as a bundle message.
package build
