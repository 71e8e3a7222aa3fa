// Package bundle builds single-file bundles for request paths.
//
// A Builder resolves a URL-shaped request path under the base directory,
// probing index.html then index.htm for directories, and runs one isolated
// build process per request:
//
//	<command> --file <entry> --base <base> --js-cut-dev --js-bundle --target none
//
// The process reports back as JSON lines on stdout when IPCEnv is set in
// its environment. Messages are {"error": "..."} or
// {"event": "done", "bundle": {"content": "..."}}. The first of these to
// arrive decides the result; without one, a non-zero exit status is reported
// with its code.
package bundle
