// Package files implements the canonical file registry.
//
// The Registry owns the mapping from canonical id to *File and is the only
// writer of file state. Ids are base-relative, slash-separated paths, so
// "./src/../src/app.js" and "src/app.js" name the same File. Other packages
// read File fields through accessor methods and request every mutation
// (content, output content, dependency edges, removal) through Registry
// methods, which keeps the cached digest consistent with the content.
//
// Besides the map, the Registry keeps an append-only queue of every File in
// insertion order. The dependency scanner consumes that queue with a Cursor;
// files appended while a cursor is being drained are visited by the same
// pass.
//
// Content is read through an afero.Fs, so tests run against an in-memory
// filesystem and the server runs against the OS.
package files
