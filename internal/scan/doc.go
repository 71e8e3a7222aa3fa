// Package scan discovers file references and records dependency edges.
//
// A Scanner drains the registry queue with a cursor. Each script, style or
// markup file is parsed once per content version; every statically
// resolvable reference is added to the registry (which appends new files to
// the queue) and recorded as an edge on the referring file. Because the
// registry deduplicates by canonical id, reference cycles terminate and every
// file is visited once per pass.
//
// Recognised references:
//
//	script  basis.resource(x), resource(x), basis.require("ns.a.b")
//	style   url(x), @import x
//	markup  <script src>, <link rel=stylesheet href>, <img src>, inline
//	        <script> and <style> bodies
//
// Script arguments are resolved without evaluating code: string literals,
// templates without substitutions, "+" concatenation, parentheses and the
// __dirname and __filename identifiers. Anything else is skipped.
package scan
