package scan

import (
	"sort"

	"github.com/assetsync/assetsync/internal/files"
)

// Graph maps a file id to the ids it references, without duplicates and in
// first-reference order.
type Graph map[string][]string

// GraphOf builds the dependency graph of the named files in r.
func GraphOf(r *files.Registry) Graph {
	g := make(Graph)
	for _, f := range r.Files() {
		deps := f.Dependencies()
		seen := make(map[string]bool, len(deps))
		edges := make([]string, 0, len(deps))
		for _, id := range deps {
			if !seen[id] {
				seen[id] = true
				edges = append(edges, id)
			}
		}
		g[f.ID()] = edges
	}
	return g
}

// IDs returns the node ids in sorted order.
func (g Graph) IDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reachable returns the ids reachable from root, root first, in
// breadth-first order.
func (g Graph) Reachable(root string) []string {
	if _, ok := g[root]; !ok {
		return nil
	}
	seen := map[string]bool{root: true}
	out := []string{root}
	for i := 0; i < len(out); i++ {
		for _, dep := range g[out[i]] {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
			}
		}
	}
	return out
}

// Order returns the ids reachable from root with every file after the
// files it references. Cycles are broken at the first revisit.
func (g Graph) Order(root string) []string {
	var (
		out     []string
		visited = make(map[string]bool)
		visit   func(id string)
	)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g[id] {
			visit(dep)
		}
		out = append(out, id)
	}
	if _, ok := g[root]; ok {
		visit(root)
	}
	return out
}

// Subgraph restricts g to the ids reachable from root.
func (g Graph) Subgraph(root string) Graph {
	sub := make(Graph)
	for _, id := range g.Reachable(root) {
		sub[id] = g[id]
	}
	return sub
}

// Node is one file in an exported graph.
type Node struct {
	ID     string     `json:"id"`
	Type   files.Type `json:"type"`
	Digest string     `json:"digest"`
}

// FileGraph is the wire form of a dependency graph.
type FileGraph struct {
	Files []Node      `json:"files"`
	Links [][2]string `json:"links"`
}

// Export returns the graph of files reachable from origin, or of every named
// file when origin is empty.
func Export(r *files.Registry, origin string) FileGraph {
	g := GraphOf(r)
	ids := g.IDs()
	if origin != "" {
		ids = g.Reachable(origin)
	}

	out := FileGraph{
		Files: make([]Node, 0, len(ids)),
		Links: [][2]string{},
	}
	for _, id := range ids {
		f := r.Get(id)
		if f == nil {
			continue
		}
		out.Files = append(out.Files, Node{ID: id, Type: f.Type(), Digest: f.Digest()})
		for _, dep := range g[id] {
			out.Links = append(out.Links, [2]string{id, dep})
		}
	}
	return out
}
