package silo

import (
	"fmt"
	"strings"
)

type GraphNode struct {
	Name    string `json:"name"`
	Derived bool   `json:"derived,omitempty"`
	Preload bool   `json:"preload,omitempty"`
}

// GraphEdge means "From depends on To".
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a snapshot of the declared dependency graph of a registry.
// Only Deps declarations appear here; dependencies resolved ad hoc
// inside initializers are invisible to it.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Graph exports the declared dependency graph in registration order.
func (r *Registry) Graph() Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g := Graph{
		Nodes: make([]GraphNode, 0, len(r.order)),
	}
	for _, name := range r.order {
		spec := r.specs[name]
		g.Nodes = append(g.Nodes, GraphNode{
			Name:    name,
			Derived: spec.Derived,
			Preload: spec.Preload,
		})
		for _, dep := range spec.Deps {
			g.Edges = append(g.Edges, GraphEdge{From: name, To: dep})
		}
	}
	return g
}

// DOT exports Graphviz DOT text.
func (g Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph silo {\n")
	b.WriteString("  rankdir=LR;\n")

	aliases := make(map[string]string, len(g.Nodes))
	for i, n := range g.Nodes {
		alias := fmt.Sprintf("n%d", i)
		aliases[n.Name] = alias
		b.WriteString(fmt.Sprintf("  %s [label=\"%s\"];\n", alias, escapeGraphLabel(n.Name)))
	}
	for _, e := range g.Edges {
		from, okFrom := aliases[e.From]
		to, okTo := aliases[e.To]
		if !okFrom || !okTo {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s -> %s;\n", from, to))
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid exports Mermaid graph text.
func (g Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	aliases := make(map[string]string, len(g.Nodes))
	for i, n := range g.Nodes {
		alias := fmt.Sprintf("n%d", i)
		aliases[n.Name] = alias
		b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", alias, escapeGraphLabel(n.Name)))
	}
	for _, e := range g.Edges {
		from, okFrom := aliases[e.From]
		to, okTo := aliases[e.To]
		if !okFrom || !okTo {
			continue
		}
		b.WriteString(fmt.Sprintf("    %s --> %s\n", from, to))
	}
	return b.String()
}

func escapeGraphLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}
