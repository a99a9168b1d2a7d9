// Package mermaid serializes an environment map into a Mermaid flowchart.
//
// Rendering is order-preserving: nodes and edges appear in map order, so a
// deterministic map yields a byte-identical diagram.
package mermaid

import (
	"context"
	"fmt"
	"strings"

	"github.com/dejo1307/envmap/internal/codes"
	"github.com/dejo1307/envmap/internal/graph"
	"github.com/dejo1307/envmap/internal/ident"
)

// ArtifactName is the file the renderer produces.
const ArtifactName = "map.mmd"

// Options controls diagram layout.
type Options struct {
	Direction     string // LR, RL, TB, TD or BT; anything else renders LR
	GroupByBase   bool   // wrap each base and its environments in a subgraph
	HotEdgeLabels bool   // label edges with the dominant issue glyph and code
}

// DefaultOptions returns left-to-right layout with grouping and hot labels.
func DefaultOptions() Options {
	return Options{Direction: "LR", GroupByBase: true, HotEdgeLabels: true}
}

// classDefs are appended to every diagram, followed by the legend node.
var classDefs = []string{
	"classDef good fill:#d4edda,stroke:#28a745,color:#155724",
	"classDef warn fill:#fff3cd,stroke:#ffc107,color:#856404",
	"classDef bad fill:#f8d7da,stroke:#dc3545,color:#721c24",
	"classDef unknown fill:#e2e3e5,stroke:#6c757d,color:#383d41",
	"classDef base fill:#cfe2ff,stroke:#0d6efd,color:#084298",
	"classDef task fill:#e9d8fd,stroke:#6f42c1,color:#3d1a78",
	"classDef legend fill:#ffffff,stroke:#adb5bd,color:#495057",
}

const legend = `legend["Legend: green good · amber warn · red bad · grey unknown · dashed = failed runs"]:::legend`

// Render returns the diagram text for m.
func Render(m *graph.Map, opts Options) string {
	dir := strings.ToUpper(strings.TrimSpace(opts.Direction))
	switch dir {
	case "LR", "RL", "TB", "BT", "TD":
	default:
		dir = "LR"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "graph %s\n", dir)

	written := make(map[string]bool, len(m.Nodes))
	if opts.GroupByBase {
		children := make(map[string][]string)
		for _, e := range m.Edges {
			if e.Type == graph.EdgeUsesBase {
				children[e.From] = append(children[e.From], e.To)
			}
		}
		byID := make(map[string]*graph.Node, len(m.Nodes))
		for i := range m.Nodes {
			byID[m.Nodes[i].ID] = &m.Nodes[i]
		}
		for i := range m.Nodes {
			base := &m.Nodes[i]
			if base.Type != graph.NodeBase {
				continue
			}
			fmt.Fprintf(&sb, "  subgraph g%s[\"%s\"]\n", NodeID(base.ID)[1:], Escape(base.Label))
			writeNode(&sb, "    ", base)
			written[base.ID] = true
			for _, id := range children[base.ID] {
				if n := byID[id]; n != nil && !written[id] {
					writeNode(&sb, "    ", n)
					written[id] = true
				}
			}
			sb.WriteString("  end\n")
		}
	}
	for i := range m.Nodes {
		if !written[m.Nodes[i].ID] {
			writeNode(&sb, "  ", &m.Nodes[i])
		}
	}

	for _, e := range m.Edges {
		arrow := ""
		switch e.Type {
		case graph.EdgeUsesBase, graph.EdgeRoutesTaskTo:
			arrow = "-->"
		case graph.EdgeFailedRun:
			arrow = "-.->"
		default:
			continue
		}
		label := ""
		if opts.HotEdgeLabels {
			label = edgeLabel(e)
		}
		if label != "" {
			fmt.Fprintf(&sb, "  %s %s|\"%s\"| %s\n", NodeID(e.From), arrow, Escape(label), NodeID(e.To))
		} else {
			fmt.Fprintf(&sb, "  %s %s %s\n", NodeID(e.From), arrow, NodeID(e.To))
		}
	}

	for _, def := range classDefs {
		sb.WriteString("  " + def + "\n")
	}
	sb.WriteString("  " + legend + "\n")
	return sb.String()
}

// NodeID derives a notation-safe identifier from a map node id.
func NodeID(id string) string {
	return "n" + ident.StableID("mmd", id)
}

// Escape replaces characters reserved by Mermaid label syntax.
func Escape(s string) string {
	r := strings.NewReplacer(
		`"`, "#quot;",
		"|", "#124;",
		"\r\n", " ",
		"\n", " ",
	)
	return r.Replace(s)
}

// Class returns the style class of n: base and task nodes have their own,
// everything else is styled by health.
func Class(n *graph.Node) string {
	switch n.Type {
	case graph.NodeBase:
		return "base"
	case graph.NodeTask:
		return "task"
	}
	switch s := n.Status(); s {
	case graph.StatusGood, graph.StatusWarn, graph.StatusBad:
		return string(s)
	}
	return "unknown"
}

func writeNode(sb *strings.Builder, indent string, n *graph.Node) {
	label := Escape(n.Label)
	if n.Health != nil && n.Health.Score != nil {
		label = fmt.Sprintf("%s · %.0f", label, *n.Health.Score)
	}
	open, closing := "[\"", "\"]"
	switch n.Type {
	case graph.NodeBase:
		open, closing = "[[\"", "\"]]"
	case graph.NodeTask:
		open, closing = "([\"", "\"])"
	}
	fmt.Fprintf(sb, "%s%s%s%s%s:::%s\n", indent, NodeID(n.ID), open, label, closing, Class(n))
}

func edgeLabel(e graph.Edge) string {
	code, _ := e.Meta[graph.MetaDominantIssue].(string)
	if code == "" {
		return ""
	}
	glyph, _ := e.Meta[graph.MetaGlyph].(string)
	if glyph == "" {
		glyph = codes.Glyph(code)
	}
	return glyph + " " + code
}

// Renderer adapts Render to the renderer registry.
type Renderer struct {
	opts Options
}

// New creates a mermaid Renderer.
func New(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

func (r *Renderer) Name() string {
	return "mermaid"
}

// Render produces map.mmd from the snapshot's map.
func (r *Renderer) Render(ctx context.Context, snapshot *graph.Snapshot) ([]graph.Artifact, error) {
	if snapshot.Map == nil {
		return nil, fmt.Errorf("snapshot has no map")
	}
	return []graph.Artifact{
		{
			Name:    ArtifactName,
			Content: []byte(Render(snapshot.Map, r.opts)),
			Type:    "text/vnd.mermaid",
		},
	}, nil
}
