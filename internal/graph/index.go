package graph

// Index provides lookups and adjacency traversal over a finished Map.
// It is a derived, read-only view; rebuild it after generating a new map.
type Index struct {
	m       *Map
	nodeIdx map[string]int
	forward map[string][]int // node id -> indices of outgoing edges
	reverse map[string][]int // node id -> indices of incoming edges
}

// TraversalResult holds the output of a traversal.
type TraversalResult struct {
	Nodes []TraversalNode `json:"nodes"`
	Edges []Edge          `json:"edges"`
	Stats TraversalStats  `json:"stats"`
}

// TraversalNode is a node visited during traversal.
type TraversalNode struct {
	ID     string   `json:"id"`
	Type   NodeType `json:"type"`
	Label  string   `json:"label"`
	Status Status   `json:"status"`
	Depth  int      `json:"depth"`
}

// TraversalStats summarizes a traversal.
type TraversalStats struct {
	NodesVisited    int  `json:"nodes_visited"`
	EdgesTraversed  int  `json:"edges_traversed"`
	MaxDepthReached int  `json:"max_depth_reached"`
	Truncated       bool `json:"truncated"`
}

// NewIndex builds forward and reverse adjacency in a single pass over the edges.
func NewIndex(m *Map) *Index {
	ix := &Index{
		m:       m,
		nodeIdx: make(map[string]int, len(m.Nodes)),
		forward: make(map[string][]int),
		reverse: make(map[string][]int),
	}
	for i, n := range m.Nodes {
		if _, exists := ix.nodeIdx[n.ID]; !exists {
			ix.nodeIdx[n.ID] = i
		}
	}
	for i, e := range m.Edges {
		ix.forward[e.From] = append(ix.forward[e.From], i)
		ix.reverse[e.To] = append(ix.reverse[e.To], i)
	}
	return ix
}

// Map returns the indexed map.
func (ix *Index) Map() *Map { return ix.m }

// Node returns the node with id, or nil.
func (ix *Index) Node(id string) *Node {
	idx, ok := ix.nodeIdx[id]
	if !ok {
		return nil
	}
	return &ix.m.Nodes[idx]
}

// ByType returns nodes of type t in map order.
func (ix *Index) ByType(t NodeType) []*Node {
	var out []*Node
	for i := range ix.m.Nodes {
		if ix.m.Nodes[i].Type == t {
			out = append(out, &ix.m.Nodes[i])
		}
	}
	return out
}

// Outgoing returns edges leaving id, optionally restricted to edge types.
func (ix *Index) Outgoing(id string, types ...EdgeType) []Edge {
	return ix.collect(ix.forward[id], types)
}

// Incoming returns edges entering id, optionally restricted to edge types.
func (ix *Index) Incoming(id string, types ...EdgeType) []Edge {
	return ix.collect(ix.reverse[id], types)
}

// Children returns the target nodes of id's outgoing edges of type t, in edge order.
func (ix *Index) Children(id string, t EdgeType) []*Node {
	var out []*Node
	for _, e := range ix.Outgoing(id, t) {
		if n := ix.Node(e.To); n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (ix *Index) collect(indices []int, types []EdgeType) []Edge {
	set := toSet(types)
	var out []Edge
	for _, i := range indices {
		e := ix.m.Edges[i]
		if set != nil {
			if _, ok := set[e.Type]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// Traverse performs a BFS from start. direction is "forward", "reverse" or
// "both". edgeTypes filters followed edges (nil = all). maxDepth defaults to
// 3 (capped at 10) and maxNodes to 100 (capped at 500).
func (ix *Index) Traverse(start, direction string, edgeTypes []EdgeType, maxDepth, maxNodes int) TraversalResult {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if maxDepth > 10 {
		maxDepth = 10
	}
	if maxNodes <= 0 {
		maxNodes = 100
	}
	if maxNodes > 500 {
		maxNodes = 500
	}

	var result TraversalResult
	if ix.Node(start) == nil {
		return result
	}

	set := toSet(edgeTypes)
	visited := map[string]bool{start: true}

	type queueItem struct {
		id    string
		depth int
	}
	queue := []queueItem{{id: start}}
	result.Nodes = append(result.Nodes, ix.nodeFor(start, 0))

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= maxDepth {
			continue
		}

		var edgeIdx []int
		if direction != "reverse" {
			edgeIdx = append(edgeIdx, ix.forward[item.id]...)
		}
		if direction == "reverse" || direction == "both" {
			edgeIdx = append(edgeIdx, ix.reverse[item.id]...)
		}

		for _, i := range edgeIdx {
			e := ix.m.Edges[i]
			if set != nil {
				if _, ok := set[e.Type]; !ok {
					continue
				}
			}
			next := e.To
			if next == item.id {
				next = e.From
			}

			result.Stats.EdgesTraversed++
			result.Edges = append(result.Edges, e)

			if visited[next] {
				continue
			}
			visited[next] = true

			if len(result.Nodes) >= maxNodes {
				result.Stats.Truncated = true
				continue
			}
			depth := item.depth + 1
			if depth > result.Stats.MaxDepthReached {
				result.Stats.MaxDepthReached = depth
			}
			result.Nodes = append(result.Nodes, ix.nodeFor(next, depth))
			queue = append(queue, queueItem{id: next, depth: depth})
		}
	}

	result.Stats.NodesVisited = len(visited)
	return result
}

func (ix *Index) nodeFor(id string, depth int) TraversalNode {
	tn := TraversalNode{ID: id, Depth: depth, Status: StatusUnknown}
	if n := ix.Node(id); n != nil {
		tn.Type = n.Type
		tn.Label = n.Label
		tn.Status = n.Status()
	}
	return tn
}

func toSet(types []EdgeType) map[EdgeType]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[EdgeType]struct{}, len(types))
	for _, t := range types {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
