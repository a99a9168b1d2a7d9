package graph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Store is the append-only node/edge collection the builder fills. Nodes and
// edges keep insertion order; adding an existing id is a no-op for nodes and
// accumulates weight for edges.
type Store struct {
	nodes []Node
	edges []Edge

	nodeIdx map[string]int
	edgeIdx map[string]int
	byType  map[NodeType][]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		nodeIdx: make(map[string]int),
		edgeIdx: make(map[string]int),
		byType:  make(map[NodeType][]int),
	}
}

// AddNode inserts n unless a node with the same id exists. It reports whether
// the node was inserted.
func (s *Store) AddNode(n Node) bool {
	if _, ok := s.nodeIdx[n.ID]; ok {
		return false
	}
	idx := len(s.nodes)
	s.nodes = append(s.nodes, n)
	s.nodeIdx[n.ID] = idx
	s.byType[n.Type] = append(s.byType[n.Type], idx)
	return true
}

// AddEdge inserts e, defaulting its weight to 1. When an edge with the same id
// already exists its weight grows by e's weight instead.
func (s *Store) AddEdge(e Edge) {
	if e.Weight <= 0 {
		e.Weight = 1
	}
	if idx, ok := s.edgeIdx[e.ID]; ok {
		s.edges[idx].Weight += e.Weight
		return
	}
	s.edgeIdx[e.ID] = len(s.edges)
	s.edges = append(s.edges, e)
}

// Node returns a pointer to the stored node, or nil. The pointer is only valid
// until the next AddNode.
func (s *Store) Node(id string) *Node {
	idx, ok := s.nodeIdx[id]
	if !ok {
		return nil
	}
	return &s.nodes[idx]
}

// Edge returns a pointer to the stored edge, or nil.
func (s *Store) Edge(id string) *Edge {
	idx, ok := s.edgeIdx[id]
	if !ok {
		return nil
	}
	return &s.edges[idx]
}

// HasNode reports whether a node with id exists.
func (s *Store) HasNode(id string) bool {
	_, ok := s.nodeIdx[id]
	return ok
}

// ByType returns ids of nodes with the given type in insertion order.
func (s *Store) ByType(t NodeType) []string {
	ids := make([]string, 0, len(s.byType[t]))
	for _, idx := range s.byType[t] {
		ids = append(ids, s.nodes[idx].ID)
	}
	return ids
}

// Nodes returns a copy of all nodes.
func (s *Store) Nodes() []Node {
	out := make([]Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// Edges returns a copy of all edges.
func (s *Store) Edges() []Edge {
	out := make([]Edge, len(s.edges))
	copy(out, s.edges)
	return out
}

// WriteJSON encodes m as indented JSON.
func WriteJSON(w io.Writer, m *Map) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encoding map: %w", err)
	}
	return nil
}

// WriteMapFile writes m to path as indented JSON.
func WriteMapFile(path string, m *Map) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := WriteJSON(bw, m); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadJSON decodes a Map.
func ReadJSON(r io.Reader) (*Map, error) {
	var m Map
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding map: %w", err)
	}
	if m.Version != SchemaVersion {
		return nil, fmt.Errorf("unsupported map version %q", m.Version)
	}
	return &m, nil
}

// ReadMapFile reads a Map previously written with WriteMapFile.
func ReadMapFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadJSON(f)
}
