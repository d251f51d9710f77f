package schema

import (
	"encoding/json"
	"time"
)

// Resource key namespaces. Graph and node-config documents share the
// same instruction machinery but never collide on a registry key.
const (
	GraphKeyPrefix      = "graph-"
	NodeConfigKeyPrefix = "nodeConfig-"
)

// GraphKey returns the registry resource key for a graph id.
func GraphKey(id string) string { return GraphKeyPrefix + id }

// NodeConfigKey returns the registry resource key for a node-type
// configuration id.
func NodeConfigKey(id string) string { return NodeConfigKeyPrefix + id }

// Element is a generic node or edge body. Client-defined fields
// (positions, handles, labels) are not interpreted by the server
// beyond the reserved keys below.
type Element = map[string]any

// Reserved element field names.
const (
	FieldID         = "id"
	FieldSource     = "source"
	FieldTarget     = "target"
	FieldIdentifier = "identifier"
	FieldDeletable  = "deletable"
)

// Sheet is one drawing surface of a graph: a node map plus a canonical
// edge map with two adjacency indices. The indices are maintained
// transactionally alongside every edge mutation and rebuilt once when
// a sheet is loaded, never reconstructed ad hoc.
type Sheet struct {
	Nodes map[string]Element `json:"nodes"`
	Edges map[string]Element `json:"edges"`

	// bySource / byTarget map nodeId -> set of incident edge ids.
	bySource map[string]map[string]struct{}
	byTarget map[string]map[string]struct{}
}

// NewSheet returns an empty sheet with initialized maps.
func NewSheet() *Sheet {
	return &Sheet{
		Nodes:    make(map[string]Element),
		Edges:    make(map[string]Element),
		bySource: make(map[string]map[string]struct{}),
		byTarget: make(map[string]map[string]struct{}),
	}
}

func (s *Sheet) UnmarshalJSON(data []byte) error {
	type sheetJSON struct {
		Nodes map[string]Element `json:"nodes"`
		Edges map[string]Element `json:"edges"`
	}
	var raw sheetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Nodes = raw.Nodes
	s.Edges = raw.Edges
	if s.Nodes == nil {
		s.Nodes = make(map[string]Element)
	}
	if s.Edges == nil {
		s.Edges = make(map[string]Element)
	}
	s.RebuildIndices()
	return nil
}

// RebuildIndices reconstructs both adjacency indices from the
// canonical edge map. Called after load; mutations afterwards keep the
// indices in sync incrementally.
func (s *Sheet) RebuildIndices() {
	s.bySource = make(map[string]map[string]struct{})
	s.byTarget = make(map[string]map[string]struct{})
	for edgeID, edge := range s.Edges {
		s.IndexEdge(edgeID, EdgeSource(edge), EdgeTarget(edge))
	}
}

// IndexEdge records edgeID under both adjacency directions.
func (s *Sheet) IndexEdge(edgeID, source, target string) {
	addIndex(s.bySource, source, edgeID)
	addIndex(s.byTarget, target, edgeID)
}

// UnindexEdge removes edgeID from both adjacency directions, deleting
// a bucket entirely once it becomes empty.
func (s *Sheet) UnindexEdge(edgeID, source, target string) {
	removeIndex(s.bySource, source, edgeID)
	removeIndex(s.byTarget, target, edgeID)
}

// IncidentEdges returns the ids of every edge touching nodeID in
// either direction.
func (s *Sheet) IncidentEdges(nodeID string) []string {
	seen := make(map[string]struct{})
	var out []string
	for edgeID := range s.bySource[nodeID] {
		if _, ok := seen[edgeID]; !ok {
			seen[edgeID] = struct{}{}
			out = append(out, edgeID)
		}
	}
	for edgeID := range s.byTarget[nodeID] {
		if _, ok := seen[edgeID]; !ok {
			seen[edgeID] = struct{}{}
			out = append(out, edgeID)
		}
	}
	return out
}

// EdgesFrom returns the edge ids whose source is nodeID.
func (s *Sheet) EdgesFrom(nodeID string) []string { return indexKeys(s.bySource, nodeID) }

// EdgesTo returns the edge ids whose target is nodeID.
func (s *Sheet) EdgesTo(nodeID string) []string { return indexKeys(s.byTarget, nodeID) }

// HasAdjacency reports whether any adjacency bucket exists for nodeID.
func (s *Sheet) HasAdjacency(nodeID string) bool {
	_, src := s.bySource[nodeID]
	_, tgt := s.byTarget[nodeID]
	return src || tgt
}

// Clone returns a deep-enough copy for copy-on-write mutation: the
// node/edge maps and index buckets are fresh, element bodies are
// shared until the apply engine copies the touched path.
func (s *Sheet) Clone() *Sheet {
	out := &Sheet{
		Nodes:    make(map[string]Element, len(s.Nodes)),
		Edges:    make(map[string]Element, len(s.Edges)),
		bySource: cloneIndex(s.bySource),
		byTarget: cloneIndex(s.byTarget),
	}
	for id, n := range s.Nodes {
		out.Nodes[id] = n
	}
	for id, e := range s.Edges {
		out.Edges[id] = e
	}
	return out
}

func addIndex(idx map[string]map[string]struct{}, nodeID, edgeID string) {
	if nodeID == "" {
		return
	}
	bucket, ok := idx[nodeID]
	if !ok {
		bucket = make(map[string]struct{})
		idx[nodeID] = bucket
	}
	bucket[edgeID] = struct{}{}
}

func removeIndex(idx map[string]map[string]struct{}, nodeID, edgeID string) {
	bucket, ok := idx[nodeID]
	if !ok {
		return
	}
	delete(bucket, edgeID)
	if len(bucket) == 0 {
		delete(idx, nodeID)
	}
}

func indexKeys(idx map[string]map[string]struct{}, nodeID string) []string {
	var out []string
	for edgeID := range idx[nodeID] {
		out = append(out, edgeID)
	}
	return out
}

func cloneIndex(idx map[string]map[string]struct{}) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(idx))
	for k, bucket := range idx {
		nb := make(map[string]struct{}, len(bucket))
		for e := range bucket {
			nb[e] = struct{}{}
		}
		out[k] = nb
	}
	return out
}

// Graph is the authoritative document for one collaborative graph.
type Graph struct {
	Key         string            `json:"key"`
	Sheets      map[string]*Sheet `json:"sheets"`
	SheetNames  map[string]string `json:"sheetsList"`
	LastUpdated time.Time         `json:"lastUpdatedTime"`
}

// NewGraph returns an empty graph document for the given resource key.
func NewGraph(key string) *Graph {
	return &Graph{
		Key:        key,
		Sheets:     make(map[string]*Sheet),
		SheetNames: make(map[string]string),
	}
}

// NodeTypeConfig is the degenerate one-node document used when editing
// a reusable node type instead of a live graph. The synthetic node goes
// through the same instruction machinery as graph nodes.
type NodeTypeConfig struct {
	Key         string    `json:"key"`
	NodeID      string    `json:"nodeId"`
	Node        Element   `json:"node"`
	Config      Element   `json:"config,omitempty"`
	LastUpdated time.Time `json:"lastUpdatedTime"`
}

// NewNodeTypeConfig returns an empty node-type configuration document.
func NewNodeTypeConfig(key string) *NodeTypeConfig {
	return &NodeTypeConfig{
		Key:    key,
		NodeID: "node",
		Node:   make(Element),
		Config: make(Element),
	}
}

// EdgeSource reads the source node id of an edge body.
func EdgeSource(edge Element) string {
	s, _ := edge[FieldSource].(string)
	return s
}

// EdgeTarget reads the target node id of an edge body.
func EdgeTarget(edge Element) string {
	s, _ := edge[FieldTarget].(string)
	return s
}

// ElementID reads the id field of a node or edge body.
func ElementID(el Element) string {
	s, _ := el[FieldID].(string)
	return s
}

// Deletable reports whether domain policy allows deleting the element.
// Elements are deletable unless explicitly flagged otherwise.
func Deletable(el Element) bool {
	if v, ok := el[FieldDeletable].(bool); ok {
		return v
	}
	return true
}
