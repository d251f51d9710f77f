// Package document routes graph instructions to the correct map entry
// of the in-memory document and keeps the adjacency indices consistent
// across every mutation. Documents are copy-on-write: Apply returns a
// new document and never mutates the receiver, so the registry can
// reject a batch mid-way without partial application.
package document

import (
	"encoding/json"
	"time"

	"github.com/canvakit/graphsync/pkg/schema"
)

// Document kinds, used by the persistence layer.
const (
	KindGraph      = "graph"
	KindNodeConfig = "nodeConfig"
)

// Document is the registry's view of an in-memory resource document.
type Document interface {
	// Key returns the resource key that scopes this document.
	Key() string
	// Kind returns the document kind for persistence.
	Kind() string
	// Apply routes one graph instruction into the document and returns
	// the new document. The receiver is left untouched on failure.
	Apply(gi *schema.GraphInstruction) (Document, error)
	// ContainsID reports whether any node or edge already uses id.
	ContainsID(id string) bool
	// Snapshot serializes the document for clients and for persistence.
	Snapshot() (json.RawMessage, error)
	// Touch records the last-updated time. Called by the registry after
	// a committed mutation, when it holds the sole reference.
	Touch(t time.Time)
}

// Load deserializes a stored document of the given kind.
func Load(kind, key string, raw json.RawMessage) (Document, error) {
	switch kind {
	case KindGraph:
		g := schema.NewGraph(key)
		if err := json.Unmarshal(raw, g); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "decode graph document: %v", err).WithResource(key)
		}
		g.Key = key
		return &GraphDoc{graph: g}, nil
	case KindNodeConfig:
		c := schema.NewNodeTypeConfig(key)
		if err := json.Unmarshal(raw, c); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "decode node config document: %v", err).WithResource(key)
		}
		c.Key = key
		if c.Node == nil {
			c.Node = make(schema.Element)
		}
		return &NodeConfigDoc{cfg: c}, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeStore, "unknown document kind %q", kind)
}

// New returns an empty document of the given kind, used when a resource
// is registered for the first time.
func New(kind, key string) Document {
	if kind == KindNodeConfig {
		return &NodeConfigDoc{cfg: schema.NewNodeTypeConfig(key)}
	}
	return &GraphDoc{graph: schema.NewGraph(key)}
}

// KindForKey derives the document kind from the resource key namespace.
func KindForKey(key string) string {
	if len(key) >= len(schema.NodeConfigKeyPrefix) && key[:len(schema.NodeConfigKeyPrefix)] == schema.NodeConfigKeyPrefix {
		return KindNodeConfig
	}
	return KindGraph
}
