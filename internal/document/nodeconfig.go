package document

import (
	"encoding/json"
	"time"

	"github.com/canvakit/graphsync/internal/instruction"
	"github.com/canvakit/graphsync/pkg/schema"
)

// NodeConfigDoc is the Document implementation for node-type
// configuration sessions: a single synthetic node edited through the
// same instruction machinery as graph nodes.
type NodeConfigDoc struct {
	cfg *schema.NodeTypeConfig
}

// NewNodeConfigDoc wraps a node-type configuration as a registry document.
func NewNodeConfigDoc(c *schema.NodeTypeConfig) *NodeConfigDoc { return &NodeConfigDoc{cfg: c} }

// Config exposes the underlying document for read-only inspection in tests.
func (d *NodeConfigDoc) Config() *schema.NodeTypeConfig { return d.cfg }

func (d *NodeConfigDoc) Key() string  { return d.cfg.Key }
func (d *NodeConfigDoc) Kind() string { return KindNodeConfig }

func (d *NodeConfigDoc) Snapshot() (json.RawMessage, error) {
	return json.Marshal(d.cfg)
}

func (d *NodeConfigDoc) Touch(t time.Time) {
	d.cfg.LastUpdated = t
}

func (d *NodeConfigDoc) ContainsID(id string) bool {
	return id == d.cfg.NodeID
}

// Apply routes the instruction to the synthetic node. Edge addressing
// is meaningless here and rejected; the node id, when present, must
// match the synthetic node.
func (d *NodeConfigDoc) Apply(gi *schema.GraphInstruction) (Document, error) {
	if gi.EdgeID != "" {
		return nil, schema.NewError(schema.ErrCodeEdgeNotFound, "node config documents have no edges").WithResource(d.cfg.Key)
	}
	if gi.NodeID != "" && gi.NodeID != d.cfg.NodeID {
		return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound, "node %q not found", gi.NodeID).WithResource(d.cfg.Key)
	}

	applied, err := instruction.Apply(d.cfg.Node, &gi.Instruction)
	if err != nil {
		return nil, err
	}
	newBody, ok := applied.(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "instruction would replace the node with a non-object")
	}

	nc := *d.cfg
	nc.Node = newBody
	return &NodeConfigDoc{cfg: &nc}, nil
}
