package document

import (
	"encoding/json"
	"time"

	"github.com/canvakit/graphsync/internal/instruction"
	"github.com/canvakit/graphsync/pkg/schema"
)

// GraphDoc is the Document implementation for live graphs.
type GraphDoc struct {
	graph *schema.Graph
}

// NewGraphDoc wraps a graph as a registry document.
func NewGraphDoc(g *schema.Graph) *GraphDoc { return &GraphDoc{graph: g} }

// Graph exposes the underlying graph for read-only inspection in tests.
func (d *GraphDoc) Graph() *schema.Graph { return d.graph }

func (d *GraphDoc) Key() string  { return d.graph.Key }
func (d *GraphDoc) Kind() string { return KindGraph }

func (d *GraphDoc) Snapshot() (json.RawMessage, error) {
	return json.Marshal(d.graph)
}

func (d *GraphDoc) Touch(t time.Time) {
	d.graph.LastUpdated = t
}

func (d *GraphDoc) ContainsID(id string) bool {
	for _, sheet := range d.graph.Sheets {
		if _, ok := sheet.Nodes[id]; ok {
			return true
		}
		if _, ok := sheet.Edges[id]; ok {
			return true
		}
	}
	return false
}

// Apply routes the instruction to the addressed node or edge. Edge
// mutations that change source or target re-index both adjacency
// directions; the new endpoints must reference nodes existing in the
// same sheet.
func (d *GraphDoc) Apply(gi *schema.GraphInstruction) (Document, error) {
	if err := gi.Validate(); err != nil {
		return nil, err
	}
	if gi.SheetID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "sheetId is required").WithResource(d.graph.Key)
	}
	sheet, ok := d.graph.Sheets[gi.SheetID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeSheetNotFound, "sheet %q not found", gi.SheetID).WithResource(d.graph.Key)
	}

	if gi.NodeID != "" {
		return d.applyToNode(sheet, gi)
	}
	return d.applyToEdge(sheet, gi)
}

func (d *GraphDoc) applyToNode(sheet *schema.Sheet, gi *schema.GraphInstruction) (Document, error) {
	body, ok := sheet.Nodes[gi.NodeID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound, "node %q not found in sheet %q", gi.NodeID, gi.SheetID).WithResource(d.graph.Key)
	}
	applied, err := instruction.Apply(body, &gi.Instruction)
	if err != nil {
		return nil, err
	}
	newBody, ok := applied.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "instruction would replace node %q with a non-object", gi.NodeID)
	}

	ns := sheet.Clone()
	ns.Nodes[gi.NodeID] = newBody
	return d.withSheet(gi.SheetID, ns), nil
}

func (d *GraphDoc) applyToEdge(sheet *schema.Sheet, gi *schema.GraphInstruction) (Document, error) {
	edge, ok := sheet.Edges[gi.EdgeID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeEdgeNotFound, "edge %q not found in sheet %q", gi.EdgeID, gi.SheetID).WithResource(d.graph.Key)
	}
	oldSource, oldTarget := schema.EdgeSource(edge), schema.EdgeTarget(edge)

	applied, err := instruction.Apply(edge, &gi.Instruction)
	if err != nil {
		return nil, err
	}
	newEdge, ok := applied.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "instruction would replace edge %q with a non-object", gi.EdgeID)
	}

	newSource, newTarget := schema.EdgeSource(newEdge), schema.EdgeTarget(newEdge)
	if newSource != oldSource || newTarget != oldTarget {
		if _, ok := sheet.Nodes[newSource]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound, "edge %q source %q not found in sheet %q", gi.EdgeID, newSource, gi.SheetID).WithResource(d.graph.Key)
		}
		if _, ok := sheet.Nodes[newTarget]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound, "edge %q target %q not found in sheet %q", gi.EdgeID, newTarget, gi.SheetID).WithResource(d.graph.Key)
		}
	}

	ns := sheet.Clone()
	ns.UnindexEdge(gi.EdgeID, oldSource, oldTarget)
	ns.Edges[gi.EdgeID] = newEdge
	ns.IndexEdge(gi.EdgeID, newSource, newTarget)
	return d.withSheet(gi.SheetID, ns), nil
}

// withSheet returns a new document sharing every sheet except the
// replaced one.
func (d *GraphDoc) withSheet(sheetID string, sheet *schema.Sheet) *GraphDoc {
	ng := &schema.Graph{
		Key:         d.graph.Key,
		Sheets:      make(map[string]*schema.Sheet, len(d.graph.Sheets)),
		SheetNames:  d.graph.SheetNames,
		LastUpdated: d.graph.LastUpdated,
	}
	for id, s := range d.graph.Sheets {
		ng.Sheets[id] = s
	}
	ng.Sheets[sheetID] = sheet
	return &GraphDoc{graph: ng}
}
