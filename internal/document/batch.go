package document

import (
	"github.com/canvakit/graphsync/pkg/schema"
)

// DeleteResult reports what a batch delete actually removed and which
// deletions it refused.
type DeleteResult struct {
	NodeKeys []string `json:"nodeKeys"`
	EdgeKeys []string `json:"edgeKeys"`
	// Conflicts names the elements kept because domain policy protects
	// them (or a node whose incident edge is protected).
	Conflicts []string `json:"conflicts,omitempty"`
}

// BatchCreate inserts whole node and edge entries into one sheet. The
// sheet is created if it does not exist yet. Every element must carry
// an id; edges must reference nodes present in the sheet after the
// batch's own nodes are added. The whole batch is validated before any
// entry is inserted.
func (d *GraphDoc) BatchCreate(sheetID string, nodes, edges []schema.Element) (Document, error) {
	if sheetID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "sheetId is required").WithResource(d.graph.Key)
	}

	old := d.graph.Sheets[sheetID]
	var ns *schema.Sheet
	if old == nil {
		ns = schema.NewSheet()
	} else {
		ns = old.Clone()
	}

	for _, node := range nodes {
		id := schema.ElementID(node)
		if id == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "node is missing an id").WithResource(d.graph.Key)
		}
		if _, exists := ns.Nodes[id]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "node %q already exists in sheet %q", id, sheetID).WithResource(d.graph.Key)
		}
		ns.Nodes[id] = node
	}

	for _, edge := range edges {
		id := schema.ElementID(edge)
		if id == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "edge is missing an id").WithResource(d.graph.Key)
		}
		if _, exists := ns.Edges[id]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "edge %q already exists in sheet %q", id, sheetID).WithResource(d.graph.Key)
		}
		source, target := schema.EdgeSource(edge), schema.EdgeTarget(edge)
		if _, ok := ns.Nodes[source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound, "edge %q source %q not found in sheet %q", id, source, sheetID).WithResource(d.graph.Key)
		}
		if _, ok := ns.Nodes[target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound, "edge %q target %q not found in sheet %q", id, target, sheetID).WithResource(d.graph.Key)
		}
		ns.Edges[id] = edge
		ns.IndexEdge(id, source, target)
	}

	nd := d.withSheet(sheetID, ns)
	if _, known := nd.graph.SheetNames[sheetID]; !known {
		names := make(map[string]string, len(nd.graph.SheetNames)+1)
		for k, v := range nd.graph.SheetNames {
			names[k] = v
		}
		names[sheetID] = sheetID
		nd.graph.SheetNames = names
	}
	return nd, nil
}

// BatchDelete removes whole node and edge entries from one sheet.
// Every edge incident to a deleted node is collected across both
// adjacency directions and deleted with it. A node with a protected
// (non-deletable) incident edge is kept, and the refusal is reported as
// a conflict rather than leaving the protected edge dangling. Unknown
// keys are skipped so duplicate replays stay idempotent.
func (d *GraphDoc) BatchDelete(sheetID string, nodeKeys, edgeKeys []string) (Document, *DeleteResult, error) {
	sheet, ok := d.graph.Sheets[sheetID]
	if !ok {
		return nil, nil, schema.NewErrorf(schema.ErrCodeSheetNotFound, "sheet %q not found", sheetID).WithResource(d.graph.Key)
	}

	res := &DeleteResult{}
	dropNodes := make(map[string]struct{})
	dropEdges := make(map[string]struct{})

	for _, nodeID := range nodeKeys {
		if _, exists := sheet.Nodes[nodeID]; !exists {
			continue
		}
		incident := sheet.IncidentEdges(nodeID)
		blocked := false
		for _, edgeID := range incident {
			if !schema.Deletable(sheet.Edges[edgeID]) {
				blocked = true
				res.Conflicts = append(res.Conflicts, edgeID)
			}
		}
		if blocked {
			// Deleting the node would leave the protected edge dangling.
			res.Conflicts = append(res.Conflicts, nodeID)
			continue
		}
		dropNodes[nodeID] = struct{}{}
		for _, edgeID := range incident {
			dropEdges[edgeID] = struct{}{}
		}
	}

	for _, edgeID := range edgeKeys {
		edge, exists := sheet.Edges[edgeID]
		if !exists {
			continue
		}
		if !schema.Deletable(edge) {
			res.Conflicts = append(res.Conflicts, edgeID)
			continue
		}
		dropEdges[edgeID] = struct{}{}
	}

	ns := sheet.Clone()
	for edgeID := range dropEdges {
		edge := ns.Edges[edgeID]
		ns.UnindexEdge(edgeID, schema.EdgeSource(edge), schema.EdgeTarget(edge))
		delete(ns.Edges, edgeID)
		res.EdgeKeys = append(res.EdgeKeys, edgeID)
	}
	for nodeID := range dropNodes {
		delete(ns.Nodes, nodeID)
		res.NodeKeys = append(res.NodeKeys, nodeID)
	}

	return d.withSheet(sheetID, ns), res, nil
}
