package schema

import (
	"encoding/json"
	"fmt"
)

// Op enumerates the mutation operations an instruction can carry.
type Op string

const (
	OpSet              Op = "set"
	OpRemove           Op = "remove"
	OpArrayAdd         Op = "arrayAdd"
	OpArrayRemoveIndex Op = "arrayRemoveIndex"
	OpArrayMoveIndex   Op = "arrayMoveIndex"
)

// ValidOp reports whether op is one of the closed operation set.
func ValidOp(op Op) bool {
	switch op {
	case OpSet, OpRemove, OpArrayAdd, OpArrayRemoveIndex, OpArrayMoveIndex:
		return true
	}
	return false
}

// PathSegment is one step of an instruction path: either a map key or
// an array index. On the wire it is a bare JSON string or number, so
// the path array stays compatible with the heterogeneous client format.
type PathSegment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Key returns a string path segment.
func Key(k string) PathSegment { return PathSegment{Key: k} }

// Index returns an array-index path segment.
func Index(i int) PathSegment { return PathSegment{Index: i, IsIndex: true} }

// Path builds a path from raw values. Strings become keys, ints become
// indices. Panics on any other type; intended for tests and internal
// construction, not for decoding wire data.
func Path(segs ...any) []PathSegment {
	path := make([]PathSegment, len(segs))
	for i, s := range segs {
		switch v := s.(type) {
		case string:
			path[i] = Key(v)
		case int:
			path[i] = Index(v)
		default:
			panic(fmt.Sprintf("schema.Path: unsupported segment type %T", s))
		}
	}
	return path
}

func (p PathSegment) String() string {
	if p.IsIndex {
		return fmt.Sprintf("[%d]", p.Index)
	}
	return p.Key
}

func (p PathSegment) MarshalJSON() ([]byte, error) {
	if p.IsIndex {
		return json.Marshal(p.Index)
	}
	return json.Marshal(p.Key)
}

func (p *PathSegment) UnmarshalJSON(data []byte) error {
	var idx int
	if err := json.Unmarshal(data, &idx); err == nil {
		*p = Index(idx)
		return nil
	}
	var key string
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("path segment must be string or integer: %s", data)
	}
	*p = Key(key)
	return nil
}

// PathString renders a path for error messages, e.g. "handles[2].posX".
func PathString(path []PathSegment) string {
	out := ""
	for i, seg := range path {
		if seg.IsIndex {
			out += fmt.Sprintf("[%d]", seg.Index)
			continue
		}
		if i > 0 {
			out += "."
		}
		out += seg.Key
	}
	return out
}

// Instruction is a path-addressed mutation against a document tree.
// Immutable once constructed; the apply engine never modifies it.
type Instruction struct {
	Path []PathSegment `json:"path"`
	Op   Op            `json:"op"`
	// Value is the payload for set and arrayAdd.
	Value any `json:"value,omitempty"`
	// ToIndex is the destination index for arrayMoveIndex and the
	// optional insertion position for arrayAdd (nil appends).
	ToIndex *int `json:"toIndex,omitempty"`

	// DontApplyToMySelf suppresses the echo of this instruction back to
	// the session that issued it, which already applied it optimistically.
	DontApplyToMySelf bool `json:"dontApplyToMySelf,omitempty"`
	// TargetedIdentifier guards against a concurrent delete+recreate
	// reusing the addressed slot: if the current occupant exposes an
	// "identifier" field that disagrees, the instruction is rejected.
	TargetedIdentifier string `json:"targetedIdentifier,omitempty"`
	// AnimatePos / AnimateSize are client-side transition hints. The
	// server passes them through on live broadcast and strips them from
	// replayed messages.
	AnimatePos  bool `json:"animatePos,omitempty"`
	AnimateSize bool `json:"animateSize,omitempty"`
}

// GraphInstruction is an Instruction plus the addressing that selects
// which map entry of a sheet it applies to. Exactly one of NodeID and
// EdgeID must be set.
type GraphInstruction struct {
	Instruction
	SheetID string `json:"sheetId"`
	NodeID  string `json:"nodeId,omitempty"`
	EdgeID  string `json:"edgeId,omitempty"`
}

// Validate checks the structural invariants of a GraphInstruction.
func (gi *GraphInstruction) Validate() error {
	if !ValidOp(gi.Op) {
		return NewErrorf(ErrCodeValidation, "unknown op %q", gi.Op)
	}
	if (gi.NodeID == "") == (gi.EdgeID == "") {
		return NewError(ErrCodeValidation, "exactly one of nodeId and edgeId must be set")
	}
	return nil
}

// StripTransient returns a copy with the live-editing-only flags
// cleared. Replayed catch-up messages carry no animation or echo
// suppression hints; those only have meaning during live interaction.
func (gi GraphInstruction) StripTransient() GraphInstruction {
	gi.DontApplyToMySelf = false
	gi.AnimatePos = false
	gi.AnimateSize = false
	return gi
}
