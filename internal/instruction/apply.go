// Package instruction implements the path-addressed mutation engine.
// Apply is a pure function of (document, instruction): it returns a new
// root with containers copied along the touched path, so a failed apply
// leaves the caller's document observably untouched.
package instruction

import (
	"github.com/canvakit/graphsync/pkg/schema"
)

// Apply executes one instruction against the document tree rooted at
// root and returns the new root. The input tree is never mutated.
func Apply(root any, ins *schema.Instruction) (any, error) {
	if len(ins.Path) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "instruction path is empty")
	}
	if !schema.ValidOp(ins.Op) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown op %q", ins.Op)
	}
	if err := checkTargetedIdentifier(root, ins); err != nil {
		return nil, err
	}
	return applyAt(root, ins.Path, ins)
}

// Resolve returns the value at path within root, if the path resolves.
func Resolve(root any, path []schema.PathSegment) (any, bool) {
	cur := root
	for _, seg := range path {
		switch c := cur.(type) {
		case map[string]any:
			if seg.IsIndex {
				return nil, false
			}
			v, ok := c[seg.Key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(c) {
				return nil, false
			}
			cur = c[seg.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// checkTargetedIdentifier re-reads the value the instruction is about
// to touch. If it exposes an identifier field that disagrees with the
// expected one, the slot was reused by a concurrent delete+recreate and
// the instruction must be rejected instead of corrupting the new occupant.
func checkTargetedIdentifier(root any, ins *schema.Instruction) error {
	if ins.TargetedIdentifier == "" {
		return nil
	}
	v, ok := Resolve(root, ins.Path)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	idf, ok := m[schema.FieldIdentifier]
	if !ok {
		return nil
	}
	if s, _ := idf.(string); s != ins.TargetedIdentifier {
		return schema.NewErrorf(schema.ErrCodeIdentifierMismatch,
			"element at %s has identifier %q, expected %q",
			schema.PathString(ins.Path), s, ins.TargetedIdentifier)
	}
	return nil
}

func applyAt(cur any, path []schema.PathSegment, ins *schema.Instruction) (any, error) {
	seg := path[0]
	if len(path) == 1 {
		return applyFinal(cur, seg, ins)
	}

	switch c := cur.(type) {
	case map[string]any:
		if seg.IsIndex {
			return nil, pathNotFound(ins)
		}
		child, ok := c[seg.Key]
		if !ok {
			return nil, pathNotFound(ins)
		}
		newChild, err := applyAt(child, path[1:], ins)
		if err != nil {
			return nil, err
		}
		out := copyMap(c)
		out[seg.Key] = newChild
		return out, nil

	case []any:
		if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(c) {
			return nil, pathNotFound(ins)
		}
		newChild, err := applyAt(c[seg.Index], path[1:], ins)
		if err != nil {
			return nil, err
		}
		out := copySlice(c)
		out[seg.Index] = newChild
		return out, nil

	default:
		return nil, pathNotFound(ins)
	}
}

func applyFinal(cur any, seg schema.PathSegment, ins *schema.Instruction) (any, error) {
	switch ins.Op {
	case schema.OpSet:
		return applySet(cur, seg, ins)
	case schema.OpRemove:
		return applyRemove(cur, seg, ins)
	case schema.OpArrayAdd:
		return applyArrayAdd(cur, seg, ins)
	case schema.OpArrayRemoveIndex:
		return applyArrayRemoveIndex(cur, seg, ins)
	case schema.OpArrayMoveIndex:
		return applyArrayMoveIndex(cur, seg, ins)
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown op %q", ins.Op)
}

// applySet writes the value at the final segment. The segment may
// create a new map key; array indices must already be in bounds.
func applySet(cur any, seg schema.PathSegment, ins *schema.Instruction) (any, error) {
	switch c := cur.(type) {
	case map[string]any:
		if seg.IsIndex {
			return nil, pathNotFound(ins)
		}
		out := copyMap(c)
		out[seg.Key] = ins.Value
		return out, nil
	case []any:
		if !seg.IsIndex {
			return nil, pathNotFound(ins)
		}
		if seg.Index < 0 || seg.Index >= len(c) {
			return nil, indexOutOfRange(ins, seg.Index, len(c))
		}
		out := copySlice(c)
		out[seg.Index] = ins.Value
		return out, nil
	}
	return nil, pathNotFound(ins)
}

// applyRemove deletes the final segment. A missing target is a
// permissive no-op so duplicate replays stay idempotent.
func applyRemove(cur any, seg schema.PathSegment, ins *schema.Instruction) (any, error) {
	switch c := cur.(type) {
	case map[string]any:
		if seg.IsIndex {
			return nil, pathNotFound(ins)
		}
		if _, ok := c[seg.Key]; !ok {
			return cur, nil
		}
		out := copyMap(c)
		delete(out, seg.Key)
		return out, nil
	case []any:
		if !seg.IsIndex {
			return nil, pathNotFound(ins)
		}
		if seg.Index < 0 || seg.Index >= len(c) {
			return cur, nil
		}
		out := make([]any, 0, len(c)-1)
		out = append(out, c[:seg.Index]...)
		out = append(out, c[seg.Index+1:]...)
		return out, nil
	}
	return nil, pathNotFound(ins)
}

// applyArrayAdd inserts the value into the array addressed by the final
// segment, at ToIndex if set, appending otherwise.
func applyArrayAdd(cur any, seg schema.PathSegment, ins *schema.Instruction) (any, error) {
	arr, parentSet, err := derefArray(cur, seg, ins)
	if err != nil {
		return nil, err
	}
	at := len(arr)
	if ins.ToIndex != nil {
		at = *ins.ToIndex
	}
	if at < 0 || at > len(arr) {
		return nil, indexOutOfRange(ins, at, len(arr))
	}
	out := make([]any, 0, len(arr)+1)
	out = append(out, arr[:at]...)
	out = append(out, ins.Value)
	out = append(out, arr[at:]...)
	return parentSet(out), nil
}

// applyArrayRemoveIndex removes the element at the final index segment.
func applyArrayRemoveIndex(cur any, seg schema.PathSegment, ins *schema.Instruction) (any, error) {
	arr, idx, parentSet, err := derefArrayElement(cur, seg, ins)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(arr)-1)
	out = append(out, arr[:idx]...)
	out = append(out, arr[idx+1:]...)
	return parentSet(out), nil
}

// applyArrayMoveIndex moves the element at the final index segment to
// ToIndex, interpreted as the element's index in the resulting array.
func applyArrayMoveIndex(cur any, seg schema.PathSegment, ins *schema.Instruction) (any, error) {
	if ins.ToIndex == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "arrayMoveIndex requires toIndex")
	}
	arr, idx, parentSet, err := derefArrayElement(cur, seg, ins)
	if err != nil {
		return nil, err
	}
	to := *ins.ToIndex
	if to < 0 || to >= len(arr) {
		return nil, indexOutOfRange(ins, to, len(arr))
	}
	out := copySlice(arr)
	el := out[idx]
	out = append(out[:idx], out[idx+1:]...)
	rest := make([]any, 0, len(arr))
	rest = append(rest, out[:to]...)
	rest = append(rest, el)
	rest = append(rest, out[to:]...)
	return parentSet(rest), nil
}

// derefArray resolves the final segment to an array container inside
// cur and returns it together with a setter that writes the replacement
// array back into a copy of cur.
func derefArray(cur any, seg schema.PathSegment, ins *schema.Instruction) ([]any, func([]any) any, error) {
	switch c := cur.(type) {
	case map[string]any:
		if seg.IsIndex {
			return nil, nil, pathNotFound(ins)
		}
		v, ok := c[seg.Key]
		if !ok {
			// arrayAdd may create the array at the final segment.
			if ins.Op == schema.OpArrayAdd {
				v = []any{}
			} else {
				return nil, nil, pathNotFound(ins)
			}
		}
		arr, ok := v.([]any)
		if !ok {
			return nil, nil, pathNotFound(ins)
		}
		return arr, func(na []any) any {
			out := copyMap(c)
			out[seg.Key] = na
			return out
		}, nil
	case []any:
		if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(c) {
			return nil, nil, pathNotFound(ins)
		}
		arr, ok := c[seg.Index].([]any)
		if !ok {
			return nil, nil, pathNotFound(ins)
		}
		idx := seg.Index
		return arr, func(na []any) any {
			out := copySlice(c)
			out[idx] = na
			return out
		}, nil
	}
	return nil, nil, pathNotFound(ins)
}

// derefArrayElement interprets cur as the array itself and the final
// segment as an in-bounds index into it.
func derefArrayElement(cur any, seg schema.PathSegment, ins *schema.Instruction) ([]any, int, func([]any) any, error) {
	arr, ok := cur.([]any)
	if !ok {
		return nil, 0, nil, pathNotFound(ins)
	}
	if !seg.IsIndex {
		return nil, 0, nil, pathNotFound(ins)
	}
	if seg.Index < 0 || seg.Index >= len(arr) {
		return nil, 0, nil, indexOutOfRange(ins, seg.Index, len(arr))
	}
	return arr, seg.Index, func(na []any) any { return any(na) }, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copySlice(s []any) []any {
	out := make([]any, len(s))
	copy(out, s)
	return out
}

func pathNotFound(ins *schema.Instruction) error {
	return schema.NewErrorf(schema.ErrCodePathNotFound,
		"path %s does not resolve", schema.PathString(ins.Path))
}

func indexOutOfRange(ins *schema.Instruction, idx, length int) error {
	return schema.NewErrorf(schema.ErrCodeIndexOutOfRange,
		"index %d out of range (len %d) at %s", idx, length, schema.PathString(ins.Path))
}
