package instruction

import (
	"github.com/canvakit/graphsync/pkg/schema"
)

// Invert derives the instruction that undoes ins, given the document
// state ins has not yet been applied to. Applying ins and then its
// inverse yields the original document.
func Invert(root any, ins *schema.Instruction) (*schema.Instruction, error) {
	if len(ins.Path) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "instruction path is empty")
	}

	switch ins.Op {
	case schema.OpSet:
		prior, ok := Resolve(root, ins.Path)
		if ok {
			return &schema.Instruction{Path: ins.Path, Op: schema.OpSet, Value: prior}, nil
		}
		return &schema.Instruction{Path: ins.Path, Op: schema.OpRemove}, nil

	case schema.OpRemove:
		prior, ok := Resolve(root, ins.Path)
		if !ok {
			// Removing an absent target is a no-op; so is its inverse.
			return &schema.Instruction{Path: ins.Path, Op: schema.OpRemove}, nil
		}
		last := ins.Path[len(ins.Path)-1]
		if last.IsIndex {
			parent := ins.Path[:len(ins.Path)-1]
			at := last.Index
			return &schema.Instruction{Path: parent, Op: schema.OpArrayAdd, Value: prior, ToIndex: &at}, nil
		}
		return &schema.Instruction{Path: ins.Path, Op: schema.OpSet, Value: prior}, nil

	case schema.OpArrayAdd:
		arr, ok := Resolve(root, ins.Path)
		at := 0
		if a, isArr := arr.([]any); ok && isArr {
			at = len(a)
		}
		if ins.ToIndex != nil {
			at = *ins.ToIndex
		}
		path := append(append([]schema.PathSegment{}, ins.Path...), schema.Index(at))
		return &schema.Instruction{Path: path, Op: schema.OpArrayRemoveIndex}, nil

	case schema.OpArrayRemoveIndex:
		prior, ok := Resolve(root, ins.Path)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodePathNotFound,
				"cannot invert removal of unresolved path %s", schema.PathString(ins.Path))
		}
		last := ins.Path[len(ins.Path)-1]
		if !last.IsIndex {
			return nil, schema.NewError(schema.ErrCodeValidation,
				"arrayRemoveIndex path must end in an index")
		}
		parent := ins.Path[:len(ins.Path)-1]
		at := last.Index
		return &schema.Instruction{Path: parent, Op: schema.OpArrayAdd, Value: prior, ToIndex: &at}, nil

	case schema.OpArrayMoveIndex:
		if ins.ToIndex == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "arrayMoveIndex requires toIndex")
		}
		last := ins.Path[len(ins.Path)-1]
		if !last.IsIndex {
			return nil, schema.NewError(schema.ErrCodeValidation,
				"arrayMoveIndex path must end in an index")
		}
		from := last.Index
		path := append(append([]schema.PathSegment{}, ins.Path[:len(ins.Path)-1]...), schema.Index(*ins.ToIndex))
		return &schema.Instruction{Path: path, Op: schema.OpArrayMoveIndex, ToIndex: &from}, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown op %q", ins.Op)
}
