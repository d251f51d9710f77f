package instruction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvakit/graphsync/pkg/schema"
)

// roundTrip applies ins then its inverse and asserts the document is
// restored.
func roundTrip(t *testing.T, doc map[string]any, ins *schema.Instruction) {
	t.Helper()

	inv, err := Invert(doc, ins)
	require.NoError(t, err)

	applied, err := Apply(doc, ins)
	require.NoError(t, err)

	restored, err := Apply(applied, inv)
	require.NoError(t, err)

	assert.Equal(t, doc, restored)
}

func TestInvert_SetExisting(t *testing.T) {
	roundTrip(t, testNode(), &schema.Instruction{
		Path: schema.Path("posX"), Op: schema.OpSet, Value: float64(99),
	})
}

func TestInvert_SetNew(t *testing.T) {
	doc := testNode()
	ins := &schema.Instruction{Path: schema.Path("label"), Op: schema.OpSet, Value: "pump A"}

	inv, err := Invert(doc, ins)
	require.NoError(t, err)
	assert.Equal(t, schema.OpRemove, inv.Op)

	roundTrip(t, doc, ins)
}

func TestInvert_Remove(t *testing.T) {
	roundTrip(t, testNode(), &schema.Instruction{
		Path: schema.Path("style", "color"), Op: schema.OpRemove,
	})
}

func TestInvert_RemoveArrayElement(t *testing.T) {
	roundTrip(t, testNode(), &schema.Instruction{
		Path: schema.Path("handles", 1), Op: schema.OpRemove,
	})
}

func TestInvert_ArrayAddAppend(t *testing.T) {
	roundTrip(t, testNode(), &schema.Instruction{
		Path: schema.Path("handles"), Op: schema.OpArrayAdd,
		Value: map[string]any{"id": "h3"},
	})
}

func TestInvert_ArrayAddAtIndex(t *testing.T) {
	at := 1
	roundTrip(t, testNode(), &schema.Instruction{
		Path: schema.Path("handles"), Op: schema.OpArrayAdd,
		Value: map[string]any{"id": "mid"}, ToIndex: &at,
	})
}

func TestInvert_ArrayRemoveIndex(t *testing.T) {
	roundTrip(t, testNode(), &schema.Instruction{
		Path: schema.Path("handles", 0), Op: schema.OpArrayRemoveIndex,
	})
}

func TestInvert_ArrayMoveIndex(t *testing.T) {
	to := 2
	roundTrip(t, testNode(), &schema.Instruction{
		Path: schema.Path("handles", 0), Op: schema.OpArrayMoveIndex, ToIndex: &to,
	})
}

func TestInvert_MoveSwapsIndices(t *testing.T) {
	to := 0
	inv, err := Invert(testNode(), &schema.Instruction{
		Path: schema.Path("handles", 2), Op: schema.OpArrayMoveIndex, ToIndex: &to,
	})
	require.NoError(t, err)
	require.Equal(t, schema.OpArrayMoveIndex, inv.Op)
	last := inv.Path[len(inv.Path)-1]
	assert.True(t, last.IsIndex)
	assert.Equal(t, 0, last.Index)
	require.NotNil(t, inv.ToIndex)
	assert.Equal(t, 2, *inv.ToIndex)
}
