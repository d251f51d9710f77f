package instruction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvakit/graphsync/pkg/schema"
)

func testNode() map[string]any {
	return map[string]any{
		"id":         "n1",
		"identifier": "pump",
		"posX":       float64(10),
		"posY":       float64(20),
		"handles": []any{
			map[string]any{"id": "h0", "identifier": "in"},
			map[string]any{"id": "h1", "identifier": "out"},
			map[string]any{"id": "h2", "identifier": "aux"},
		},
		"style": map[string]any{"color": "red"},
	}
}

func TestApplySet(t *testing.T) {
	doc := testNode()
	out, err := Apply(doc, &schema.Instruction{
		Path: schema.Path("posX"), Op: schema.OpSet, Value: float64(42),
	})
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, float64(42), m["posX"])
	assert.Equal(t, float64(10), doc["posX"], "input document must stay untouched")
}

func TestApplySet_CreatesFinalSegment(t *testing.T) {
	out, err := Apply(testNode(), &schema.Instruction{
		Path: schema.Path("style", "border"), Op: schema.OpSet, Value: "thin",
	})
	require.NoError(t, err)
	style := out.(map[string]any)["style"].(map[string]any)
	assert.Equal(t, "thin", style["border"])
}

func TestApplySet_NestedArrayElement(t *testing.T) {
	doc := testNode()
	out, err := Apply(doc, &schema.Instruction{
		Path: schema.Path("handles", 1, "identifier"), Op: schema.OpSet, Value: "renamed",
	})
	require.NoError(t, err)

	handles := out.(map[string]any)["handles"].([]any)
	assert.Equal(t, "renamed", handles[1].(map[string]any)["identifier"])

	// Untouched siblings share structure with the original.
	orig := doc["handles"].([]any)
	assert.Equal(t, "out", orig[1].(map[string]any)["identifier"])
}

func TestApplySet_MidPathNonContainer(t *testing.T) {
	_, err := Apply(testNode(), &schema.Instruction{
		Path: schema.Path("posX", "deeper"), Op: schema.OpSet, Value: 1,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodePathNotFound, schema.CodeOf(err))
}

func TestApplySet_MissingMidPath(t *testing.T) {
	_, err := Apply(testNode(), &schema.Instruction{
		Path: schema.Path("nope", "deeper"), Op: schema.OpSet, Value: 1,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodePathNotFound, schema.CodeOf(err))
}

func TestApplyRemove(t *testing.T) {
	out, err := Apply(testNode(), &schema.Instruction{
		Path: schema.Path("posY"), Op: schema.OpRemove,
	})
	require.NoError(t, err)
	_, ok := out.(map[string]any)["posY"]
	assert.False(t, ok)
}

func TestApplyRemove_AbsentTargetIsNoop(t *testing.T) {
	doc := testNode()
	out, err := Apply(doc, &schema.Instruction{
		Path: schema.Path("ghost"), Op: schema.OpRemove,
	})
	require.NoError(t, err)
	assert.Len(t, out.(map[string]any), len(doc))
}

func TestApplyArrayAdd_Append(t *testing.T) {
	out, err := Apply(testNode(), &schema.Instruction{
		Path: schema.Path("handles"), Op: schema.OpArrayAdd,
		Value: map[string]any{"id": "h3"},
	})
	require.NoError(t, err)
	handles := out.(map[string]any)["handles"].([]any)
	require.Len(t, handles, 4)
	assert.Equal(t, "h3", handles[3].(map[string]any)["id"])
}

func TestApplyArrayAdd_AtIndex(t *testing.T) {
	at := 0
	out, err := Apply(testNode(), &schema.Instruction{
		Path: schema.Path("handles"), Op: schema.OpArrayAdd,
		Value: map[string]any{"id": "first"}, ToIndex: &at,
	})
	require.NoError(t, err)
	handles := out.(map[string]any)["handles"].([]any)
	require.Len(t, handles, 4)
	assert.Equal(t, "first", handles[0].(map[string]any)["id"])
	assert.Equal(t, "h0", handles[1].(map[string]any)["id"])
}

func TestApplyArrayRemoveIndex(t *testing.T) {
	out, err := Apply(testNode(), &schema.Instruction{
		Path: schema.Path("handles", 1), Op: schema.OpArrayRemoveIndex,
	})
	require.NoError(t, err)
	handles := out.(map[string]any)["handles"].([]any)
	require.Len(t, handles, 2)
	assert.Equal(t, "h0", handles[0].(map[string]any)["id"])
	assert.Equal(t, "h2", handles[1].(map[string]any)["id"])
}

func TestApplyArrayRemoveIndex_OutOfRange(t *testing.T) {
	doc := testNode()
	_, err := Apply(doc, &schema.Instruction{
		Path: schema.Path("handles", 7), Op: schema.OpArrayRemoveIndex,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeIndexOutOfRange, schema.CodeOf(err))
	assert.Len(t, doc["handles"].([]any), 3, "failed apply must not mutate")
}

func TestApplyArrayMoveIndex(t *testing.T) {
	to := 0
	out, err := Apply(testNode(), &schema.Instruction{
		Path: schema.Path("handles", 2), Op: schema.OpArrayMoveIndex, ToIndex: &to,
	})
	require.NoError(t, err)
	handles := out.(map[string]any)["handles"].([]any)
	assert.Equal(t, "h2", handles[0].(map[string]any)["id"])
	assert.Equal(t, "h0", handles[1].(map[string]any)["id"])
	assert.Equal(t, "h1", handles[2].(map[string]any)["id"])
}

func TestApply_TargetedIdentifierMatch(t *testing.T) {
	out, err := Apply(testNode(), &schema.Instruction{
		Path: schema.Path("handles", 0), Op: schema.OpSet,
		Value:              map[string]any{"id": "h0", "identifier": "in", "dir": "left"},
		TargetedIdentifier: "in",
	})
	require.NoError(t, err)
	handles := out.(map[string]any)["handles"].([]any)
	assert.Equal(t, "left", handles[0].(map[string]any)["dir"])
}

func TestApply_TargetedIdentifierMismatch(t *testing.T) {
	doc := testNode()
	// Simulate a concurrent delete+recreate that reused slot 0.
	_, err := Apply(doc, &schema.Instruction{
		Path: schema.Path("handles", 0), Op: schema.OpRemove,
		TargetedIdentifier: "somethingElse",
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeIdentifierMismatch, schema.CodeOf(err))
	assert.Len(t, doc["handles"].([]any), 3)
}

func TestApply_TargetedIdentifierAbsentOccupant(t *testing.T) {
	// No occupant at the path: nothing to defend, instruction proceeds.
	out, err := Apply(testNode(), &schema.Instruction{
		Path: schema.Path("newField"), Op: schema.OpSet, Value: 1,
		TargetedIdentifier: "whatever",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]any)["newField"])
}

func TestApply_EmptyPath(t *testing.T) {
	_, err := Apply(testNode(), &schema.Instruction{Op: schema.OpSet, Value: 1})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}
