package patch

import (
	"testing"

	"github.com/mattsp1290/memoryv2/pkg/merrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, p Patch, doc interface{}) interface{} {
	t.Helper()
	out, err := p.Apply(doc)
	require.NoError(t, err)
	return out
}

func TestReplaceExistingPath(t *testing.T) {
	doc := map[string]interface{}{"a": float64(1)}
	out := apply(t, Patch{{Op: OpReplace, Path: "/a", Value: float64(2)}}, doc)
	assert.Equal(t, map[string]interface{}{"a": float64(2)}, out)
}

func TestReplaceMissingPathFails(t *testing.T) {
	doc := map[string]interface{}{"a": float64(1)}
	_, err := Patch{{Op: OpReplace, Path: "/missing", Value: 1}}.Apply(doc)
	require.Error(t, err)
	var me *merrors.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, merrors.KindInvalidPatch, me.Kind)
	assert.Equal(t, 0, me.Index)
}

func TestAddOverwritesExistingKey(t *testing.T) {
	doc := map[string]interface{}{"a": float64(1)}
	out := apply(t, Patch{{Op: OpAdd, Path: "/a", Value: float64(9)}}, doc)
	assert.Equal(t, map[string]interface{}{"a": float64(9)}, out)
}

func TestAddAppendsWithDashToken(t *testing.T) {
	doc := map[string]interface{}{"arr": []interface{}{float64(1)}}
	out := apply(t, Patch{{Op: OpAdd, Path: "/arr/-", Value: float64(2)}}, doc)
	assert.Equal(t, []interface{}{float64(1), float64(2)}, out.(map[string]interface{})["arr"])
}

func TestAddRequiresExistingParent(t *testing.T) {
	doc := map[string]interface{}{}
	_, err := Patch{{Op: OpAdd, Path: "/missing/child", Value: 1}}.Apply(doc)
	require.Error(t, err)
}

func TestRemoveExistingKey(t *testing.T) {
	doc := map[string]interface{}{"a": float64(1), "b": float64(2)}
	out := apply(t, Patch{{Op: OpRemove, Path: "/a"}}, doc)
	assert.Equal(t, map[string]interface{}{"b": float64(2)}, out)
}

func TestRemoveMissingFails(t *testing.T) {
	doc := map[string]interface{}{}
	_, err := Patch{{Op: OpRemove, Path: "/missing"}}.Apply(doc)
	require.Error(t, err)
}

func TestMoveRelocatesValue(t *testing.T) {
	doc := map[string]interface{}{"a": float64(1)}
	out := apply(t, Patch{{Op: OpMove, From: "/a", Path: "/b"}}, doc)
	assert.Equal(t, map[string]interface{}{"b": float64(1)}, out)
}

func TestMoveRejectsFromAsPrefixOfPath(t *testing.T) {
	doc := map[string]interface{}{"a": map[string]interface{}{"b": float64(1)}}
	_, err := Patch{{Op: OpMove, From: "/a", Path: "/a/b"}}.Apply(doc)
	require.Error(t, err)
}

func TestSpliceInsertsAndRemoves(t *testing.T) {
	doc := map[string]interface{}{"arr": []interface{}{float64(1), float64(2), float64(3)}}
	out := apply(t, Patch{{Op: OpSplice, Path: "/arr", Index: 1, Remove: 1, Add: []interface{}{float64(9), float64(8)}}}, doc)
	assert.Equal(t, []interface{}{float64(1), float64(9), float64(8), float64(3)}, out.(map[string]interface{})["arr"])
}

func TestSpliceOutOfBoundsFails(t *testing.T) {
	doc := map[string]interface{}{"arr": []interface{}{float64(1)}}
	_, err := Patch{{Op: OpSplice, Path: "/arr", Index: 5, Remove: 0}}.Apply(doc)
	require.Error(t, err)
}

func TestSpliceOnNonArrayFails(t *testing.T) {
	doc := map[string]interface{}{"a": float64(1)}
	_, err := Patch{{Op: OpSplice, Path: "/a", Index: 0, Remove: 0}}.Apply(doc)
	require.Error(t, err)
}

// TestInvalidPatchAtomicity checks that a patch whose second operation
// fails leaves the document entirely untouched from the caller's
// perspective, and reports the failing operation's index.
func TestInvalidPatchAtomicity(t *testing.T) {
	doc := map[string]interface{}{"a": float64(1)}
	_, err := Patch{
		{Op: OpReplace, Path: "/a", Value: float64(2)},
		{Op: OpRemove, Path: "/missing"},
	}.Apply(doc)

	require.Error(t, err)
	var me *merrors.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 1, me.Index)
	// the caller's original document must be untouched: Apply operates on
	// a deep copy, never the input.
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, doc)
}

func TestNoOpAddThenRemoveIsIdempotent(t *testing.T) {
	doc := map[string]interface{}{"a": float64(1)}
	out := apply(t, Patch{
		{Op: OpAdd, Path: "/tmp", Value: float64(1)},
		{Op: OpRemove, Path: "/tmp"},
	}, doc)
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, out)
}
