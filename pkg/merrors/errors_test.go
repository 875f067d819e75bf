package merrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictIsErrConflict(t *testing.T) {
	err := Conflict("u:a", "H1", "H2")
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))

	var target *Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "u:a", target.ID)
	assert.Equal(t, "H1", target.Expected)
	assert.Equal(t, "H2", target.Actual)
}

func TestInvalidPatchReportsIndex(t *testing.T) {
	err := InvalidPatch(1, "path /missing does not exist")
	assert.True(t, errors.Is(err, ErrInvalidPatch))
	assert.Contains(t, err.Error(), "index=1")
}

func TestConflictSetMatchesConflictSentinel(t *testing.T) {
	set := &ConflictSet{Conflicts: []*Error{
		Conflict("u:a", "H1", "H2"),
		Conflict("u:b", "H3", "H4"),
	}}
	assert.True(t, errors.Is(set, ErrConflict))

	var target *Error
	require.True(t, errors.As(set, &target))
	assert.Equal(t, "u:a", target.ID)
}
