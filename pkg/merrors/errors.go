// Package merrors defines the error envelope shared by every component of
// the fact store: the Kind-tagged error the wire boundary serializes, plus
// sentinel values so callers can errors.Is/errors.As the way the rest of
// this codebase's ancestry (the ag-ui SDK's pkg/errors) does.
package merrors

import (
	"fmt"
	"strings"
)

// Kind identifies one of the error categories from the wire error envelope.
type Kind string

const (
	KindConflict         Kind = "Conflict"
	KindInvalidPatch     Kind = "InvalidPatch"
	KindNotFound         Kind = "NotFound"
	KindInvalidReference Kind = "InvalidReference"
	KindTombstoneMisuse  Kind = "TombstoneMisuse"
	KindChainViolation   Kind = "ChainViolation"
)

// Error is the machine-readable error carried across the API boundary.
// Field population depends on Kind: Conflict sets ID/Expected/Actual,
// InvalidPatch sets Index/Detail, and so on.
type Error struct {
	Kind     Kind
	ID       string
	Expected string
	Actual   string
	Index    int
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.ID != "" {
		fmt.Fprintf(&b, " id=%s", e.ID)
	}
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&b, " expected=%s actual=%s", e.Expected, e.Actual)
	}
	if e.Kind == KindInvalidPatch {
		fmt.Fprintf(&b, " index=%d", e.Index)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (%v)", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, merrors.ErrConflict) etc. work without requiring
// exact Error value identity — only the Kind needs to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel zero-detail errors for errors.Is comparisons.
var (
	ErrConflict         = &Error{Kind: KindConflict}
	ErrInvalidPatch     = &Error{Kind: KindInvalidPatch}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidReference = &Error{Kind: KindInvalidReference}
	ErrTombstoneMisuse  = &Error{Kind: KindTombstoneMisuse}
	ErrChainViolation   = &Error{Kind: KindChainViolation}
)

// Conflict builds a Conflict error for one entity's stale read.
func Conflict(id, expected, actual string) *Error {
	return &Error{Kind: KindConflict, ID: id, Expected: expected, Actual: actual}
}

// InvalidPatch builds an InvalidPatch error naming the failing op index.
func InvalidPatch(index int, detail string) *Error {
	return &Error{Kind: KindInvalidPatch, Index: index, Detail: detail}
}

// NotFound builds a NotFound error for a missing blob or fact hash.
func NotFound(detail string) *Error {
	return &Error{Kind: KindNotFound, Detail: detail}
}

// InvalidReference builds an InvalidReference error for a malformed reference.
func InvalidReference(detail string) *Error {
	return &Error{Kind: KindInvalidReference, Detail: detail}
}

// TombstoneMisuse builds a TombstoneMisuse error reporting current state.
func TombstoneMisuse(id, detail string) *Error {
	return &Error{Kind: KindTombstoneMisuse, ID: id, Detail: detail}
}

// ChainViolation builds a ChainViolation error for internal self-checks.
func ChainViolation(id, detail string) *Error {
	return &Error{Kind: KindChainViolation, ID: id, Detail: detail}
}

// ConflictSet collects every Conflict discovered while validating a single
// commit's confirmed reads, so a caller sees all stale reads at once instead
// of retrying one at a time.
type ConflictSet struct {
	Conflicts []*Error
}

func (c *ConflictSet) Error() string {
	parts := make([]string, len(c.Conflicts))
	for i, e := range c.Conflicts {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Is reports true for any Conflict, so errors.Is(err, merrors.ErrConflict)
// also matches a batched ConflictSet.
func (c *ConflictSet) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindConflict
}

// As supports errors.As(err, &conflictErr) by exposing the first conflict.
func (c *ConflictSet) As(target interface{}) bool {
	if len(c.Conflicts) == 0 {
		return false
	}
	switch t := target.(type) {
	case **Error:
		*t = c.Conflicts[0]
		return true
	}
	return false
}

var _ error = (*ConflictSet)(nil)
