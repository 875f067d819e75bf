// Package patch implements sequential application of ordered JSON Pointer
// based operations to a JSON value. Application is all-or-nothing — if any
// operation fails, the entire patch is rejected and the caller receives an
// InvalidPatch error naming the failing operation's index. A trimmed,
// RFC 6902 flavored operation set (test/copy dropped, splice added as a
// first-class array operation).
package patch

import (
	"fmt"
	"strings"

	"github.com/mattsp1290/memoryv2/pkg/merrors"
)

// Op discriminates the five supported patch operations.
type Op string

const (
	OpReplace Op = "replace"
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpMove    Op = "move"
	OpSplice  Op = "splice"
)

// Operation is a single patch step. Field population depends on Op:
// replace/add use Path+Value; remove uses Path; move uses From+Path;
// splice uses Path+Index+Remove+Add.
type Operation struct {
	Op     Op            `json:"op"`
	Path   string        `json:"path"`
	Value  interface{}   `json:"value,omitempty"`
	From   string        `json:"from,omitempty"`
	Index  int           `json:"index,omitempty"`
	Remove int           `json:"remove,omitempty"`
	Add    []interface{} `json:"add,omitempty"`
}

// Patch is an ordered list of Operations.
type Patch []Operation

// Apply runs every operation against document in order. On the first
// failure it returns merrors.InvalidPatch naming the operation's index and
// reason; the returned document in that case is nil — no partial effect is
// ever visible to the caller.
func (p Patch) Apply(document interface{}) (interface{}, error) {
	doc := deepCopy(document)
	for i, op := range p {
		next, err := op.apply(doc)
		if err != nil {
			return nil, merrors.InvalidPatch(i, err.Error())
		}
		doc = next
	}
	return doc, nil
}

func (op Operation) apply(document interface{}) (interface{}, error) {
	switch op.Op {
	case OpAdd:
		return applyAdd(document, op.Path, op.Value)
	case OpRemove:
		return applyRemove(document, op.Path)
	case OpReplace:
		return applyReplace(document, op.Path, op.Value)
	case OpMove:
		return applyMove(document, op.From, op.Path)
	case OpSplice:
		return applySplice(document, op.Path, op.Index, op.Remove, op.Add)
	default:
		return nil, fmt.Errorf("unknown operation %q", op.Op)
	}
}

func applyAdd(document interface{}, path string, value interface{}) (interface{}, error) {
	tokens, err := parsePointer(path)
	if err != nil {
		return nil, err
	}
	return setAtTokens(document, tokens, value, true)
}

func applyRemove(document interface{}, path string) (interface{}, error) {
	tokens, err := parsePointer(path)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("cannot remove the root document")
	}
	return removeAtTokens(document, tokens)
}

func applyReplace(document interface{}, path string, value interface{}) (interface{}, error) {
	tokens, err := parsePointer(path)
	if err != nil {
		return nil, err
	}
	if _, err := valueAtTokens(document, tokens); err != nil {
		return nil, fmt.Errorf("path %s does not exist", path)
	}
	return setAtTokens(document, tokens, value, false)
}

func applyMove(document interface{}, from, path string) (interface{}, error) {
	if from == path || strings.HasPrefix(path, from+"/") {
		return nil, fmt.Errorf("from %s must not be a prefix of path %s", from, path)
	}
	fromTokens, err := parsePointer(from)
	if err != nil {
		return nil, err
	}
	value, err := valueAtTokens(document, fromTokens)
	if err != nil {
		return nil, fmt.Errorf("source path %s does not exist", from)
	}
	moved := deepCopy(value)

	doc, err := removeAtTokens(document, fromTokens)
	if err != nil {
		return nil, err
	}
	pathTokens, err := parsePointer(path)
	if err != nil {
		return nil, err
	}
	return setAtTokens(doc, pathTokens, moved, true)
}

func applySplice(document interface{}, path string, index, remove int, add []interface{}) (interface{}, error) {
	tokens, err := parsePointer(path)
	if err != nil {
		return nil, err
	}
	target, err := valueAtTokens(document, tokens)
	if err != nil {
		return nil, fmt.Errorf("path %s does not exist", path)
	}
	arr, ok := target.([]interface{})
	if !ok {
		return nil, fmt.Errorf("path %s does not resolve to an array", path)
	}
	if index < 0 || index > len(arr) {
		return nil, fmt.Errorf("splice index %d out of bounds [0,%d]", index, len(arr))
	}
	if remove < 0 || remove > len(arr)-index {
		return nil, fmt.Errorf("splice remove %d exceeds available length %d", remove, len(arr)-index)
	}
	spliced := make([]interface{}, 0, len(arr)-remove+len(add))
	spliced = append(spliced, arr[:index]...)
	spliced = append(spliced, add...)
	spliced = append(spliced, arr[index+remove:]...)

	return setAtTokens(document, tokens, spliced, false)
}
