package patch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// parsePointer validates and splits an RFC 6901 JSON Pointer into unescaped
// tokens. "" denotes the whole document and yields a nil token slice.
func parsePointer(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("JSON pointer must start with '/' or be empty, got %q", pointer)
	}
	if pointer == "/" {
		return []string{""}, nil
	}
	raw := strings.Split(pointer[1:], "/")
	tokens := make([]string, len(raw))
	for i, t := range raw {
		tokens[i] = unescapeToken(t)
	}
	return tokens, nil
}

func unescapeToken(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	token = strings.ReplaceAll(token, "~0", "~")
	return token
}

// arrayIndex parses an array index token, recognizing "-" as append.
func arrayIndex(token string, length int) (idx int, isAppend bool, err error) {
	if token == "-" {
		return length, true, nil
	}
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, false, fmt.Errorf("invalid array index %q", token)
	}
	return n, false, nil
}

// valueAtTokens resolves the value at tokens, erroring if any intermediate
// segment does not exist.
func valueAtTokens(document interface{}, tokens []string) (interface{}, error) {
	current := document
	for _, token := range tokens {
		switch c := current.(type) {
		case map[string]interface{}:
			v, ok := c[token]
			if !ok {
				return nil, fmt.Errorf("key %q not found", token)
			}
			current = v
		case []interface{}:
			idx, isAppend, err := arrayIndex(token, len(c))
			if err != nil {
				return nil, err
			}
			if isAppend || idx < 0 || idx >= len(c) {
				return nil, fmt.Errorf("array index out of bounds: %s", token)
			}
			current = c[idx]
		default:
			return nil, fmt.Errorf("cannot index into %T with %q", current, token)
		}
	}
	return current, nil
}

// setAtTokens returns document with value set at tokens. When
// isAdd is true, array targets insert (appending on "-"); when false, array
// targets must already exist and are overwritten in place. Object targets
// always overwrite-or-insert. Maps are mutated through (Go map semantics
// make this safe to do without losing the parent's reference); slices are
// rebuilt and the rebuilt slice is threaded back up to the parent.
func setAtTokens(document interface{}, tokens []string, value interface{}, isAdd bool) (interface{}, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	token := tokens[0]
	rest := tokens[1:]

	switch node := document.(type) {
	case map[string]interface{}:
		if len(rest) == 0 {
			node[token] = value
			return node, nil
		}
		child, ok := node[token]
		if !ok {
			return nil, fmt.Errorf("key %q not found", token)
		}
		updated, err := setAtTokens(child, rest, value, isAdd)
		if err != nil {
			return nil, err
		}
		node[token] = updated
		return node, nil
	case []interface{}:
		idx, isAppend, err := arrayIndex(token, len(node))
		if err != nil {
			return nil, err
		}
		if len(rest) == 0 {
			if isAdd {
				if isAppend {
					return append(node, value), nil
				}
				if idx < 0 || idx > len(node) {
					return nil, fmt.Errorf("array index out of bounds: %s", token)
				}
				out := make([]interface{}, 0, len(node)+1)
				out = append(out, node[:idx]...)
				out = append(out, value)
				out = append(out, node[idx:]...)
				return out, nil
			}
			if isAppend || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("array index out of bounds: %s", token)
			}
			node[idx] = value
			return node, nil
		}
		if isAppend || idx < 0 || idx >= len(node) {
			return nil, fmt.Errorf("array index out of bounds: %s", token)
		}
		updated, err := setAtTokens(node[idx], rest, value, isAdd)
		if err != nil {
			return nil, err
		}
		node[idx] = updated
		return node, nil
	default:
		return nil, fmt.Errorf("cannot navigate into %T with %q", document, token)
	}
}

// removeAtTokens returns document with the value at tokens deleted; maps
// are modified in place. tokens must be non-empty (removing the root is rejected by the
// caller before this is reached).
func removeAtTokens(document interface{}, tokens []string) (interface{}, error) {
	token := tokens[len(tokens)-1]
	parentTokens := tokens[:len(tokens)-1]

	parent, err := valueAtTokens(document, parentTokens)
	if err != nil {
		return nil, fmt.Errorf("path does not exist")
	}

	switch p := parent.(type) {
	case map[string]interface{}:
		if _, ok := p[token]; !ok {
			return nil, fmt.Errorf("key %q not found", token)
		}
		delete(p, token)
		return document, nil
	case []interface{}:
		idx, isAppend, err := arrayIndex(token, len(p))
		if err != nil {
			return nil, err
		}
		if isAppend || idx < 0 || idx >= len(p) {
			return nil, fmt.Errorf("array index out of bounds: %s", token)
		}
		out := make([]interface{}, 0, len(p)-1)
		out = append(out, p[:idx]...)
		out = append(out, p[idx+1:]...)
		if len(parentTokens) == 0 {
			return out, nil
		}
		if _, err := setAtTokens(document, parentTokens, out, false); err != nil {
			return nil, err
		}
		return document, nil
	default:
		return nil, fmt.Errorf("cannot remove from %T", parent)
	}
}

// deepCopy clones a JSON-shaped value via marshal/unmarshal, the same
// technique pkg/state/json_patch.go uses, so applying a patch never
// mutates the caller's document or a previously materialized snapshot.
func deepCopy(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
