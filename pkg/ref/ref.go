// Package ref implements the canonical hasher and the Reference type that
// every other component — facts, blobs, snapshots — addresses content by.
// A value is hashed as one SHA-256 digest over its whole canonical JSON
// encoding; child nodes are not hashed separately, so no per-node (merkle)
// digests exist. It exists as a single shared implementation so every caller
// hashes values identically.
package ref

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mattsp1290/memoryv2/pkg/merrors"
	mbase "github.com/multiformats/go-multibase"
)

// Reference is an opaque content hash, encoded as a multibase base32-lower
// string with a one-character prefix.
type Reference string

// prefixCodec is the single multicodec-style prefix byte used for every
// reference this store produces. The value itself carries no external
// meaning; it exists purely so decode can sanity-check its input.
const prefixCodec = 0x01

// Hash computes the canonical reference of an arbitrary JSON value. Two
// values with identical canonical form produce identical references,
// regardless of the traversal order used to construct them in memory.
func Hash(value interface{}) (Reference, error) {
	canon, err := canonicalize(value)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	sum := sha256.Sum256(canon)
	return encode(sum[:])
}

// HashBytes computes the content-addressed reference of raw bytes, the same
// hash family Hash uses, applied directly to a byte payload rather than a
// JSON value (used by the blob store).
func HashBytes(data []byte) (Reference, error) {
	sum := sha256.Sum256(data)
	return encode(sum[:])
}

// MustHash panics on error; reserved for call sites hashing values that are
// already known-canonical (e.g. round-trip tests).
func MustHash(value interface{}) Reference {
	r, err := Hash(value)
	if err != nil {
		panic(err)
	}
	return r
}

func encode(digest []byte) (Reference, error) {
	s, err := mbase.Encode(mbase.Base32, append([]byte{prefixCodec}, digest...))
	if err != nil {
		return "", fmt.Errorf("multibase encode: %w", err)
	}
	return Reference(s), nil
}

// Decode validates and strips the multibase envelope of a Reference,
// returning the raw digest bytes.
func Decode(r Reference) ([]byte, error) {
	_, data, err := mbase.Decode(string(r))
	if err != nil {
		return nil, merrors.InvalidReference(err.Error())
	}
	if len(data) < 1 || data[0] != prefixCodec {
		return nil, merrors.InvalidReference("unrecognized reference prefix")
	}
	return data[1:], nil
}

// Empty computes the EMPTY(id) sentinel: the reference of the canonical
// value {"id": id}, used as the parent of an entity's first fact.
func Empty(id string) (Reference, error) {
	return Hash(map[string]interface{}{"id": id})
}

// canonicalize produces the canonical JSON encoding of a value: object keys
// sorted lexicographically by codepoint, integers as decimal without
// leading zeros, non-integer reals as shortest round-trip decimal, UTF-8
// strings, and no non-significant whitespace. It round-trips through
// encoding/json with UseNumber so numeric precision survives decode/encode
// without drifting through float64.
func canonicalize(value interface{}) ([]byte, error) {
	normalized, err := normalize(value)
	if err != nil {
		return nil, err
	}
	return marshalCanonical(normalized)
}

// normalize re-decodes any already-marshaled interface{} graph (e.g. a
// map[string]interface{} produced by encoding/json without UseNumber) into
// a canonical tree where numbers are json.Number holding the decimal text
// encoding/json wrote for them, so large integers do not lose precision
// through float64. A float64 with an integral value encodes the same as the
// equal integer (float64(1) and 1 both become "1").
func normalize(value interface{}) (interface{}, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// marshalCanonical writes value as canonical JSON: objects with sorted
// keys, arrays element by element, and scalars passed through encoding/json (which already
// produces the shortest round-trip decimal for float64 and renders
// json.Number verbatim).
func marshalCanonical(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			childJSON, err := marshalCanonical(v[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, childJSON...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf := []byte{'['}
		for i, item := range v {
			if i > 0 {
				buf = append(buf, ',')
			}
			childJSON, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, childJSON...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		// json.Number, string, bool, nil all marshal canonically already.
		return json.Marshal(v)
	}
}
