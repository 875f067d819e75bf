//go:build property

package ref

import (
	"testing"

	"pgregory.net/rapid"
)

// genJSONValue generates arbitrary JSON-like values, grounded on the
// generator style of pkg/state/property_test.go's operation generators.
func genJSONValue(depth int) *rapid.Generator[interface{}] {
	if depth <= 0 {
		return rapid.OneOf(
			rapid.Just[interface{}](nil),
			rapid.Map(rapid.Bool(), func(b bool) interface{} { return b }),
			rapid.Map(rapid.Int64(), func(i int64) interface{} { return i }),
			rapid.Map(rapid.String(), func(s string) interface{} { return s }),
		)
	}
	return rapid.OneOf(
		rapid.Map(rapid.Int64(), func(i int64) interface{} { return i }),
		rapid.Map(rapid.String(), func(s string) interface{} { return s }),
		rapid.Map(rapid.SliceOfN(genJSONValue(depth-1), 0, 4), func(s []interface{}) interface{} { return s }),
		rapid.Map(rapid.MapOfN(rapid.StringMatching(`[a-z]{1,6}`), genJSONValue(depth-1), 0, 4), func(m map[string]interface{}) interface{} {
			return m
		}),
	)
}

// TestPropertyHashStableAcrossNormalize checks that re-marshaling a value
// through encoding/json before hashing never changes its hash.
func TestPropertyHashStableAcrossNormalize(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := genJSONValue(3).Draw(t, "value")

		r1, err := Hash(v)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}

		// Re-derive the same logical value via a canonical round trip and
		// confirm the hash is stable.
		normalized, err := normalize(v)
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		r2, err := Hash(normalized)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}

		if r1 != r2 {
			t.Fatalf("hash not stable across round trip: %v != %v", r1, r2)
		}
	})
}

func TestPropertyDecodeEncodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := genJSONValue(3).Draw(t, "value")

		r, err := Hash(v)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		digest, err := Decode(r)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(digest) != 32 {
			t.Fatalf("expected 32-byte digest, got %d", len(digest))
		}
	})
}
