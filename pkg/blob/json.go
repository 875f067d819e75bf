package blob

import (
	"context"
	"encoding/json"

	"github.com/mattsp1290/memoryv2/pkg/ref"
)

// PutJSON marshals value and stores it as a blob, returning the reference a
// caller records as its payload pointer.
func PutJSON(ctx context.Context, s Store, value interface{}) (ref.Reference, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, data, "application/json")
}

// GetJSON retrieves and unmarshals a JSON blob into out.
func GetJSON(ctx context.Context, s Store, r ref.Reference, out interface{}) error {
	b, err := s.Get(ctx, r)
	if err != nil {
		return err
	}
	return json.Unmarshal(b.Data, out)
}
