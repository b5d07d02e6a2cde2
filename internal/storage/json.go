package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// LoadJSON decodes the value stored under key into out.
// A missing key returns (false, nil) and leaves out untouched.
func LoadJSON(ctx context.Context, st Store, key string, out any) (bool, error) {
	if st == nil {
		return false, nil
	}
	b, ok, err := st.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || len(b) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v and writes it under key.
func SaveJSON(ctx context.Context, st Store, key string, v any) error {
	if st == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := st.Put(ctx, key, b); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
