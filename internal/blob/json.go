package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

const jsonContentType = "application/json"

// PutJSON encodes v and stores it at key.
func PutJSON(ctx context.Context, s Store, key string, v any, metadata map[string]string) (Info, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Info{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, bytes.NewReader(b), PutOptions{ContentType: jsonContentType, Metadata: metadata})
}

// GetJSON decodes the object at key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) (Info, error) {
	info, rc, err := s.Get(ctx, key)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return Info{}, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return Info{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return info, nil
}
