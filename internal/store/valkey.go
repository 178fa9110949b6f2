package store

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

// ValkeyStore persists keys in a Valkey-compatible server under a prefix.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore wraps an existing client. An empty prefix defaults to "agroassist".
func NewValkeyStore(client valkey.Client, prefix string) *ValkeyStore {
	if prefix == "" {
		prefix = "agroassist"
	}
	return &ValkeyStore{client: client, prefix: prefix}
}

// DialValkey connects to addr and returns a ready store.
func DialValkey(addr, prefix string) (*ValkeyStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", addr, err)
	}
	return NewValkeyStore(client, prefix), nil
}

func (s *ValkeyStore) Get(ctx context.Context, key string) (string, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.key(key)).Build())
	value, err := resp.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *ValkeyStore) Set(ctx context.Context, key, value string) error {
	return s.client.Do(ctx, s.client.B().Set().Key(s.key(key)).Value(value).Build()).Error()
}

func (s *ValkeyStore) MultiRemove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.key(k))
	}
	return s.client.Do(ctx, s.client.B().Del().Key(full...).Build()).Error()
}

// Close releases the underlying client.
func (s *ValkeyStore) Close() {
	s.client.Close()
}

func (s *ValkeyStore) key(k string) string {
	return fmt.Sprintf("%s:%s", s.prefix, k)
}

var _ KV = (*ValkeyStore)(nil)
