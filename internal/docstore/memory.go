package docstore

import (
	"context"
	"encoding/json"
	"sync"
)

// memoryStore keeps documents in a process-local map. It round-trips values
// through JSON so callers see the same decoding behavior as the database
// implementation. Used in tests and single-process setups.
type memoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemoryStore() Store {
	return &memoryStore{docs: map[string][]byte{}}
}

func (s *memoryStore) Read(_ context.Context, name string, opts ReadOptions, out any) error {
	s.mu.Lock()
	raw, ok := s.docs[name]
	s.mu.Unlock()
	if !ok {
		if opts.Default != nil {
			return remarshal(opts.Default(), out)
		}
		return ErrNotFound
	}
	if opts.Schema != nil {
		if err := validateAgainstSchema(opts.Schema, raw); err != nil {
			if opts.Default != nil {
				return remarshal(opts.Default(), out)
			}
			return err
		}
	}
	return json.Unmarshal(raw, out)
}

func (s *memoryStore) Write(_ context.Context, name string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[name] = raw
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	delete(s.docs, name)
	s.mu.Unlock()
	return nil
}

func remarshal(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
