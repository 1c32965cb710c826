package pipeline

import (
	"sort"
	"sync"
)

// Entry is one committed output value.
type Entry struct {
	Value any
	// Seq is the logical clock value at which the owning stage committed.
	Seq int64
}

// Store maps stage name to that stage's committed outputs. One store exists
// per test per run. It is safe for concurrent use by the stages of one test.
type Store struct {
	mu        sync.RWMutex
	data      map[string]map[string]Entry
	committed map[string]int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data:      make(map[string]map[string]Entry),
		committed: make(map[string]int64),
	}
}

// Lookup returns the entry stage wrote under key.
func (s *Store) Lookup(stage, key string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.committed[stage]; !ok {
		return Entry{}, &NotFoundError{Stage: stage, Key: key}
	}
	e, ok := s.data[stage][key]
	if !ok {
		return Entry{}, &NotFoundError{Stage: stage, Key: key, Committed: true}
	}
	return e, nil
}

// Get returns the value stage wrote under key.
func (s *Store) Get(stage, key string) (any, error) {
	e, err := s.Lookup(stage, key)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// GetString returns a string output, or "" when absent or not a string.
func (s *Store) GetString(stage, key string) string {
	v, err := s.Get(stage, key)
	if err != nil {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Committed reports whether stage has committed, and at which sequence.
func (s *Store) Committed(stage string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.committed[stage]
	return seq, ok
}

// Stages returns committed stage names ordered by commit sequence.
func (s *Store) Stages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.committed))
	for n := range s.committed {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		return s.committed[names[i]] < s.committed[names[j]]
	})
	return names
}

// commit records values under stage. A stage commits at most once.
func (s *Store) commit(stage string, values map[string]any, seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.committed[stage]; done {
		return false
	}
	entries := make(map[string]Entry, len(values))
	for k, v := range values {
		entries[k] = Entry{Value: v, Seq: seq}
	}
	s.data[stage] = entries
	s.committed[stage] = seq
	return true
}
