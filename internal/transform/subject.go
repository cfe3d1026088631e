// Package transform — subject.go
//
// A SubjectContext holds the per-subject state that makes transformation
// consistent: the pseudonym cache (same value, same subject → same
// surrogate) and the subject's date-shift offset. Contexts are created
// lazily per subject id and backed by the StateStore so consistency
// extends across process restarts.
package transform

import (
	"strconv"
	"sync"
)

// Subjects is the registry of per-subject transformation contexts.
// Safe for concurrent use.
type Subjects struct {
	mu    sync.Mutex
	byID  map[string]*SubjectContext
	store StateStore
}

// NewSubjects creates a registry backed by store. A nil store falls back
// to in-memory state only.
func NewSubjects(store StateStore) *Subjects {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Subjects{
		byID:  make(map[string]*SubjectContext),
		store: store,
	}
}

// Context returns the context for id, creating it on first use.
func (s *Subjects) Context(id string) *SubjectContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.byID[id]
	if !ok {
		ctx = &SubjectContext{
			id:         id,
			pseudonyms: make(map[string]string),
			dates:      make(map[string]string),
			store:      s.store,
		}
		s.byID[id] = ctx
	}
	return ctx
}

// Reset discards the in-memory context for id. Persisted state is kept;
// the next Context call reloads it lazily.
func (s *Subjects) Reset(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// Close releases the backing store.
func (s *Subjects) Close() error {
	return s.store.Close()
}

// SubjectContext is the mutable per-subject state. All methods are safe
// for concurrent use; the lock is per subject, so documents for different
// subjects never contend.
type SubjectContext struct {
	mu         sync.Mutex
	id         string
	shiftDays  int
	shiftSet   bool
	pseudonyms map[string]string
	dates      map[string]string
	store      StateStore
}

// ID returns the subject identifier this context belongs to.
func (c *SubjectContext) ID() string { return c.id }

// Pseudonym returns the memoized surrogate for key, generating and
// persisting it on first use. The second return reports a cache hit
// (memory or store).
func (c *SubjectContext) Pseudonym(key string, gen func() string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.pseudonyms[key]; ok {
		return v, true
	}
	persistKey := "pseudo|" + c.id + "|" + key
	if v, ok := c.store.Get(persistKey); ok {
		c.pseudonyms[key] = v
		return v, true
	}
	v := gen()
	c.pseudonyms[key] = v
	c.store.Set(persistKey, v)
	return v, false
}

// ShiftDays returns the subject's date-shift offset, computing and
// persisting it on first use.
func (c *SubjectContext) ShiftDays(compute func() int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shiftSet {
		return c.shiftDays
	}
	persistKey := "shift|" + c.id
	if v, ok := c.store.Get(persistKey); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.shiftDays = n
			c.shiftSet = true
			return n
		}
	}
	n := compute()
	c.shiftDays = n
	c.shiftSet = true
	c.store.Set(persistKey, strconv.Itoa(n))
	return n
}

// ShiftedDate memoizes the rendered shifted form of a raw date string.
// Rendering is deterministic given the shift offset, so this cache is
// in-memory only. gen runs under the subject lock and must not call back
// into the context.
func (c *SubjectContext) ShiftedDate(raw string, gen func() string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.dates[raw]; ok {
		return v
	}
	v := gen()
	c.dates[raw] = v
	return v
}
