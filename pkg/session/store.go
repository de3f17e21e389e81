package session

import (
	"hash/fnv"
	"sort"
	"sync"

	"crisis-monitor/pkg/errors"
)

// Store owns live sessions keyed by call id. Every callback for a given
// call id runs while holding that call's lock, so callbacks for the same
// call never overlap.
type Store interface {
	// Create adds a new session; ErrSessionAlreadyExist if the id is taken
	Create(s *Session) error
	// Update runs fn on the session; ErrSessionNotFound if absent
	Update(callID string, fn func(*Session) error) error
	// View runs fn on the session without intent to modify it
	View(callID string, fn func(*Session)) error
	// Remove deletes the session when cond is nil or returns true, and
	// returns it; a nil session and nil error mean cond declined. cond runs
	// while no other operation on the call can proceed.
	Remove(callID string, cond func(*Session) bool) (*Session, error)
	// IDs lists the live call ids
	IDs() []string
	// Count returns the number of live sessions
	Count() int
}

// MemoryStore is a sharded in-process Store with a lock per session
type MemoryStore struct {
	shards    []*storeShard
	shardMask uint32
}

type storeShard struct {
	mu    sync.RWMutex
	items map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session *Session
	removed bool
}

// NewMemoryStore creates a store with shardCount shards. shardCount must
// be a power of two; other values fall back to 16.
func NewMemoryStore(shardCount int) *MemoryStore {
	if shardCount <= 0 || (shardCount&(shardCount-1)) != 0 {
		shardCount = 16
	}

	ms := &MemoryStore{
		shards:    make([]*storeShard, shardCount),
		shardMask: uint32(shardCount - 1),
	}
	for i := range ms.shards {
		ms.shards[i] = &storeShard{items: make(map[string]*entry)}
	}
	return ms
}

func (ms *MemoryStore) shard(callID string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return ms.shards[h.Sum32()&ms.shardMask]
}

// lookup returns the entry locked, or nil when the call is unknown
func (ms *MemoryStore) lookup(callID string) *entry {
	sh := ms.shard(callID)
	sh.mu.RLock()
	e := sh.items[callID]
	sh.mu.RUnlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil
	}
	return e
}

// Create implements Store
func (ms *MemoryStore) Create(s *Session) error {
	sh := ms.shard(s.CallID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.items[s.CallID]; exists {
		return errors.NewSessionAlreadyExists(s.CallID)
	}
	sh.items[s.CallID] = &entry{session: s}
	return nil
}

// Update implements Store
func (ms *MemoryStore) Update(callID string, fn func(*Session) error) error {
	e := ms.lookup(callID)
	if e == nil {
		return errors.NewSessionNotFound(callID)
	}
	defer e.mu.Unlock()
	return fn(e.session)
}

// View implements Store
func (ms *MemoryStore) View(callID string, fn func(*Session)) error {
	e := ms.lookup(callID)
	if e == nil {
		return errors.NewSessionNotFound(callID)
	}
	defer e.mu.Unlock()
	fn(e.session)
	return nil
}

// Remove implements Store. The shard stays locked until the session's own
// lock is acquired so a concurrent Create cannot reuse the id midway.
func (ms *MemoryStore) Remove(callID string, cond func(*Session) bool) (*Session, error) {
	sh := ms.shard(callID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := sh.items[callID]
	if e == nil {
		return nil, errors.NewSessionNotFound(callID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cond != nil && !cond(e.session) {
		return nil, nil
	}

	e.removed = true
	delete(sh.items, callID)
	return e.session, nil
}

// IDs implements Store
func (ms *MemoryStore) IDs() []string {
	var ids []string
	for _, sh := range ms.shards {
		sh.mu.RLock()
		for id := range sh.items {
			ids = append(ids, id)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// Count implements Store
func (ms *MemoryStore) Count() int {
	count := 0
	for _, sh := range ms.shards {
		sh.mu.RLock()
		count += len(sh.items)
		sh.mu.RUnlock()
	}
	return count
}
