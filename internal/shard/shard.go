// Package shard implements one partition of a table's key space: an
// ordered mapping from opaque key bytes to opaque value bytes, an ownership
// tag, and a pending-update buffer used when the shard is not locally
// owned. A non-owned shard keeps its data store empty and routes every
// write into pending instead, to be shipped to the owner on flush.
package shard

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dreamware/tablerun/internal/plugin"
	"github.com/dreamware/tablerun/internal/storage"
)

// ErrInvalidShard is returned by any operation against a destroyed shard.
var ErrInvalidShard = errors.New("shard: invalid or destroyed")

// State tracks whether a shard may still be operated on.
type State int

const (
	StateActive State = iota
	StateDestroyed
)

// Shard is one partition of a table's key space.
type Shard struct {
	combiner      plugin.Accumulator
	reducer       plugin.Accumulator
	data          *storage.Store
	pending       *storage.Store
	TableID       int
	ShardID       int
	OwnerWorkerID int
	maxPending    int
	mu            sync.Mutex
	state         State
	dirty         bool
}

// New creates a shard of tableID/shardID owned by ownerWorkerID. combiner
// merges writes to the same key before they leave this worker (either into
// the local data store, when owned, or into pending, when not); reducer
// merges incoming writes once they reach the owner. maxPending bounds how
// many entries accumulate in pending before Update reports that a flush is
// due.
func New(tableID, shardID, ownerWorkerID int, combiner, reducer plugin.Accumulator, maxPending int) *Shard {
	return &Shard{
		TableID:       tableID,
		ShardID:       shardID,
		OwnerWorkerID: ownerWorkerID,
		combiner:      combiner,
		reducer:       reducer,
		data:          storage.New(),
		pending:       storage.New(),
		maxPending:    maxPending,
	}
}

// IsLocal reports whether selfID owns this shard.
func (s *Shard) IsLocal(selfID int) bool {
	return s.OwnerWorkerID == selfID
}

// SetOwner updates ownership, e.g. in response to a ShardAssign. It does not
// move data and is not fenced against a kernel run in flight against this
// shard; the master is assumed not to reassign ownership mid-kernel.
func (s *Shard) SetOwner(workerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OwnerWorkerID = workerID
}

// Destroy marks the shard unusable; subsequent operations return
// ErrInvalidShard.
func (s *Shard) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDestroyed
}

func (s *Shard) checkActive() error {
	if s.state == StateDestroyed {
		return fmt.Errorf("shard %d: %w", s.ShardID, ErrInvalidShard)
	}
	return nil
}

// Contains reports whether key is present in the local data store. It is
// meaningless for a non-owned shard, whose data store is always empty by
// construction.
func (s *Shard) Contains(key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return false, err
	}
	_, ok := s.data.Get(key)
	return ok, nil
}

// Get returns the value for key, if any, from the local data store.
func (s *Shard) Get(key []byte) (value []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return nil, false, err
	}
	v, ok := s.data.Get(key)
	return v, ok, nil
}

// Update applies a local write. When local is true (this worker owns the
// shard) it merges into the data store via combiner; otherwise it merges
// into pending via combiner and marks the shard dirty. flushDue reports
// that pending has crossed maxPending and should be flushed soon; auto-flush
// itself is optional, so callers (Table.Update) decide whether to act on it.
func (s *Shard) Update(key, value []byte, local bool) (flushDue bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return false, err
	}

	if local {
		if old, ok := s.data.Get(key); ok {
			s.data.Put(key, s.combiner.Merge(old, value))
		} else {
			s.data.Put(key, value)
		}
		return false, nil
	}

	if old, ok := s.pending.Get(key); ok {
		s.pending.Put(key, s.combiner.Merge(old, value))
	} else {
		s.pending.Put(key, value)
	}
	s.dirty = true

	return s.maxPending > 0 && s.pending.Len() > s.maxPending, nil
}

// ApplyRemote unconditionally merges an incoming write into the local data
// store via reducer; this is the entry point for incoming Put RPCs. It fails
// if the shard is not actually owned here — a remote Put should never target
// a shard this worker doesn't own.
func (s *Shard) ApplyRemote(key, value []byte, selfID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return err
	}
	if s.OwnerWorkerID != selfID {
		return fmt.Errorf("shard %d: apply_remote on non-owner (owner=%d, self=%d)", s.ShardID, s.OwnerWorkerID, selfID)
	}

	if old, ok := s.data.Get(key); ok {
		s.data.Put(key, s.reducer.Merge(old, value))
	} else {
		s.data.Put(key, value)
	}
	return nil
}

// DrainPending atomically snapshots and clears the pending buffer, and
// clears dirty, returning the batch to ship to the owner.
func (s *Shard) DrainPending() ([]storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	entries := s.pending.Clear()
	s.dirty = false
	return entries, nil
}

// Dirty reports whether pending holds unflushed writes.
func (s *Shard) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Size returns the number of keys in the local data store.
func (s *Shard) Size() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return 0, err
	}
	return s.data.Len(), nil
}

// Snapshot returns the local data store's entries in insertion order, for
// LocalIterator construction.
func (s *Shard) Snapshot() ([]storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	return s.data.Snapshot(), nil
}

// Stats summarizes a shard for metrics and diagnostics.
type Stats struct {
	Keys         int
	Bytes        int
	PendingSize  int
	Dirty        bool
}

// Stats returns a point-in-time snapshot of shard metrics.
func (s *Shard) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Keys:        s.data.Len(),
		Bytes:       s.data.Bytes(),
		PendingSize: s.pending.Len(),
		Dirty:       s.dirty,
	}
}
