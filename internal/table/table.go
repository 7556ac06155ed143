// Package table implements a sharded key-value table: a named collection of
// shards, the plug-ins that parameterize them, and the routing, flushing,
// and iteration logic that lets a kernel treat the whole table as though it
// were local.
package table

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/tablerun/internal/iterator"
	"github.com/dreamware/tablerun/internal/logger"
	"github.com/dreamware/tablerun/internal/metrics"
	"github.com/dreamware/tablerun/internal/peer"
	"github.com/dreamware/tablerun/internal/plugin"
	"github.com/dreamware/tablerun/internal/shard"
	"github.com/dreamware/tablerun/internal/wire"
)

// Iterator is the local name for the traversal shape table.Iterate returns;
// it is structurally identical to iterator.Iterator and to kernel.Context's
// Iterate return type, so neither package needs to import the other.
type Iterator interface {
	Done() bool
	Key() []byte
	Value() []byte
	Next(ctx context.Context) error
}

// Table is a sharded, plug-in-parameterized key-value map, plus the state
// needed to route operations to the right worker.
type Table struct {
	sharder  plugin.Sharder
	combiner plugin.Accumulator
	reducer  plugin.Accumulator
	selector plugin.Selector

	shards []*shard.Shard
	peers  map[int]peer.Proxy

	ID         int
	SelfID     int
	NumShards  int
	MaxPending int

	log *zap.SugaredLogger
	mu  sync.RWMutex
}

// Config describes how to materialize a table's plug-ins and shard count.
// Zero-value PluginSpecs fall back to the defaults: selector = identity,
// combiner = replace, reducer = replace.
type Config struct {
	NumShards  int
	Sharder    wire.PluginSpec
	Combiner   wire.PluginSpec
	Reducer    wire.PluginSpec
	Selector   wire.PluginSpec
	MaxPending int
}

// New instantiates a table's plug-ins from the process-wide registries and
// allocates NumShards shards, all initially owned by nobody (owner -1)
// until a ShardAssign arrives.
func New(id, selfID int, cfg Config, peers map[int]peer.Proxy) (*Table, error) {
	sharderSpec := cfg.Sharder
	if sharderSpec.TypeID == "" {
		sharderSpec.TypeID = "fnv"
	}
	combinerSpec := cfg.Combiner
	if combinerSpec.TypeID == "" {
		combinerSpec.TypeID = "replace"
	}
	reducerSpec := cfg.Reducer
	if reducerSpec.TypeID == "" {
		reducerSpec.TypeID = "replace"
	}
	selectorSpec := cfg.Selector
	if selectorSpec.TypeID == "" {
		selectorSpec.TypeID = "identity"
	}

	sharder, err := plugin.Sharders.New(sharderSpec.TypeID)
	if err != nil {
		return nil, fmt.Errorf("table %d: sharder: %w", id, err)
	}
	if err := sharder.Init(sharderSpec.Opts); err != nil {
		return nil, fmt.Errorf("table %d: sharder init: %w", id, err)
	}

	combiner, err := plugin.Accumulators.New(combinerSpec.TypeID)
	if err != nil {
		return nil, fmt.Errorf("table %d: combiner: %w", id, err)
	}
	if err := combiner.Init(combinerSpec.Opts); err != nil {
		return nil, fmt.Errorf("table %d: combiner init: %w", id, err)
	}

	reducer, err := plugin.Accumulators.New(reducerSpec.TypeID)
	if err != nil {
		return nil, fmt.Errorf("table %d: reducer: %w", id, err)
	}
	if err := reducer.Init(reducerSpec.Opts); err != nil {
		return nil, fmt.Errorf("table %d: reducer init: %w", id, err)
	}

	selector, err := plugin.Selectors.New(selectorSpec.TypeID)
	if err != nil {
		return nil, fmt.Errorf("table %d: selector: %w", id, err)
	}
	if err := selector.Init(selectorSpec.Opts); err != nil {
		return nil, fmt.Errorf("table %d: selector init: %w", id, err)
	}

	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = 1024
	}

	shards := make([]*shard.Shard, cfg.NumShards)
	for i := range shards {
		shards[i] = shard.New(id, i, -1, combiner, reducer, maxPending)
	}

	return &Table{
		ID:         id,
		SelfID:     selfID,
		NumShards:  cfg.NumShards,
		MaxPending: maxPending,
		sharder:    sharder,
		combiner:   combiner,
		reducer:    reducer,
		selector:   selector,
		shards:     shards,
		peers:      peers,
		log:        logger.Named("table").With("table_id", id),
	}, nil
}

// shardFor computes the shard index key routes to.
func (t *Table) shardFor(key []byte) int {
	return t.sharder.Shard(key, t.NumShards)
}

// WorkerForShard returns the worker currently recorded as owning shardID.
func (t *Table) WorkerForShard(shardID int) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if shardID < 0 || shardID >= len(t.shards) {
		return 0, fmt.Errorf("table %d: shard %d out of range", t.ID, shardID)
	}
	return t.shards[shardID].OwnerWorkerID, nil
}

// AssignShard records shardID as owned by workerID, per a ShardAssignmentReq
// entry.
func (t *Table) AssignShard(shardID, workerID int) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if shardID < 0 || shardID >= len(t.shards) {
		return fmt.Errorf("table %d: shard %d out of range", t.ID, shardID)
	}
	t.shards[shardID].SetOwner(workerID)
	return nil
}

// ErrNotFound is returned by Get when the key is absent everywhere the
// table looked.
var ErrNotFound = fmt.Errorf("table: key not found")

// Get resolves key's shard and returns its value, applying the selector on
// the way out whether the shard is local or remote.
func (t *Table) Get(ctx context.Context, key []byte) ([]byte, error) {
	s := t.shardFor(key)

	t.mu.RLock()
	sh := t.shards[s]
	owner := sh.OwnerWorkerID
	t.mu.RUnlock()

	if owner == t.SelfID {
		metrics.TableOps.WithLabelValues("get", "local").Inc()
		value, ok, err := sh.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		return t.selector.Select(value), nil
	}

	metrics.TableOps.WithLabelValues("get", "remote").Inc()
	proxy, ok := t.peers[owner]
	if !ok {
		return nil, fmt.Errorf("table %d: no peer proxy for worker %d", t.ID, owner)
	}
	value, missing, err := proxy.Get(ctx, t.ID, s, key)
	if err != nil {
		return nil, fmt.Errorf("table %d: remote get: %w", t.ID, err)
	}
	if missing {
		return nil, ErrNotFound
	}
	return t.selector.Select(value), nil
}

// Update resolves key's shard and applies the write, locally or into the
// shard's pending buffer — updates never block on the network directly.
func (t *Table) Update(key, value []byte) error {
	s := t.shardFor(key)

	t.mu.RLock()
	sh := t.shards[s]
	owner := sh.OwnerWorkerID
	t.mu.RUnlock()

	if owner == t.SelfID {
		metrics.TableOps.WithLabelValues("update", "local").Inc()
	} else {
		metrics.TableOps.WithLabelValues("update", "remote").Inc()
	}

	_, err := sh.Update(key, value, owner == t.SelfID)
	return err
}

// Iterate returns a LocalIterator over a locally-owned shard, or a
// RemoteIterator bound to the owning peer.
func (t *Table) Iterate(ctx context.Context, shardID int) (Iterator, error) {
	t.mu.RLock()
	if shardID < 0 || shardID >= len(t.shards) {
		t.mu.RUnlock()
		return nil, fmt.Errorf("table %d: shard %d out of range", t.ID, shardID)
	}
	sh := t.shards[shardID]
	owner := sh.OwnerWorkerID
	t.mu.RUnlock()

	if owner == t.SelfID {
		metrics.TableOps.WithLabelValues("iterate", "local").Inc()
		entries, err := sh.Snapshot()
		if err != nil {
			return nil, err
		}
		return iterator.NewLocal(entries), nil
	}

	metrics.TableOps.WithLabelValues("iterate", "remote").Inc()
	proxy, ok := t.peers[owner]
	if !ok {
		return nil, fmt.Errorf("table %d: no peer proxy for worker %d", t.ID, owner)
	}
	return iterator.NewRemote(ctx, proxy, t.ID, shardID, iterator.DefaultFetch)
}

// Flush drains the pending buffer of every dirty, non-owned shard and ships
// it to the owner via Put. Each shard is flushed independently; a failure on
// one shard does not prevent flushing the others, and their errors are
// joined for the caller.
func (t *Table) Flush(ctx context.Context) error {
	t.mu.RLock()
	shards := append([]*shard.Shard(nil), t.shards...)
	peers := t.peers
	t.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, sh := range shards {
		sh := sh
		if sh.OwnerWorkerID == t.SelfID || !sh.Dirty() {
			continue
		}
		proxy, ok := peers[sh.OwnerWorkerID]
		if !ok {
			mu.Lock()
			errs = append(errs, fmt.Errorf("table %d shard %d: no peer proxy for worker %d", t.ID, sh.ShardID, sh.OwnerWorkerID))
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := sh.DrainPending()
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			if len(entries) == 0 {
				return
			}
			metrics.FlushBatchSize.Observe(float64(len(entries)))
			kv := make([]wire.KV, len(entries))
			for i, e := range entries {
				kv[i] = wire.KV{Key: e.Key, Value: e.Value}
			}
			if err := proxy.Put(ctx, t.ID, sh.ShardID, kv); err != nil {
				t.log.Errorw("flush failed", "shard_id", sh.ShardID, "owner", sh.OwnerWorkerID, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("table %d shard %d: flush: %w", t.ID, sh.ShardID, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	if len(errs) == 0 {
		return nil
	}
	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, e)
	}
	return joined
}

// ApplyRemote is the entry point for an incoming Put RPC: it unconditionally
// merges the batch into the named shard via the reducer, failing if this
// worker does not own that shard.
func (t *Table) ApplyRemote(shardID int, kv []wire.KV) error {
	t.mu.RLock()
	if shardID < 0 || shardID >= len(t.shards) {
		t.mu.RUnlock()
		return fmt.Errorf("table %d: shard %d out of range", t.ID, shardID)
	}
	sh := t.shards[shardID]
	t.mu.RUnlock()

	for _, e := range kv {
		if err := sh.ApplyRemote(e.Key, e.Value, t.SelfID); err != nil {
			return err
		}
	}
	return nil
}

// Shard returns the shard for direct access, used by the kernel harness to
// bind a Context to its (table, shard) and by the iterator RPC handlers.
func (t *Table) Shard(shardID int) (*shard.Shard, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if shardID < 0 || shardID >= len(t.shards) {
		return nil, fmt.Errorf("table %d: shard %d out of range", t.ID, shardID)
	}
	return t.shards[shardID], nil
}

// Destroy marks every shard in the table destroyed; every subsequent
// operation against t returns an error.
func (t *Table) Destroy() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sh := range t.shards {
		sh.Destroy()
	}
}

// SetPeers replaces the peer proxy map, called once during worker
// initialize.
func (t *Table) SetPeers(peers map[int]peer.Proxy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = peers
}
