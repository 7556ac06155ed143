// Package worker implements the RPC-facing worker process: it holds the
// table registry, peer proxies, the kernel dispatcher, the server-side
// iterator registry, and the single lock that serializes mutation of
// worker-global state.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/tablerun/internal/kernel"
	"github.com/dreamware/tablerun/internal/logger"
	"github.com/dreamware/tablerun/internal/metrics"
	"github.com/dreamware/tablerun/internal/peer"
	"github.com/dreamware/tablerun/internal/table"
	"github.com/dreamware/tablerun/internal/wire"
)

// ErrRoutingViolation marks a RunKernel or Put that arrived for a shard this
// worker does not own; it is treated as fatal, not recoverable.
var ErrRoutingViolation = fmt.Errorf("worker: routing violation")

// ErrUnknownTable is returned when a request names a table this worker has
// not created.
var ErrUnknownTable = fmt.Errorf("worker: unknown table")

// ErrUnknownIterator is returned when a request names a server-side
// iterator id this worker has no record of.
var ErrUnknownIterator = fmt.Errorf("worker: unknown iterator")

// serverIterator is a server-side cursor registered for a RemoteIterator
// client, keyed by a u32 id.
type serverIterator struct {
	it    table.Iterator
	table int
	shard int
}

// Worker is one process in the cluster: it owns zero or more tables, holds
// a proxy to every peer, and runs at most one kernel at a time.
type Worker struct {
	ID int

	log *zap.SugaredLogger

	mu        sync.Mutex
	running   bool
	runningCV *sync.Cond

	tables    map[int]*table.Table
	peers     map[int]peer.Proxy
	iterators map[uint32]*serverIterator
	nextIterID uint32

	kernelMu sync.Mutex // at most one kernel runs at a time
}

// New constructs an unregistered worker; call Initialize once the master
// has assigned it an id and the cluster's peer set.
func New(id int) *Worker {
	w := &Worker{
		ID:        id,
		log:       logger.Named("worker").With("worker_id", id),
		tables:    make(map[int]*table.Table),
		peers:     make(map[int]peer.Proxy),
		iterators: make(map[uint32]*serverIterator),
		running:   true,
	}
	w.runningCV = sync.NewCond(&w.mu)
	return w
}

// Initialize binds this worker's id and replaces the peer proxy map — the
// handler for a WorkerInitReq, connecting to every peer in a full mesh.
// peers must not include an entry for self.
func (w *Worker) Initialize(id int, peers map[int]peer.Proxy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ID = id
	w.peers = peers
	for _, t := range w.tables {
		t.SetPeers(peers)
	}
	w.log.Infow("initialized", "peer_count", len(peers))
}

// CreateTable materializes a new table from a CreateTableReq.
func (w *Worker) CreateTable(req wire.CreateTableReq) error {
	w.mu.Lock()
	peers := w.peers
	selfID := w.ID
	w.mu.Unlock()

	t, err := table.New(req.Table, selfID, table.Config{
		NumShards: req.NumShards,
		Sharder:   req.Sharder,
		Combiner:  req.Combiner,
		Reducer:   req.Reducer,
		Selector:  req.Selector,
	}, peers)
	if err != nil {
		return fmt.Errorf("create_table %d: %w", req.Table, err)
	}

	w.mu.Lock()
	w.tables[req.Table] = t
	w.mu.Unlock()
	w.log.Infow("table created", "table_id", req.Table, "num_shards", req.NumShards)
	return nil
}

// DestroyTable frees a table and all its shards and server-side iterators.
func (w *Worker) DestroyTable(tableID int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.tables[tableID]
	if !ok {
		return fmt.Errorf("destroy_table %d: %w", tableID, ErrUnknownTable)
	}
	t.Destroy()
	delete(w.tables, tableID)
	for id, si := range w.iterators {
		if si.table == tableID {
			delete(w.iterators, id)
		}
	}
	w.log.Infow("table destroyed", "table_id", tableID)
	return nil
}

// AssignShards records a batch of shard ownership assignments for every
// table they name. Every worker in the cluster receives the same batch, so
// routing tables stay consistent cluster-wide.
func (w *Worker) AssignShards(req wire.ShardAssignmentReq) error {
	w.mu.Lock()
	tables := w.tables
	w.mu.Unlock()

	for _, a := range req.Assign {
		t, ok := tables[a.Table]
		if !ok {
			return fmt.Errorf("assign_shards: %w (table %d)", ErrUnknownTable, a.Table)
		}
		if err := t.AssignShard(a.Shard, a.Worker); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) lookupTable(tableID int) (*table.Table, error) {
	w.mu.Lock()
	t, ok := w.tables[tableID]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("table %d: %w", tableID, ErrUnknownTable)
	}
	return t, nil
}

// Get serves a GetRequest, whether it originated from a local kernel or an
// incoming peer RPC.
func (w *Worker) Get(ctx context.Context, tableID int, key []byte) ([]byte, bool, error) {
	t, err := w.lookupTable(tableID)
	if err != nil {
		return nil, false, err
	}
	value, err := t.Get(ctx, key)
	if err != nil {
		if err == table.ErrNotFound {
			return nil, true, nil
		}
		return nil, false, err
	}
	return value, false, nil
}

// Put applies an incoming batch unconditionally to a shard this worker must
// own; a request for a shard we don't own is a fatal routing violation.
func (w *Worker) Put(tableID, shardID int, kv []wire.KV) error {
	t, err := w.lookupTable(tableID)
	if err != nil {
		return err
	}
	owner, err := t.WorkerForShard(shardID)
	if err != nil {
		return err
	}
	w.mu.Lock()
	selfID := w.ID
	w.mu.Unlock()
	if owner != selfID {
		w.log.Fatalw("routing violation on put", "table_id", tableID, "shard_id", shardID, "owner", owner)
		return fmt.Errorf("put table %d shard %d: %w", tableID, shardID, ErrRoutingViolation)
	}
	return t.ApplyRemote(shardID, kv)
}

// GetIterator advances or creates (id == -1) a server-side iterator over
// (table, shard), per the RemoteIterator prefetch protocol.
func (w *Worker) GetIterator(ctx context.Context, tableID, shardID int, id int32, count uint32) (wire.IteratorResp, error) {
	t, err := w.lookupTable(tableID)
	if err != nil {
		return wire.IteratorResp{}, err
	}

	if id == -1 {
		it, err := t.Iterate(ctx, shardID)
		if err != nil {
			return wire.IteratorResp{}, err
		}
		w.mu.Lock()
		w.nextIterID++
		newID := w.nextIterID
		w.iterators[newID] = &serverIterator{it: it, table: tableID, shard: shardID}
		w.mu.Unlock()
		return w.fillIterator(ctx, newID, count)
	}

	return w.fillIterator(ctx, uint32(id), count)
}

func (w *Worker) fillIterator(ctx context.Context, id uint32, count uint32) (wire.IteratorResp, error) {
	w.mu.Lock()
	si, ok := w.iterators[id]
	w.mu.Unlock()
	if !ok {
		return wire.IteratorResp{}, fmt.Errorf("get_iterator %d: %w", id, ErrUnknownIterator)
	}

	results := make([]wire.KV, 0, count)
	for uint32(len(results)) < count && !si.it.Done() {
		results = append(results, wire.KV{Key: si.it.Key(), Value: si.it.Value()})
		if err := si.it.Next(ctx); err != nil {
			return wire.IteratorResp{}, fmt.Errorf("get_iterator %d: %w", id, err)
		}
	}

	done := si.it.Done()
	if done {
		w.mu.Lock()
		delete(w.iterators, id)
		w.mu.Unlock()
	}

	return wire.IteratorResp{
		ID:       id,
		Results:  results,
		RowCount: uint32(len(results)),
		Done:     done,
	}, nil
}

// Flush drains and ships every table's pending writes. Master-controlled —
// never triggered automatically by write volume or a timer.
func (w *Worker) Flush(ctx context.Context) error {
	w.mu.Lock()
	ids := make([]int, 0, len(w.tables))
	for id := range w.tables {
		ids = append(ids, id)
	}
	slices.Sort(ids) // deterministic order for logs and metrics, not correctness
	tables := make([]*table.Table, 0, len(ids))
	for _, id := range ids {
		tables = append(tables, w.tables[id])
	}
	w.mu.Unlock()

	for _, t := range tables {
		if err := t.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunKernel instantiates and runs a registered kernel against (table,
// shard). Only one kernel runs at a time per worker.
func (w *Worker) RunKernel(ctx context.Context, req wire.RunKernelReq) wire.RunKernelResp {
	w.kernelMu.Lock()
	defer w.kernelMu.Unlock()

	start := time.Now()
	resp := wire.RunKernelResp{}

	t, err := w.lookupTable(req.Table)
	if err != nil {
		resp.Error = err.Error()
		resp.Elapsed = time.Since(start).Seconds()
		return resp
	}

	w.mu.Lock()
	selfID := w.ID
	w.mu.Unlock()

	owner, err := t.WorkerForShard(req.Shard)
	if err != nil {
		resp.Error = err.Error()
		resp.Elapsed = time.Since(start).Seconds()
		return resp
	}
	if owner != selfID {
		metrics.KernelRuns.WithLabelValues(req.Kernel, "failed").Inc()
		w.log.Fatalw("routing violation on run_kernel", "table_id", req.Table, "shard_id", req.Shard, "owner", owner)
	}

	k, err := kernel.Kernels.New(req.Kernel)
	if err != nil {
		resp.Error = err.Error()
		resp.Elapsed = time.Since(start).Seconds()
		metrics.KernelRuns.WithLabelValues(req.Kernel, "failed").Inc()
		return resp
	}

	rc := &runContext{
		worker:  w,
		table:   t,
		tableID: req.Table,
		shardID: req.Shard,
		runID:   uuid.NewString(),
	}

	outcome := "ok"
	if err := k.Init(rc, req.KernelArgs, req.TaskArgs); err != nil {
		resp.Error = err.Error()
		outcome = "failed"
	} else if err := k.Run(ctx); err != nil {
		resp.Error = err.Error()
		outcome = "failed"
	}

	resp.Elapsed = time.Since(start).Seconds()
	metrics.KernelRuns.WithLabelValues(req.Kernel, outcome).Inc()
	metrics.KernelDuration.WithLabelValues(req.Kernel).Observe(resp.Elapsed)
	if outcome == "failed" {
		w.log.Errorw("kernel run failed", "kernel", req.Kernel, "table_id", req.Table, "shard_id", req.Shard, "run_id", rc.runID, "error", resp.Error)
	}
	return resp
}

// Shutdown frees all tables, clears running, and wakes anyone blocked in
// WaitForShutdown.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.tables {
		t.Destroy()
	}
	w.tables = make(map[int]*table.Table)
	w.iterators = make(map[uint32]*serverIterator)
	w.running = false
	w.runningCV.Broadcast()
}

// WaitForShutdown blocks until Shutdown has cleared the running flag.
func (w *Worker) WaitForShutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.running {
		w.runningCV.Wait()
	}
}
