// Package mastersim is a test-only stand-in for the master, which is out of
// scope for this repo and named only by the wire protocol it speaks. It
// drives one or more workers through initialize → create_table →
// assign_shards → run_kernel → flush → shutdown the way a real
// master would, so integration tests can exercise the worker runtime
// end-to-end without depending on an actual master implementation.
package mastersim

import (
	"context"
	"fmt"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"

	"github.com/dreamware/tablerun/internal/rpc"
	"github.com/dreamware/tablerun/internal/wire"
	"github.com/dreamware/tablerun/internal/worker"
)

// Master simulates the coordinating process for a fixed set of workers
// started in-process via httptest servers.
type Master struct {
	mu      sync.Mutex
	workers []*WorkerHandle
}

// WorkerHandle is one simulated worker: its real Worker instance, the httptest
// server fronting it, and the id the master has assigned it.
type WorkerHandle struct {
	ID     int
	Worker *worker.Worker
	Server *httptest.Server
}

// New starts n workers, each backed by its own in-process HTTP server, and
// wires them into a full mesh: every worker connects to every other worker.
func New(n int) (*Master, error) {
	m := &Master{}
	workers := make(map[int]wire.Addr, n)
	handles := make([]*WorkerHandle, n)

	for i := 0; i < n; i++ {
		w := worker.New(i)
		srv := httptest.NewServer(rpc.Handler(w))
		handles[i] = &WorkerHandle{ID: i, Worker: w, Server: srv}

		host, port, err := splitHostPort(srv.URL)
		if err != nil {
			return nil, err
		}
		workers[i] = wire.Addr{Host: host, Port: port}
	}

	m.workers = handles
	for _, h := range handles {
		h.Worker.Initialize(h.ID, rpc.BuildProxies(h.ID, workers))
	}
	return m, nil
}

// Workers returns the simulated worker handles, in id order.
func (m *Master) Workers() []*WorkerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*WorkerHandle(nil), m.workers...)
}

// CreateTable issues CreateTableReq to every worker, so all of them share
// an identical routing table.
func (m *Master) CreateTable(req wire.CreateTableReq) error {
	for _, h := range m.workers {
		if err := h.Worker.CreateTable(req); err != nil {
			return fmt.Errorf("create_table on worker %d: %w", h.ID, err)
		}
	}
	return nil
}

// AssignRoundRobin assigns every shard of tableID to workers in round-robin
// order and pushes the resulting ShardAssignmentReq to every worker.
func (m *Master) AssignRoundRobin(tableID, numShards int) error {
	assignments := make([]wire.ShardAssignment, numShards)
	for s := 0; s < numShards; s++ {
		owner := m.workers[s%len(m.workers)].ID
		assignments[s] = wire.ShardAssignment{Table: tableID, Shard: s, Worker: owner}
	}
	req := wire.ShardAssignmentReq{Assign: assignments}
	for _, h := range m.workers {
		if err := h.Worker.AssignShards(req); err != nil {
			return fmt.Errorf("assign_shards on worker %d: %w", h.ID, err)
		}
	}
	return nil
}

// Assign pushes an explicit assignment batch to every worker, for tests
// that need specific (not round-robin) ownership.
func (m *Master) Assign(assignments []wire.ShardAssignment) error {
	req := wire.ShardAssignmentReq{Assign: assignments}
	for _, h := range m.workers {
		if err := h.Worker.AssignShards(req); err != nil {
			return fmt.Errorf("assign_shards on worker %d: %w", h.ID, err)
		}
	}
	return nil
}

// RunKernel issues RunKernelReq to the worker owning (table, shard). It does
// not look up ownership itself — tests pass the worker index they expect to
// own the shard, mirroring how a real master tracks assignments separately.
func (m *Master) RunKernel(ctx context.Context, workerIdx int, req wire.RunKernelReq) wire.RunKernelResp {
	return m.workers[workerIdx].Worker.RunKernel(ctx, req)
}

// Flush issues Flush to every worker, since a real master flushes the whole
// cluster between dependent kernel stages.
func (m *Master) Flush(ctx context.Context) error {
	for _, h := range m.workers {
		if err := h.Worker.Flush(ctx); err != nil {
			return fmt.Errorf("flush on worker %d: %w", h.ID, err)
		}
	}
	return nil
}

// Shutdown tears down every simulated worker and its HTTP server.
func (m *Master) Shutdown() {
	for _, h := range m.workers {
		h.Worker.Shutdown()
		h.Server.Close()
	}
}

func splitHostPort(rawURL string) (string, int, error) {
	// httptest.Server.URL is always "http://127.0.0.1:PORT"
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("parse httptest url %q: %w", rawURL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return "", 0, fmt.Errorf("parse httptest url %q: %w", rawURL, err)
	}
	return u.Hostname(), port, nil
}
