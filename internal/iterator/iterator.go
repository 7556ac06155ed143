// Package iterator implements the two traversal mechanisms over a shard's
// entries: LocalIterator, a simple cursor over an already-materialized
// slice of entries, and RemoteIterator, which speaks the prefetch protocol
// against a peer's server-side iterator.
package iterator

import (
	"context"
	"fmt"

	"github.com/dreamware/tablerun/internal/metrics"
	"github.com/dreamware/tablerun/internal/peer"
	"github.com/dreamware/tablerun/internal/storage"
	"github.com/dreamware/tablerun/internal/wire"
)

// DefaultFetch is the page size requested on each prefetch round-trip when
// a caller does not specify one.
const DefaultFetch = 128

// Iterator is the shape both LocalIterator and RemoteIterator satisfy, and
// the shape a kernel.Context.Iterate call returns.
type Iterator interface {
	// Done reports whether the iterator is exhausted. Key and Value are
	// undefined once Done returns true.
	Done() bool
	Key() []byte
	Value() []byte
	// Next advances to the following entry. It only returns an error for a
	// RemoteIterator whose refill request fails; a LocalIterator's Next
	// never errors.
	Next(ctx context.Context) error
}

// LocalIterator walks a snapshot of a shard's own data store, taken at
// construction time, in insertion order of the shard's underlying ordered
// map.
type LocalIterator struct {
	entries []storage.Entry
	pos     int
}

// NewLocal wraps an already-ordered snapshot, such as the one returned by
// shard.Shard.Snapshot.
func NewLocal(entries []storage.Entry) *LocalIterator {
	return &LocalIterator{entries: entries}
}

func (it *LocalIterator) Done() bool {
	return it.pos >= len(it.entries)
}

func (it *LocalIterator) Key() []byte {
	if it.Done() {
		return nil
	}
	return it.entries[it.pos].Key
}

func (it *LocalIterator) Value() []byte {
	if it.Done() {
		return nil
	}
	return it.entries[it.pos].Value
}

func (it *LocalIterator) Next(context.Context) error {
	if !it.Done() {
		it.pos++
	}
	return nil
}

// RemoteIterator pages through a shard owned by another worker. It opens a
// server-side iterator on first use (id == -1) and refills its local buffer
// from the peer whenever the buffer is exhausted and the server iterator is
// not yet done.
type RemoteIterator struct {
	proxy   peer.Proxy
	table   int
	shard   int
	fetch   uint32
	id      int32
	buf     []wire.KV
	pos     int
	srvDone bool
}

// NewRemote constructs a RemoteIterator against (table, shard) on the given
// peer, fetching the first page immediately. fetch <= 0 uses DefaultFetch.
func NewRemote(ctx context.Context, proxy peer.Proxy, table, shard int, fetch int) (*RemoteIterator, error) {
	if fetch <= 0 {
		fetch = DefaultFetch
	}
	it := &RemoteIterator{
		proxy: proxy,
		table: table,
		shard: shard,
		fetch: uint32(fetch),
		id:    -1,
	}
	if err := it.refill(ctx); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *RemoteIterator) refill(ctx context.Context) error {
	metrics.RemoteIteratorFetches.Inc()
	resp, err := it.proxy.GetIterator(ctx, it.table, it.shard, it.id, it.fetch)
	if err != nil {
		return fmt.Errorf("remote iterator (table=%d shard=%d): %w", it.table, it.shard, err)
	}
	it.id = int32(resp.ID)
	it.buf = resp.Results
	it.pos = 0
	it.srvDone = resp.Done
	return nil
}

// Done reports that the local buffer is exhausted and the server iterator
// has reported no more entries remain.
func (it *RemoteIterator) Done() bool {
	return it.pos >= len(it.buf) && it.srvDone
}

func (it *RemoteIterator) Key() []byte {
	if it.pos >= len(it.buf) {
		return nil
	}
	return it.buf[it.pos].Key
}

func (it *RemoteIterator) Value() []byte {
	if it.pos >= len(it.buf) {
		return nil
	}
	return it.buf[it.pos].Value
}

// Next advances within the buffered page, transparently refilling from the
// peer once the page is consumed and more entries remain server-side.
func (it *RemoteIterator) Next(ctx context.Context) error {
	if it.pos < len(it.buf) {
		it.pos++
	}
	if it.pos >= len(it.buf) && !it.srvDone {
		return it.refill(ctx)
	}
	return nil
}
