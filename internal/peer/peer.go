// Package peer defines the contract a table uses to reach another worker.
// The concrete implementation (internal/rpc.PeerClient) and the transport it
// runs over are a pluggable collaborator named only by this interface; the
// core table/shard/kernel runtime never depends on the transport directly.
package peer

import (
	"context"

	"github.com/dreamware/tablerun/internal/wire"
)

// Proxy is a stable handle to one peer worker, used by a Table to route
// operations for shards that peer owns. Workers never hold a Proxy for
// themselves.
type Proxy interface {
	// Get fetches key from (table, shard) on the peer. missing reports a
	// NotFound response distinctly from a transport error.
	Get(ctx context.Context, table, shard int, key []byte) (value []byte, missing bool, err error)

	// Put ships a batch of already-merged key/value pairs to the peer for
	// unconditional (reducer) application on its owned shard.
	Put(ctx context.Context, table, shard int, kv []wire.KV) error

	// GetIterator advances (or creates, for id == -1) a server-side
	// iterator over the peer's shard.
	GetIterator(ctx context.Context, table, shard int, id int32, count uint32) (wire.IteratorResp, error)
}
