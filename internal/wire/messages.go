// Package wire defines the request/response payloads exchanged between the
// master, workers, and peers, along with the small HTTP/JSON helpers used to
// send them. It is the worker-side half of the protocol described in the
// system specification: the master and the RPC transport itself are treated
// as external collaborators named only by the shapes below.
package wire


// KV is a single key/value pair as carried in batch payloads (put batches,
// iterator pages). Keys and values are opaque bytes everywhere in the core;
// no component is allowed to interpret them.
type KV struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// Addr is a host/port pair identifying a worker's RPC endpoint.
type Addr struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// RegisterReq is sent by a worker to the master on startup.
type RegisterReq struct {
	Addr Addr `json:"addr"`
}

// WorkerInitReq is sent by the master to a worker once the cluster's worker
// set is known, assigning the worker its id and the address of every peer.
type WorkerInitReq struct {
	Workers map[int]Addr `json:"workers"`
	ID      int          `json:"id"`
}

// PluginSpec names a pluggable component (sharder, combiner, reducer,
// selector) to instantiate via the appropriate registry.
type PluginSpec struct {
	TypeID string            `json:"type_id"`
	Opts   map[string]string `json:"opts,omitempty"`
}

// CreateTableReq instructs a worker to materialize a table with the given
// shard count and plug-ins. Combiner/Reducer/Selector may be the zero value,
// in which case the worker instantiates the documented defaults.
type CreateTableReq struct {
	Sharder   PluginSpec `json:"sharder"`
	Combiner  PluginSpec `json:"combiner"`
	Reducer   PluginSpec `json:"reducer"`
	Selector  PluginSpec `json:"selector"`
	Table     int        `json:"table"`
	NumShards int        `json:"num_shards"`
}

// ShardAssignment is one (table, shard) -> worker mapping.
type ShardAssignment struct {
	Table  int `json:"table"`
	Shard  int `json:"shard"`
	Worker int `json:"worker"`
}

// ShardAssignmentReq pushes a batch of shard ownership assignments to a
// worker; every worker in the cluster receives the same assignment set so
// routing tables stay consistent.
type ShardAssignmentReq struct {
	Assign []ShardAssignment `json:"assign"`
}

// RunKernelReq binds a registered kernel to a (table, shard) and provides
// its configuration.
type RunKernelReq struct {
	Kernel     string            `json:"kernel"`
	KernelArgs map[string]string `json:"kernel_args"`
	TaskArgs   map[string]string `json:"task_args"`
	Table      int               `json:"table"`
	Shard      int               `json:"shard"`
}

// RunKernelResp reports the outcome of a kernel run. Error is empty on
// success; elapsed is always set regardless of outcome.
type RunKernelResp struct {
	Error   string  `json:"error,omitempty"`
	Elapsed float64 `json:"elapsed_seconds"`
}

// GetRequest asks a peer for the value of key in (table, shard).
type GetRequest struct {
	Key   []byte `json:"key"`
	Table int    `json:"table"`
	Shard int    `json:"shard"`
}

// TableData is the response to a Get and the request body of a Put. Source
// identifies which worker produced/holds the data; MissingKey is only
// meaningful on a Get response.
type TableData struct {
	Source     int    `json:"source"`
	Table      int    `json:"table"`
	Shard      int    `json:"shard"`
	Done       bool   `json:"done"`
	MissingKey bool   `json:"missing_key,omitempty"`
	KV         []KV   `json:"kv_data"`
	Value      []byte `json:"value,omitempty"`
}

// IteratorReq asks the owning peer to advance (or create, when ID == -1) a
// server-side iterator over a shard and fill up to Count entries.
type IteratorReq struct {
	Table int   `json:"table"`
	Shard int   `json:"shard"`
	ID    int32 `json:"id"`
	Count uint32 `json:"count"`
	// Release marks that the client has consumed this iterator. The worker
	// does not read it: a server-side iterator is dropped only once it is
	// exhausted or its table is destroyed.
	Release bool `json:"release,omitempty"`
}

// IteratorResp answers an IteratorReq. RowCount mirrors len(Results) and is
// written for wire compatibility but is advisory only; no code in this repo
// branches on it.
type IteratorResp struct {
	Results  []KV   `json:"results"`
	ID       uint32 `json:"id"`
	RowCount uint32 `json:"row_count"`
	Done     bool   `json:"done"`
}

// DestroyTableReq asks a worker to free a table and all its shards and
// server-side iterators.
type DestroyTableReq struct {
	Table int `json:"table"`
}

// Empty is used for requests/responses with no payload (Flush, Shutdown).
type Empty struct{}
