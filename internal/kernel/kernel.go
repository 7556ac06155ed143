// Package kernel defines the contract a unit of worker-side computation
// implements, the registry it is looked up through, and the structured
// failure type a kernel may fail with.
package kernel

import (
	"context"
	"fmt"

	"github.com/dreamware/tablerun/internal/iterator"
	"github.com/dreamware/tablerun/internal/registry"
)

// Context is the handle a running Kernel uses to reach its bound (table,
// shard) and the worker it runs on. It exposes get and iterate against its
// own shard, and update through its own table — never access to other
// tables.
type Context interface {
	WorkerID() int
	TableID() int
	ShardID() int

	// Get reads a key from the bound shard's local data store.
	Get(key []byte) (value []byte, ok bool, err error)
	// Update writes through the bound table exactly as an external Update
	// would: the key is routed by the table's sharder, so the write may land
	// in another shard (or in its pending buffer when a peer owns it).
	Update(key, value []byte) error
	// Iterate returns an iterator over the bound shard's entries.
	Iterate(ctx context.Context) (iterator.Iterator, error)
}

// Kernel is a registered, reusable unit of computation bound to a single
// (table, shard) per run. Init receives the run's Context plus
// the two argument maps the master supplied in RunKernelReq; Run performs
// the work and returns an error — or a *Failure for a distinguished,
// structured failure — on the bound shard only.
type Kernel interface {
	Init(rc Context, kernelArgs, taskArgs map[string]string) error
	Run(ctx context.Context) error
}

// Kernels is the process-wide registry kernels are looked up in by the
// type_id a RunKernelReq names.
var Kernels = registry.New[Kernel]()

// Failure is a structured kernel failure distinct from a transport or
// dispatch error, carrying a stable reason code alongside a human message.
// A kernel failure is isolated to the shard it ran against and reported
// back rather than propagated as a fatal error.
type Failure struct {
	Reason  string
	Message string
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return f.Reason
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

// Fail constructs a *Failure with the given reason code and formatted
// message, for kernels to return from Run.
func Fail(reason, format string, args ...any) *Failure {
	return &Failure{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
