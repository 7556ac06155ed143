// Package plugin defines the contracts for the three table-level pluggable
// components — Sharder, Accumulator (used as both combiner and reducer),
// and Selector — plus process-wide registries for each, and a handful of
// default implementations used when the master leaves a plug-in
// unspecified or when tests need a concrete instance.
//
// The core itself never inspects a value's bytes; the numeric reducers
// below are one possible accumulator implementation among many a caller
// could register — the runtime only depends on the Accumulator contract.
package plugin

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/dreamware/tablerun/internal/registry"
)

// Sharder maps a key to a shard index in [0, numShards). Implementations
// must be deterministic and pure: the same key always yields the same
// shard, and Shard must not read or mutate external state.
type Sharder interface {
	Init(opts map[string]string) error
	Shard(key []byte, numShards int) int
}

// Accumulator merges two values for the same key. It is used as a table's
// combiner (merging local writes before they are shipped to the owner) and
// as its reducer (merging incoming writes on the owner). Implementations
// must be associative and commutative so that concurrent, differently
// ordered merges converge to the same result.
type Accumulator interface {
	Init(opts map[string]string) error
	Merge(oldValue, newValue []byte) []byte
}

// Selector transforms a stored value before it is returned to a reader. The
// default selector is Identity; this repo always calls the selector rather
// than special-casing a nil one.
type Selector interface {
	Init(opts map[string]string) error
	Select(value []byte) []byte
}

// Sharders, Accumulators, and Selectors are the process-wide registries
// consulted when a CreateTable request names a plug-in by type_id.
var (
	Sharders     = registry.New[Sharder]()
	Accumulators = registry.New[Accumulator]()
	Selectors    = registry.New[Selector]()
)

func init() {
	Sharders.Register("fnv", func() Sharder { return &FNVSharder{} })
	Accumulators.Register("replace", func() Accumulator { return &ReplaceAccumulator{} })
	Accumulators.Register("add", func() Accumulator { return &AddAccumulator{} })
	Accumulators.Register("max", func() Accumulator { return &MaxAccumulator{} })
	Selectors.Register("identity", func() Selector { return &IdentitySelector{} })
}

// FNVSharder hashes the key with 32-bit FNV-1a and reduces modulo
// numShards for consistent key routing.
type FNVSharder struct{}

func (*FNVSharder) Init(map[string]string) error { return nil }

func (*FNVSharder) Shard(key []byte, numShards int) int {
	if numShards <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % numShards
}

// ReplaceAccumulator discards the old value; this is the default combiner
// and reducer.
type ReplaceAccumulator struct{}

func (*ReplaceAccumulator) Init(map[string]string) error { return nil }

func (*ReplaceAccumulator) Merge(_, newValue []byte) []byte { return newValue }

// AddAccumulator treats both values as little-endian uint64 counters and
// sums them.
type AddAccumulator struct{}

func (*AddAccumulator) Init(map[string]string) error { return nil }

func (*AddAccumulator) Merge(oldValue, newValue []byte) []byte {
	sum := decodeUint64(oldValue) + decodeUint64(newValue)
	return encodeUint64(sum)
}

// MaxAccumulator keeps the larger of two little-endian uint64 counters.
type MaxAccumulator struct{}

func (*MaxAccumulator) Init(map[string]string) error { return nil }

func (*MaxAccumulator) Merge(oldValue, newValue []byte) []byte {
	o, n := decodeUint64(oldValue), decodeUint64(newValue)
	if o > n {
		return encodeUint64(o)
	}
	return encodeUint64(n)
}

// IdentitySelector returns the stored value unchanged.
type IdentitySelector struct{}

func (*IdentitySelector) Init(map[string]string) error { return nil }

func (*IdentitySelector) Select(value []byte) []byte { return value }

func decodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}
