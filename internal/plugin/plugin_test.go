package plugin

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFNVSharder_Deterministic(t *testing.T) {
	s := &FNVSharder{}
	require.NoError(t, s.Init(nil))

	a := s.Shard([]byte("user:123"), 8)
	b := s.Shard([]byte("user:123"), 8)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, 8)
}

func TestFNVSharder_ZeroShardsIsZero(t *testing.T) {
	s := &FNVSharder{}
	assert.Equal(t, 0, s.Shard([]byte("x"), 0))
}

func TestAddAccumulator_Sums(t *testing.T) {
	acc := &AddAccumulator{}
	require.NoError(t, acc.Init(nil))

	merged := acc.Merge(encodeUint64(1), encodeUint64(2))
	assert.Equal(t, uint64(3), decodeUint64(merged))
}

func TestMaxAccumulator_KeepsLarger(t *testing.T) {
	acc := &MaxAccumulator{}
	require.NoError(t, acc.Init(nil))

	assert.Equal(t, uint64(7), decodeUint64(acc.Merge(encodeUint64(5), encodeUint64(7))))
	assert.Equal(t, uint64(7), decodeUint64(acc.Merge(encodeUint64(7), encodeUint64(5))))
}

func TestReplaceAccumulator_DiscardsOld(t *testing.T) {
	acc := &ReplaceAccumulator{}
	assert.Equal(t, []byte("new"), acc.Merge([]byte("old"), []byte("new")))
}

func TestIdentitySelector_ReturnsUnchanged(t *testing.T) {
	sel := &IdentitySelector{}
	require.NoError(t, sel.Init(nil))
	assert.Equal(t, []byte("v"), sel.Select([]byte("v")))
}

func TestRegisteredDefaults(t *testing.T) {
	assert.True(t, Sharders.Has("fnv"))
	assert.True(t, Accumulators.Has("replace"))
	assert.True(t, Accumulators.Has("add"))
	assert.True(t, Accumulators.Has("max"))
	assert.True(t, Selectors.Has("identity"))
}

func TestDecodeUint64_ShortBytesIsZero(t *testing.T) {
	assert.Equal(t, uint64(0), decodeUint64([]byte{1, 2, 3}))
}

func TestEncodeUint64_RoundTrips(t *testing.T) {
	var want uint64 = 1 << 40
	encoded := encodeUint64(want)
	assert.Len(t, encoded, 8)
	assert.Equal(t, want, binary.LittleEndian.Uint64(encoded))
}
