package table

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tablerun/internal/peer"
	"github.com/dreamware/tablerun/internal/wire"
)

// fakePeer records Put calls and serves a canned Get response, modelling a
// remote worker for table-level routing tests without a real transport.
type fakePeer struct {
	getValue  []byte
	getMissing bool
	puts      []wire.KV
}

func (p *fakePeer) Get(context.Context, int, int, []byte) ([]byte, bool, error) {
	return p.getValue, p.getMissing, nil
}

func (p *fakePeer) Put(_ context.Context, _, _ int, kv []wire.KV) error {
	p.puts = append(p.puts, kv...)
	return nil
}

func (p *fakePeer) GetIterator(context.Context, int, int, int32, uint32) (wire.IteratorResp, error) {
	return wire.IteratorResp{Done: true}, nil
}

func newAddTable(t *testing.T, selfID int, peers map[int]peer.Proxy) *Table {
	t.Helper()
	tbl, err := New(0, selfID, Config{
		NumShards: 4,
		Combiner:  wire.PluginSpec{TypeID: "add"},
		Reducer:   wire.PluginSpec{TypeID: "add"},
	}, peers)
	require.NoError(t, err)
	return tbl
}

func encodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(n >> (8 * i))
	}
	return b
}

func TestTable_LocalUpdateThenGet(t *testing.T) {
	tbl := newAddTable(t, 0, nil)
	for s := range tbl.shards {
		tbl.shards[s].SetOwner(0)
	}

	require.NoError(t, tbl.Update([]byte("a"), encodeUint64(1)))
	require.NoError(t, tbl.Update([]byte("a"), encodeUint64(2)))

	v, err := tbl.Get(context.Background(), []byte("a"))
	require.NoError(t, err)

	var got uint64
	for i := 0; i < 8; i++ {
		got |= uint64(v[i]) << (8 * i)
	}
	assert.Equal(t, uint64(3), got)
}

func TestTable_GetMissingKeyReturnsErrNotFound(t *testing.T) {
	tbl := newAddTable(t, 0, nil)
	for s := range tbl.shards {
		tbl.shards[s].SetOwner(0)
	}

	_, err := tbl.Get(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTable_UpdateOnNonOwnedShardBuffersAsPending(t *testing.T) {
	fp := &fakePeer{}
	tbl := newAddTable(t, 0, map[int]peer.Proxy{1: fp})
	for s := range tbl.shards {
		tbl.shards[s].SetOwner(1) // every shard owned by peer 1
	}

	require.NoError(t, tbl.Update([]byte("x"), encodeUint64(10)))
	require.NoError(t, tbl.Flush(context.Background()))

	assert.Len(t, fp.puts, 1)
	assert.Equal(t, "x", string(fp.puts[0].Key))
}

func TestTable_GetRoutesToRemotePeer(t *testing.T) {
	fp := &fakePeer{getValue: []byte("remote-value")}
	tbl := newAddTable(t, 0, map[int]peer.Proxy{1: fp})
	for s := range tbl.shards {
		tbl.shards[s].SetOwner(1)
	}

	v, err := tbl.Get(context.Background(), []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("remote-value"), v)
}

func TestTable_IterateLocalShard(t *testing.T) {
	tbl := newAddTable(t, 0, nil)
	for s := range tbl.shards {
		tbl.shards[s].SetOwner(0)
	}
	require.NoError(t, tbl.Update([]byte("a"), encodeUint64(1)))

	shardID := tbl.shardFor([]byte("a"))
	it, err := tbl.Iterate(context.Background(), shardID)
	require.NoError(t, err)

	require.False(t, it.Done())
	assert.Equal(t, "a", string(it.Key()))
	require.NoError(t, it.Next(context.Background()))
	assert.True(t, it.Done())
}

func TestTable_DestroyFailsSubsequentOperations(t *testing.T) {
	tbl := newAddTable(t, 0, nil)
	for s := range tbl.shards {
		tbl.shards[s].SetOwner(0)
	}
	tbl.Destroy()

	err := tbl.Update([]byte("a"), []byte("1"))
	assert.Error(t, err)
}

func TestTable_WorkerForShardReflectsAssignment(t *testing.T) {
	tbl := newAddTable(t, 0, nil)
	require.NoError(t, tbl.AssignShard(2, 5))

	owner, err := tbl.WorkerForShard(2)
	require.NoError(t, err)
	assert.Equal(t, 5, owner)
}
