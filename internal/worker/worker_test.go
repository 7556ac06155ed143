package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tablerun/internal/kernel"
	"github.com/dreamware/tablerun/internal/wire"
)

func createSingleShardTable(t *testing.T, w *Worker, tableID int) {
	t.Helper()
	require.NoError(t, w.CreateTable(wire.CreateTableReq{
		Table:     tableID,
		NumShards: 1,
		Combiner:  wire.PluginSpec{TypeID: "add"},
		Reducer:   wire.PluginSpec{TypeID: "add"},
	}))
	require.NoError(t, w.AssignShards(wire.ShardAssignmentReq{
		Assign: []wire.ShardAssignment{{Table: tableID, Shard: 0, Worker: w.ID}},
	}))
}

func TestWorker_RunKernelAppliesUpdates(t *testing.T) {
	w := New(0)
	createSingleShardTable(t, w, 1)

	resp := w.RunKernel(context.Background(), wire.RunKernelReq{
		Table:  1,
		Shard:  0,
		Kernel: "apply_updates",
		TaskArgs: map[string]string{
			"update.0.key":   encodeStr("a"),
			"update.0.value": encodeStr("v"),
		},
	})
	assert.Empty(t, resp.Error)

	value, missing, err := w.Get(context.Background(), 1, []byte("a"))
	require.NoError(t, err)
	assert.False(t, missing)
	assert.Equal(t, "v", string(value))
}

func TestWorker_RunKernelReportsStructuredFailureButKeepsBufferedUpdates(t *testing.T) {
	w := New(0)
	createSingleShardTable(t, w, 1)

	resp := w.RunKernel(context.Background(), wire.RunKernelReq{
		Table:  1,
		Shard:  0,
		Kernel: "apply_updates",
		TaskArgs: map[string]string{
			"update.0.key":   encodeStr("a"),
			"update.0.value": encodeStr("v"),
			"fail_after":     "1",
		},
	})
	assert.NotEmpty(t, resp.Error)

	// already-applied update before the failure is still visible locally
	value, missing, err := w.Get(context.Background(), 1, []byte("a"))
	require.NoError(t, err)
	assert.False(t, missing)
	assert.Equal(t, "v", string(value))
}

func TestWorker_UnknownKernelIDIsReportedNotFatal(t *testing.T) {
	w := New(0)
	createSingleShardTable(t, w, 1)

	resp := w.RunKernel(context.Background(), wire.RunKernelReq{Table: 1, Shard: 0, Kernel: "does-not-exist"})
	assert.NotEmpty(t, resp.Error)
}

func TestWorker_GetIteratorOnEmptyShardIsDoneImmediately(t *testing.T) {
	w := New(0)
	createSingleShardTable(t, w, 1)

	resp, err := w.GetIterator(context.Background(), 1, 0, -1, 16)
	require.NoError(t, err)
	assert.True(t, resp.Done)
	assert.Empty(t, resp.Results)
}

func TestWorker_DestroyTableRemovesItAndItsIterators(t *testing.T) {
	w := New(0)
	createSingleShardTable(t, w, 1)

	require.NoError(t, w.Put(1, 0, []wire.KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}))
	resp, err := w.GetIterator(context.Background(), 1, 0, -1, 1)
	require.NoError(t, err)
	require.False(t, resp.Done)

	require.NoError(t, w.DestroyTable(1))
	assert.Empty(t, w.iterators)

	_, _, err = w.Get(context.Background(), 1, []byte("a"))
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestWorker_ShutdownUnblocksWaitForShutdown(t *testing.T) {
	w := New(0)
	done := make(chan struct{})
	go func() {
		w.WaitForShutdown()
		close(done)
	}()

	w.Shutdown()
	<-done
}

func encodeStr(s string) string {
	return kernel.EncodeArg([]byte(s))
}
