package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tablerun/internal/iterator"
)

// fakeContext is a minimal in-memory Context used to exercise the builtin
// kernels without a real worker/table/shard underneath.
type fakeContext struct {
	data map[string][]byte
}

func newFakeContext() *fakeContext {
	return &fakeContext{data: make(map[string][]byte)}
}

func (c *fakeContext) WorkerID() int { return 0 }
func (c *fakeContext) TableID() int  { return 0 }
func (c *fakeContext) ShardID() int  { return 0 }

func (c *fakeContext) Get(key []byte) ([]byte, bool, error) {
	v, ok := c.data[string(key)]
	return v, ok, nil
}

func (c *fakeContext) Update(key, value []byte) error {
	c.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (c *fakeContext) Iterate(context.Context) (iterator.Iterator, error) {
	return nil, nil
}

func TestEncodeDecodeArg_RoundTrips(t *testing.T) {
	want := []byte("hello\x00world")
	assert.Equal(t, want, DecodeArg(EncodeArg(want)))
}

func TestDecodeArg_InvalidInputReturnsNil(t *testing.T) {
	assert.Nil(t, DecodeArg("not-base64!!"))
}

func TestApplyUpdates_ReplaysIndexedWrites(t *testing.T) {
	rc := newFakeContext()
	k := &ApplyUpdates{}
	require.NoError(t, k.Init(rc, nil, map[string]string{
		"update.0.key":   EncodeArg([]byte("a")),
		"update.0.value": EncodeArg([]byte("1")),
		"update.1.key":   EncodeArg([]byte("b")),
		"update.1.value": EncodeArg([]byte("2")),
	}))
	require.NoError(t, k.Run(context.Background()))

	assert.Equal(t, []byte("1"), rc.data["a"])
	assert.Equal(t, []byte("2"), rc.data["b"])
}

func TestApplyUpdates_StopsAtFirstGapInIndex(t *testing.T) {
	rc := newFakeContext()
	k := &ApplyUpdates{}
	require.NoError(t, k.Init(rc, nil, map[string]string{
		"update.0.key":   EncodeArg([]byte("a")),
		"update.0.value": EncodeArg([]byte("1")),
		"update.2.key":   EncodeArg([]byte("c")),
		"update.2.value": EncodeArg([]byte("3")),
	}))
	require.NoError(t, k.Run(context.Background()))

	assert.Equal(t, []byte("1"), rc.data["a"])
	_, present := rc.data["c"]
	assert.False(t, present)
}

func TestApplyUpdates_FailAfterInjectsStructuredFailure(t *testing.T) {
	rc := newFakeContext()
	k := &ApplyUpdates{}
	require.NoError(t, k.Init(rc, nil, map[string]string{
		"update.0.key":   EncodeArg([]byte("a")),
		"update.0.value": EncodeArg([]byte("1")),
		"update.1.key":   EncodeArg([]byte("b")),
		"update.1.value": EncodeArg([]byte("2")),
		"fail_after":     "1",
	}))
	err := k.Run(context.Background())
	require.Error(t, err)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "injected_failure", f.Reason)

	// the update before the injected failure point was still applied
	assert.Equal(t, []byte("1"), rc.data["a"])
	_, present := rc.data["b"]
	assert.False(t, present)
}

func TestNoop_RunsWithoutTouchingContext(t *testing.T) {
	rc := newFakeContext()
	k := &Noop{}
	require.NoError(t, k.Init(rc, nil, nil))
	require.NoError(t, k.Run(context.Background()))
	assert.Empty(t, rc.data)
}

func TestKernelsRegistry_BuiltinsRegistered(t *testing.T) {
	assert.True(t, Kernels.Has("apply_updates"))
	assert.True(t, Kernels.Has("noop"))
}
