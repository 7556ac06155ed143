package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct{ name string }

func TestRegistry_RegisterAndNew(t *testing.T) {
	r := New[*widget]()
	r.Register("a", func() *widget { return &widget{name: "a"} })

	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("b"))

	w, err := r.New("a")
	require.NoError(t, err)
	assert.Equal(t, "a", w.name)
}

func TestRegistry_UnknownIDErrors(t *testing.T) {
	r := New[*widget]()
	_, err := r.New("missing")
	assert.Error(t, err)
}

func TestRegistry_NewReturnsFreshInstances(t *testing.T) {
	r := New[*widget]()
	r.Register("a", func() *widget { return &widget{} })

	w1, _ := r.New("a")
	w2, _ := r.New("a")
	assert.NotSame(t, w1, w2)
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	r := New[*widget]()
	r.Register("a", func() *widget { return &widget{name: "first"} })
	r.Register("a", func() *widget { return &widget{name: "second"} })

	w, err := r.New("a")
	require.NoError(t, err)
	assert.Equal(t, "second", w.name)
}
