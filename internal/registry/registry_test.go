package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestRegisterLookupUnregister(t *testing.T) {
	r := New[string]()

	id := r.Register("alpha")
	v, ok := r.Lookup(id)
	assert.True(t, ok)
	assert.Equal(t, "alpha", v)

	r.Unregister(id)
	_, ok = r.Lookup(id)
	assert.False(t, ok)
}

func TestIDsAreUniqueAndNeverZero(t *testing.T) {
	r := New[int]()
	seen := make(map[ID]bool)
	for i := 0; i < 1000; i++ {
		id := r.Register(i)
		assert.NotEqual(t, ID(0), id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestConcurrentRegisterProducesUniqueIDs(t *testing.T) {
	r := New[int]()
	ids := make(chan ID, 200)
	var g errgroup.Group
	for i := 0; i < 200; i++ {
		i := i
		g.Go(func() error {
			ids <- r.Register(i)
			return nil
		})
	}
	_ = g.Wait()
	close(ids)

	seen := make(map[ID]bool)
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, 200)
}
