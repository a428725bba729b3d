package irq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRaiseSerializesAgainstAnotherRaise(t *testing.T) {
	g := &Guard{}
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		release := g.Raise()
		defer release()
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(1 * time.Millisecond)
		release := g.Raise()
		defer release()
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}()
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
}
