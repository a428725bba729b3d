package tlb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hptvm/internal/irq"
)

func TestWriteRandomThenProbeHits(t *testing.T) {
	tl := New()
	guard := &irq.Guard{}

	tl.WriteRandom(guard, 0x1000, 0xABC)

	entryLo, ok := tl.Probe(0x1000)
	assert.True(t, ok)
	assert.Equal(t, uintptr(0xABC), entryLo)
}

func TestInvalidateAllClearsEverySlot(t *testing.T) {
	tl := New()
	guard := &irq.Guard{}

	for i := uintptr(0); i < NumSlots; i++ {
		tl.WriteRandom(guard, i<<12, i)
	}
	tl.InvalidateAll(guard)

	for i := uintptr(0); i < NumSlots; i++ {
		_, ok := tl.Probe(i << 12)
		assert.False(t, ok)
	}
}

func TestProbeMissOnUncachedVPN(t *testing.T) {
	tl := New()
	_, ok := tl.Probe(0xDEAD000)
	assert.False(t, ok)
}
