package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hptvm/internal/errs"
	"hptvm/internal/vmconst"
)

func TestNewPoolSizing(t *testing.T) {
	p := NewPool(4 * vmconst.PageSize)
	assert.Equal(t, 4, p.NumFrames())
	assert.Equal(t, 4, p.Avail())
}

func TestAllocExhaustsAndReturnsENOMEM(t *testing.T) {
	p := NewPool(2 * vmconst.PageSize)

	_, err := p.Alloc()
	require.NoError(t, err)
	_, err = p.Alloc()
	require.NoError(t, err)

	_, err = p.Alloc()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ENOMEM))
}

func TestFreeReturnsFrameToPool(t *testing.T) {
	p := NewPool(1 * vmconst.PageSize)
	n, err := p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, 0, p.Avail())

	p.Free(n)
	assert.Equal(t, 1, p.Avail())

	_, err = p.Alloc()
	require.NoError(t, err)
}

func TestAllocZeroFillsFrame(t *testing.T) {
	p := NewPool(1 * vmconst.PageSize)
	n, err := p.AllocZero()
	require.NoError(t, err)

	w := p.Window(n)
	for _, b := range w {
		assert.Equal(t, byte(0), b)
	}
	w[0] = 0xFF
	assert.Equal(t, byte(0xFF), p.Window(n)[0])
}

func TestToPhysFromPhysRoundTrip(t *testing.T) {
	n := Num(5)
	pa := ToPhys(n)
	assert.Equal(t, uintptr(5)<<vmconst.PageShift, pa)
	assert.Equal(t, n, FromPhys(pa))
}

func TestFreeOfOutOfRangeFramePanics(t *testing.T) {
	p := NewPool(1 * vmconst.PageSize)
	assert.Panics(t, func() { p.Free(Num(99)) })
}
