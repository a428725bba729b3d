package fault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hptvm/internal/errs"
	"hptvm/internal/frame"
	"hptvm/internal/hpt"
	"hptvm/internal/irq"
	"hptvm/internal/oom"
	"hptvm/internal/tlb"
	"hptvm/internal/vmconst"
	"hptvm/internal/vmspace"
)

func newTestDeps(ramPages int) (Deps, *vmspace.Space) {
	frames := frame.NewPool(ramPages * vmconst.PageSize)
	table := hpt.New(1024)
	d := Deps{
		Table:  table,
		Frames: frames,
		TLB:    tlb.New(),
		IRQ:    &irq.Guard{},
		OOM:    oom.New(),
		Logger: zap.NewNop(),
	}
	as := vmspace.Create()
	return d, as
}

func TestFaultNullAddressIsEFAULT(t *testing.T) {
	d, as := newTestDeps(4)
	err := Handle(context.Background(), d, as, Read, 0)
	assert.True(t, errs.Is(err, errs.EFAULT))
}

func TestFaultAtOrAboveUserStackIsEINVAL(t *testing.T) {
	d, as := newTestDeps(4)
	err := Handle(context.Background(), d, as, Read, vmconst.UserStack)
	assert.True(t, errs.Is(err, errs.EINVAL))
}

func TestFaultReadOnlyKindIsAlwaysEFAULT(t *testing.T) {
	d, as := newTestDeps(4)
	require.NoError(t, vmspace.DefineRegion(as, 0x1000, vmconst.PageSize, true, true, false))
	err := Handle(context.Background(), d, as, ReadOnly, 0x1000)
	assert.True(t, errs.Is(err, errs.EFAULT))
}

func TestFaultUnmappedAddressIsEFAULT(t *testing.T) {
	d, as := newTestDeps(4)
	err := Handle(context.Background(), d, as, Read, 0x1000)
	assert.True(t, errs.Is(err, errs.EFAULT))
}

// S2/S3: first fault allocates and zero-fills, second fault is served
// from the HPT with an identical entry_lo and no new frame consumed.
func TestFirstFaultAllocatesSecondFaultHits(t *testing.T) {
	d, as := newTestDeps(4)
	require.NoError(t, vmspace.DefineRegion(as, 0x00400000, vmconst.PageSize, true, false, true))

	before := d.Frames.Avail()
	err := Handle(context.Background(), d, as, Read, 0x00400abc)
	require.NoError(t, err)
	afterFirst := d.Frames.Avail()
	assert.Equal(t, before-1, afterFirst)

	entryLo1, ok := d.Table.LookupLocked(vmconst.VPN(0x00400abc), as.ID())
	require.True(t, ok)
	assert.NotZero(t, entryLo1&hpt.Valid)
	assert.Zero(t, entryLo1&hpt.Dirty)

	err = Handle(context.Background(), d, as, Read, 0x00400abc)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, d.Frames.Avail())

	entryLo2, ok := d.Table.LookupLocked(vmconst.VPN(0x00400abc), as.ID())
	require.True(t, ok)
	assert.Equal(t, entryLo1, entryLo2)
}

// S4: a write fault on a writable region sets DIRTY.
func TestWriteFaultOnWritableRegionSetsDirty(t *testing.T) {
	d, as := newTestDeps(4)
	require.NoError(t, vmspace.DefineRegion(as, 0x10000000, 2*vmconst.PageSize, true, true, false))

	err := Handle(context.Background(), d, as, Write, 0x10001000)
	require.NoError(t, err)

	entryLo, ok := d.Table.LookupLocked(vmconst.VPN(0x10001000), as.ID())
	require.True(t, ok)
	assert.NotZero(t, entryLo&hpt.Dirty)
}

// S5: after define_stack, a write fault just below USERSTACK succeeds
// with DIRTY set.
func TestStackWriteFaultSucceeds(t *testing.T) {
	d, as := newTestDeps(32)
	sp, err := vmspace.DefineStack(as)
	require.NoError(t, err)
	assert.Equal(t, vmconst.UserStack, sp)

	err = Handle(context.Background(), d, as, Write, vmconst.UserStack-4)
	require.NoError(t, err)

	entryLo, ok := d.Table.LookupLocked(vmconst.VPN(vmconst.UserStack-4), as.ID())
	require.True(t, ok)
	assert.NotZero(t, entryLo&hpt.Dirty)
}

func TestFaultIndexMatchesHashFormula(t *testing.T) {
	d, as := newTestDeps(4)
	require.NoError(t, vmspace.DefineRegion(as, 0x00400000, vmconst.PageSize, true, false, true))

	err := Handle(context.Background(), d, as, Read, 0x00400abc)
	require.NoError(t, err)

	idx := d.Table.Index(as.ID(), vmconst.VPN(0x00400abc))
	want := int((uint64(as.ID()) ^ uint64(vmconst.VPN(0x00400abc)>>12)) % 1024)
	assert.Equal(t, want, idx)
}

func TestNilAddressSpaceIsEFAULT(t *testing.T) {
	d, _ := newTestDeps(4)
	err := Handle(context.Background(), d, nil, Read, 0x1000)
	assert.True(t, errs.Is(err, errs.EFAULT))
}

func TestFaultPublishesOOMOnFrameExhaustion(t *testing.T) {
	d, as := newTestDeps(1)
	require.NoError(t, vmspace.DefineRegion(as, 0x1000, 2*vmconst.PageSize, true, true, false))

	require.NoError(t, Handle(context.Background(), d, as, Read, 0x1000))
	err := Handle(context.Background(), d, as, Read, 0x2000)
	assert.True(t, errs.Is(err, errs.ENOMEM))

	select {
	case ev := <-d.OOM.C:
		assert.Equal(t, 1, ev.Need)
	default:
		t.Fatal("expected an OOM event to be published")
	}
}
