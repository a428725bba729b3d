// Package frame simulates the physical frame allocator a real kernel
// would expose as alloc_frame/free_frame by kernel-virtual address.
// Since this repository simulates the whole subsystem rather than
// running on real hardware, frame provides a small self-contained
// simulated allocator: a fixed arena of PageSize-sized frames with an
// index free list.
//
// The free-list shape (an array of "next free" indices threaded
// through unused slots) is grounded on biscuit's mem.Physmem_t
// (mem/mem.go: freei/nexti/freelen), stripped of refcounting,
// per-CPU caching and pmap bookkeeping: none of those are needed here
// because every occupied HPT node owns its frame exclusively, so a
// frame is either on the free list or owned by exactly one HPT node,
// never shared.
package frame

import (
	"sync"

	"github.com/pkg/errors"

	"hptvm/internal/errs"
	"hptvm/internal/vmconst"
)

// Num identifies a physical frame by index, the simulated analogue of
// a physical frame number (PFN).
type Num uint32

// Pool is a fixed-size arena of frames with free-list allocation. The
// zero value is not usable; construct with NewPool.
type Pool struct {
	mu      sync.Mutex
	arena   []byte
	nexti   []uint32
	freeHead uint32
	nframes uint32
	free    uint32
}

const listEnd = ^uint32(0)

// NewPool reserves ramSize bytes (rounded down to a whole number of
// frames) and returns a pool with every frame initially free.
func NewPool(ramSize int) *Pool {
	n := ramSize / vmconst.PageSize
	if n <= 0 {
		panic("frame: ramSize too small for even one frame")
	}
	p := &Pool{
		arena:   make([]byte, n*vmconst.PageSize),
		nexti:   make([]uint32, n),
		nframes: uint32(n),
		free:    uint32(n),
	}
	for i := uint32(0); i < p.nframes; i++ {
		if i+1 == p.nframes {
			p.nexti[i] = listEnd
		} else {
			p.nexti[i] = i + 1
		}
	}
	p.freeHead = 0
	return p
}

// NumFrames reports the pool's fixed capacity.
func (p *Pool) NumFrames() int {
	return int(p.nframes)
}

// Avail reports the number of currently free frames.
func (p *Pool) Avail() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.free)
}

// Alloc reserves one frame without zeroing its contents.
func (p *Pool) Alloc() (Num, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.freeHead == listEnd {
		return 0, errors.Wrap(errs.ENOMEM, "frame: pool exhausted")
	}
	idx := p.freeHead
	p.freeHead = p.nexti[idx]
	p.nexti[idx] = 0
	p.free--
	return Num(idx), nil
}

// AllocZero reserves one frame and zero-fills it, the demand-zero
// behaviour the fault handler requires of its allocation path.
func (p *Pool) AllocZero() (Num, error) {
	n, err := p.Alloc()
	if err != nil {
		return 0, err
	}
	w := p.window(n)
	for i := range w {
		w[i] = 0
	}
	return n, nil
}

// Free returns a frame to the pool.
func (p *Pool) Free(n Num) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := uint32(n)
	if idx >= p.nframes {
		panic("frame: Free of out-of-range frame")
	}
	p.nexti[idx] = p.freeHead
	p.freeHead = idx
	p.free++
}

// Window returns the byte slice backing frame n, the simulated
// analogue of biscuit's Dmap (a kernel-virtual window onto a physical
// page). An address-space copy duplicates page contents by copying
// between two Windows.
func (p *Pool) Window(n Num) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window(n)
}

func (p *Pool) window(n Num) []byte {
	off := int(n) * vmconst.PageSize
	return p.arena[off : off+vmconst.PageSize]
}

// ToPhys converts a frame number into the page-aligned "physical
// address" an HPT entry's PAGE_FRAME bits encode.
func ToPhys(n Num) uintptr {
	return uintptr(n) << vmconst.PageShift
}

// FromPhys recovers a frame number from a page-aligned physical
// address produced by ToPhys.
func FromPhys(pa uintptr) Num {
	return Num(pa >> vmconst.PageShift)
}
