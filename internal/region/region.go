// Package region implements the region descriptor: a contiguous,
// page-aligned virtual range with uniform permissions. It is the Go
// restatement of original_source/kern/vm/addrspace.c's struct
// mem_region and of biscuit's Vminfo_t (biscuit's vm/as.go), trimmed
// to exactly the fields needed here — no COW, no file backing, no
// shared-mapping bookkeeping.
package region

import "hptvm/internal/vmconst"

// Region is one contiguous virtual range owned by an address space.
type Region struct {
	VBase   uintptr     // page-aligned virtual base address
	NPages  uintptr     // number of PageSize pages
	Mode    vmconst.Perm // current permission bits (R/W/X)
	AccMode vmconst.Perm // permissions declared at definition time
}

// End returns the exclusive upper bound of the region.
func (r Region) End() uintptr {
	return r.VBase + r.NPages*vmconst.PageSize
}

// Contains reports whether a byte address falls within the region.
func (r Region) Contains(addr uintptr) bool {
	return r.VBase <= addr && addr < r.End()
}

// Overlaps reports whether r and other share any page.
func (r Region) Overlaps(other Region) bool {
	return r.VBase < other.End() && other.VBase < r.End()
}

// New builds a Region from an unaligned (vaddr, memsize) pair, doing
// the same alignment arithmetic as_define_region performs:
//
//	memsize += vaddr & (PAGE_SIZE-1)
//	vaddr   &= ~(PAGE_SIZE-1)
//	memsize  = ceil(memsize, PAGE_SIZE)
//	npages   = memsize / PAGE_SIZE
func New(vaddr, memsize uintptr, perm vmconst.Perm) Region {
	memsize += vaddr & vmconst.PageOffsetMask
	vaddr = vmconst.PageAlignDown(vaddr)
	memsize = vmconst.PageAlignUp(memsize)
	return Region{
		VBase:   vaddr,
		NPages:  memsize / vmconst.PageSize,
		Mode:    perm,
		AccMode: perm,
	}
}
