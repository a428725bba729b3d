// Package vmconst holds the architecture constants shared by every
// layer of the virtual memory core. Values match the 32-bit MIPS-like
// target this subsystem is modelled on.
package vmconst

const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the size of a single page/frame in bytes.
	PageSize = 1 << PageShift

	// PageOffsetMask masks the in-page offset of an address.
	PageOffsetMask = PageSize - 1

	// PageFrameMask masks the page-aligned portion of an address,
	// i.e. the PAGE_FRAME bits of an entry_lo value.
	PageFrameMask = ^uintptr(PageOffsetMask)

	// StackPages is the fixed number of pages reserved for a
	// process's stack region.
	StackPages = 18

	// UserSpaceTop is the architectural top of user virtual
	// address space.
	UserSpaceTop uintptr = 0x80000000

	// UserStack is the initial user stack pointer handed back by
	// DefineStack; it equals UserSpaceTop.
	UserStack = UserSpaceTop
)

// Perm is the ELF-style permission bit set (PF_R, PF_W, PF_X) used by
// region descriptors and fault derivation.
type Perm uint

const (
	PermR Perm = 1 << 2
	PermW Perm = 1 << 1
	PermX Perm = 1 << 0
)

// PageAlignDown rounds v down to the nearest page boundary.
func PageAlignDown(v uintptr) uintptr {
	return v &^ PageOffsetMask
}

// PageAlignUp rounds v up to the nearest page boundary.
func PageAlignUp(v uintptr) uintptr {
	return (v + PageOffsetMask) &^ PageOffsetMask
}

// VPN returns the virtual page number (the page-aligned address) for
// a byte address.
func VPN(addr uintptr) uintptr {
	return addr &^ PageOffsetMask
}
