// Package vmspace implements the address space: an ordered sequence
// of region descriptors owned by one process, plus the lifecycle
// operations (create, define_region, prepare_load, complete_load,
// define_stack, activate, copy, destroy).
//
// It is grounded on biscuit's vm.Vm_t (biscuit's vm/as.go: a region
// list plus a lock guarding it and the resident-page state), trimmed
// to exactly what is needed here — no pmap, no COW, no file mappings
// — and on original_source/kern/vm/addrspace.c for the exact
// region-list and copy/destroy choreography this is a literal port of.
package vmspace

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hptvm/internal/errs"
	"hptvm/internal/frame"
	"hptvm/internal/hpt"
	"hptvm/internal/region"
	"hptvm/internal/registry"
	"hptvm/internal/vmconst"
)

// Space is one process's address space: an ordered region list plus
// the registry identity the HPT uses to tag pages it owns.
type Space struct {
	mu sync.Mutex

	id      registry.ID
	regions []region.Region
}

// ID returns the stable handle other components (chiefly the HPT) use
// to name this address space without holding a pointer to it.
func (s *Space) ID() registry.ID {
	return s.id
}

// Regions returns a snapshot copy of the region list, in definition
// order. DefineStack appends like DefineRegion does, so the stack
// region is last only when no region is defined after it.
func (s *Space) Regions() []region.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]region.Region, len(s.regions))
	copy(out, s.regions)
	return out
}

// findLocked returns the region containing addr, or false. Caller
// must hold s.mu.
func (s *Space) findLocked(addr uintptr) (region.Region, bool) {
	for _, r := range s.regions {
		if r.Contains(addr) {
			return r, true
		}
	}
	return region.Region{}, false
}

// Find returns the region containing addr, the "region authorisation"
// lookup a fault handler performs to check access permissions.
func (s *Space) Find(addr uintptr) (region.Region, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(addr)
}

// spaceRegistry is the process-wide address-space identity registry.
// A single package-level registry (rather than one per Kernel)
// matches the model of address-space identity being globally unique
// (the hash function XORs a raw identity against the vpn); vmcore
// still owns the Kernel-scoped HPT and frame pool that actually use
// it.
var spaceRegistry = registry.New[*Space]()

// Create returns a new, empty address space (as_create): no regions,
// no HPT side effects.
func Create() *Space {
	s := &Space{}
	s.id = spaceRegistry.Register(s)
	return s
}

// DefineRegion appends a page-aligned region to as, performing the
// alignment arithmetic of as_define_region.
func DefineRegion(as *Space, vaddr, memsize uintptr, r, w, x bool) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	perm := permFrom(r, w, x)
	reg := region.New(vaddr, memsize, perm)
	if reg.End() > vmconst.UserStack {
		return errors.Wrap(errs.ENOMEM, "vmspace: region would overlap the stack/userspace top")
	}
	for _, existing := range as.regions {
		if reg.Overlaps(existing) {
			return errors.Wrap(errs.ENOMEM, "vmspace: region overlaps an existing region")
		}
	}
	as.regions = append(as.regions, reg)
	return nil
}

func permFrom(r, w, x bool) vmconst.Perm {
	var p vmconst.Perm
	if r {
		p |= vmconst.PermR
	}
	if w {
		p |= vmconst.PermW
	}
	if x {
		p |= vmconst.PermX
	}
	return p
}

// PrepareLoad sets W on every region's current mode (as_prepare_load)
// — used before copying ELF segments in so the loader can write to
// regions that will end up read-only.
func PrepareLoad(as *Space) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i := range as.regions {
		as.regions[i].Mode |= vmconst.PermW
	}
}

// CompleteLoad restores every region's mode to its declared acc_mode
// (as_complete_load). HPT entries installed while loading (with DIRTY
// possibly set from the temporarily writable mode) are *not* scrubbed
// — an acknowledged limitation preserved as the default behaviour; see
// CompleteLoadStrict below for the explicit opt-in alternative.
func CompleteLoad(as *Space) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i := range as.regions {
		as.regions[i].Mode = as.regions[i].AccMode
	}
}

// CompleteLoadStrict is CompleteLoad plus an HPT walk that clears
// DIRTY on every resident page belonging to a region that lost write
// permission. This changes observable semantics relative to the
// historical behaviour (see DESIGN.md), so it is an explicit,
// separately named opt-in rather than CompleteLoad's default
// behaviour.
func CompleteLoadStrict(as *Space, table *hpt.Table) {
	as.mu.Lock()
	for i := range as.regions {
		as.regions[i].Mode = as.regions[i].AccMode
	}
	regions := append([]region.Region(nil), as.regions...)
	id := as.id
	as.mu.Unlock()

	var toClear []uintptr
	table.Lock()
	table.ForEachOwned(id, func(vpn, entryLo uintptr) {
		if entryLo&hpt.Dirty == 0 {
			return
		}
		for _, r := range regions {
			if r.Contains(vpn) && r.Mode&vmconst.PermW == 0 {
				toClear = append(toClear, vpn)
				return
			}
		}
	})
	for _, vpn := range toClear {
		entryLo, ok := table.Lookup(vpn, id)
		if !ok {
			continue
		}
		table.Overwrite(vpn, id, entryLo&^hpt.Dirty)
	}
	table.Unlock()
}

// DefineStack appends the fixed-position stack region (as_define_stack:
// [USERSTACK - STACKPAGES*PAGE_SIZE, USERSTACK), mode R|W|X) and
// returns the initial stack pointer.
func DefineStack(as *Space) (stackptr uintptr, err error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	base := vmconst.UserStack - vmconst.StackPages*vmconst.PageSize
	stack := region.Region{
		VBase:   base,
		NPages:  vmconst.StackPages,
		Mode:    vmconst.PermR | vmconst.PermW | vmconst.PermX,
		AccMode: vmconst.PermR | vmconst.PermW | vmconst.PermX,
	}
	for _, existing := range as.regions {
		if stack.Overlaps(existing) {
			return 0, errors.Wrap(errs.ENOMEM, "vmspace: stack region overlaps an existing region")
		}
	}
	as.regions = append(as.regions, stack)
	return vmconst.UserStack, nil
}

// Activate is a no-op in this package. The TLB invalidation as_activate
// performs on context switch in is done by vmcore.Kernel.Activate,
// since the TLB is a Kernel-scoped collaborator, not part of Space
// itself.
func Activate() {}

// Deactivate is a documented no-op, matching as_deactivate.
func Deactivate() {}

// Copy produces an independent deep copy of old: a cloned region list
// plus a duplicate physical frame for every HPT node old owns
// (as_copy). On any allocation failure the partially built new space
// is destroyed and the error returned.
func Copy(frames *frame.Pool, table *hpt.Table, logger *zap.Logger, old *Space) (*Space, error) {
	old.mu.Lock()
	regionsCopy := append([]region.Region(nil), old.regions...)
	old.mu.Unlock()

	newAS := Create()
	newAS.mu.Lock()
	newAS.regions = regionsCopy
	newAS.mu.Unlock()

	table.Lock()
	var copyErr error
	table.ForEachOwned(old.id, func(vpn, entryLo uintptr) {
		if copyErr != nil {
			return
		}
		srcFrame := frame.FromPhys(entryLo & vmconst.PageFrameMask)
		ctrl := entryLo & ^vmconst.PageFrameMask

		dstFrame, err := frames.Alloc()
		if err != nil {
			copyErr = errors.Wrap(err, "vmspace: copy: allocate destination frame")
			return
		}
		dst := frames.Window(dstFrame)
		src := frames.Window(srcFrame)
		n := copy(dst, src)
		if n != vmconst.PageSize {
			panic("vmspace: copy: short page copy")
		}

		newEntryLo := frame.ToPhys(dstFrame) | ctrl | hpt.Valid
		if err := table.Insert(vpn, newEntryLo, newAS.id); err != nil {
			frames.Free(dstFrame)
			copyErr = errors.Wrap(err, "vmspace: copy: HPT insert")
			return
		}
	})
	table.Unlock()

	if copyErr != nil {
		Destroy(frames, table, newAS)
		if logger != nil {
			logger.Warn("as_copy failed", zap.Uint64("old_id", uint64(old.id)), zap.Error(copyErr))
		}
		return nil, copyErr
	}

	if logger != nil {
		logger.Info("as_copy",
			zap.Uint64("old_id", uint64(old.id)),
			zap.Uint64("new_id", uint64(newAS.id)),
			zap.Int("regions", len(regionsCopy)),
		)
	}
	return newAS, nil
}

// Destroy releases every region, every HPT node owned by as (and the
// frame each referenced), and as itself (as_destroy).
func Destroy(frames *frame.Pool, table *hpt.Table, as *Space) {
	as.mu.Lock()
	as.regions = nil
	id := as.id
	as.mu.Unlock()

	table.Lock()
	table.RemoveByOwner(id, func(_, entryLo uintptr) {
		f := frame.FromPhys(entryLo & vmconst.PageFrameMask)
		frames.Free(f)
	})
	table.Unlock()

	spaceRegistry.Unregister(id)
}
