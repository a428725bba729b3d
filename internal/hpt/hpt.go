// Package hpt implements the hashed page table: a process-wide,
// fixed-size open-addressed primary array with separately allocated
// overflow chains, mapping (address space, vpn) to a physical frame
// plus control bits.
//
// It is grounded on two sources: the chaining shape of biscuit's
// hashtable.Hashtable_t (biscuit's hashtable/hashtable.go: a primary
// bucket array plus a singly linked overflow list per bucket), and
// the exact field layout and removal choreography of
// original_source/kern/vm/vm.c's struct HPT / page_table_insert and
// addrspace.c's as_destroy. Unlike Hashtable_t, there is a single
// table-wide lock rather than per-bucket locks, and unlike the C
// source, Insert always allocates a full node (Go has no analogue of
// the source's kmalloc(sizeof(struct HPT *)) pointer-sized-allocation
// bug, so there is nothing to reproduce or fix in a typed language).
package hpt

import (
	"sync"

	"github.com/pkg/errors"

	"hptvm/internal/errs"
	"hptvm/internal/registry"
)

// Control bits packed into the low bits of an entry's EntryLo,
// alongside the frame address in the high bits (the PAGE_FRAME/ctrl
// split an entry_lo value uses).
const (
	Valid uintptr = 1 << 0
	Dirty uintptr = 1 << 1
)

// node is one overflow-chain link, carrying the same four fields as
// the primary slot.
type node struct {
	vpn     uintptr
	entryLo uintptr
	owner   registry.ID
	next    *node
}

type slot struct {
	occupied bool
	vpn      uintptr // meaningful only when occupied
	entryLo  uintptr
	owner    registry.ID
	next     *node
}

// invalidVPN returns the empty-slot sentinel for bucket index i, the
// INVALID_VPN(i mod 64) pattern vm.c's page table uses.
func invalidVPN(i int) uintptr {
	return ^uintptr(0) - uintptr(i%64)
}

// Table is the fixed-size hashed page table. Construct with New.
type Table struct {
	mu         sync.Mutex
	slots      []slot
	size       uint64
	nodeBudget int // 0 means unbounded overflow-node allocation
	nodeCount  int
}

// New allocates and zero-initialises a Table with size primary slots,
// the vm_bootstrap behaviour (H = ram_size/PAGE_SIZE is computed by
// the caller and passed in here). Overflow-node allocation is
// unbounded, matching the C source's plain kmalloc.
func New(size int) *Table {
	return newTable(size, 0)
}

// NewBounded is like New but caps the number of overflow-chain nodes
// that may ever be allocated at once, so Insert can genuinely observe
// an ENOMEM path ("allocation failure with no visible state change")
// — something a real process can always hit once the kernel heap it
// allocates HPT overflow nodes from is exhausted, even though a
// single Go node allocation itself cannot fail short of the whole
// process dying.
func NewBounded(size, nodeBudget int) *Table {
	return newTable(size, nodeBudget)
}

func newTable(size, nodeBudget int) *Table {
	if size <= 0 {
		panic("hpt: size must be positive")
	}
	t := &Table{
		slots:      make([]slot, size),
		size:       uint64(size),
		nodeBudget: nodeBudget,
	}
	t.mu.Lock()
	for i := range t.slots {
		t.slots[i] = slot{vpn: invalidVPN(i)}
	}
	t.mu.Unlock()
	return t
}

// Size reports the number of primary slots (H).
func (t *Table) Size() int {
	return int(t.size)
}

// Lock acquires the single HPT lock. Insert, Lookup, Overwrite,
// RemoveByOwner and ForEachOwned assume the caller already holds it
// (InsertLocked and LookupLocked take it themselves); Lock/Unlock are
// exposed directly
// because callers like Copy and Destroy must hold the lock across
// several Table operations and collaborator calls (frame allocation,
// frame copy), not just one.
func (t *Table) Lock() { t.mu.Lock() }

// Unlock releases the HPT lock.
func (t *Table) Unlock() { t.mu.Unlock() }

// Index computes the bucket for (owner, vpn):
// ((address_space_identity) XOR (vpn >> 12)) mod H.
func (t *Table) Index(owner registry.ID, vpn uintptr) int {
	return int((uint64(owner) ^ uint64(vpn>>12)) % t.size)
}

// Insert adds (vpn, entryLo, owner) to the table. The caller must
// already hold the lock and must guarantee no existing node shares
// this (vpn, owner) pair.
func (t *Table) Insert(vpn, entryLo uintptr, owner registry.ID) error {
	idx := t.Index(owner, vpn)
	s := &t.slots[idx]
	if !s.occupied {
		s.occupied = true
		s.vpn = vpn
		s.entryLo = entryLo
		s.owner = owner
		s.next = nil
		return nil
	}

	if t.nodeBudget > 0 && t.nodeCount >= t.nodeBudget {
		return errors.Wrap(errs.ENOMEM, "hpt: overflow node budget exhausted")
	}
	n := &node{vpn: vpn, entryLo: entryLo, owner: owner}
	if s.next == nil {
		s.next = n
		t.nodeCount++
		return nil
	}
	tail := s.next
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = n
	t.nodeCount++
	return nil
}

// Lookup returns the entryLo stored for (vpn, owner), walking the
// primary slot then the overflow chain, or reports not-present. The
// caller must already hold the lock.
func (t *Table) Lookup(vpn uintptr, owner registry.ID) (entryLo uintptr, ok bool) {
	idx := t.Index(owner, vpn)
	s := &t.slots[idx]
	if s.occupied && s.vpn == vpn && s.owner == owner {
		return s.entryLo, true
	}
	for n := s.next; n != nil; n = n.next {
		if n.vpn == vpn && n.owner == owner {
			return n.entryLo, true
		}
	}
	return 0, false
}

// Overwrite replaces the entryLo stored for an existing (vpn, owner)
// node in place, leaving its position in the chain untouched. Used to
// update control bits (clearing DIRTY, for instance) without the
// remove-then-reinsert dance that would otherwise require releasing
// and reacquiring a chain position. The caller must already hold the
// lock and the node must exist.
func (t *Table) Overwrite(vpn uintptr, owner registry.ID, entryLo uintptr) {
	idx := t.Index(owner, vpn)
	s := &t.slots[idx]
	if s.occupied && s.vpn == vpn && s.owner == owner {
		s.entryLo = entryLo
		return
	}
	for n := s.next; n != nil; n = n.next {
		if n.vpn == vpn && n.owner == owner {
			n.entryLo = entryLo
			return
		}
	}
}

// RemoveByOwner removes every node (primary and chained) belonging to
// owner. onRemove is invoked once per removed node, before the node
// is discarded, so the caller can return each entry's frame to the
// allocator first (as_destroy's "each removed node's frame is
// returned to the allocator before the node itself is freed"). The
// caller must already hold the lock.
func (t *Table) RemoveByOwner(owner registry.ID, onRemove func(vpn, entryLo uintptr)) {
	for i := range t.slots {
		s := &t.slots[i]
		if !s.occupied {
			continue
		}

		// Repeatedly clear the head of the chain while it
		// belongs to owner, promoting the first overflow node
		// into the primary slot.
		for s.occupied && s.owner == owner {
			onRemove(s.vpn, s.entryLo)
			if s.next == nil {
				s.occupied = false
				s.vpn = invalidVPN(i)
				s.entryLo = 0
				s.owner = 0
				break
			}
			head := s.next
			s.vpn = head.vpn
			s.entryLo = head.entryLo
			s.owner = head.owner
			s.next = head.next
			t.nodeCount--
		}
		if !s.occupied {
			continue
		}

		// Walk the remaining chain removing interior nodes. prevNode
		// is nil while n is still the slot's direct successor, since
		// the primary slot is a *slot, not a *node.
		var prevNode *node
		for n := s.next; n != nil; {
			if n.owner == owner {
				onRemove(n.vpn, n.entryLo)
				if prevNode == nil {
					s.next = n.next
				} else {
					prevNode.next = n.next
				}
				n = n.next
				t.nodeCount--
				continue
			}
			prevNode = n
			n = n.next
		}
	}
}

// ForEachOwned visits every occupied node belonging to owner, in
// table order, without removing anything. An address-space copy uses
// this to enumerate the pages it must duplicate. The caller must
// already hold the lock.
func (t *Table) ForEachOwned(owner registry.ID, fn func(vpn, entryLo uintptr)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.occupied && s.owner == owner {
			fn(s.vpn, s.entryLo)
		}
		for n := s.next; n != nil; n = n.next {
			if n.owner == owner {
				fn(n.vpn, n.entryLo)
			}
		}
	}
}

// InsertLocked is a convenience wrapper that acquires the lock,
// inserts, and releases — for call sites (tests, simple callers) that
// do not need to hold the lock across a larger critical section.
func (t *Table) InsertLocked(vpn, entryLo uintptr, owner registry.ID) error {
	t.Lock()
	defer t.Unlock()
	err := t.Insert(vpn, entryLo, owner)
	if err != nil {
		return errors.Wrap(err, "hpt: insert")
	}
	return nil
}

// LookupLocked is the locked convenience wrapper around Lookup.
func (t *Table) LookupLocked(vpn uintptr, owner registry.ID) (uintptr, bool) {
	t.Lock()
	defer t.Unlock()
	return t.Lookup(vpn, owner)
}
