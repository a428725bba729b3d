// Package irq simulates interrupt-priority control. Real hardware
// raises IPL to splhigh around a TLB write so the write cannot be
// preempted mid-instruction (the pattern appears throughout biscuit's
// vm/as.go, e.g. Tlbshoot, and in
// original_source/kern/vm/{addrspace,vm}.c's as_activate/vm_fault).
// Since this is a single-process simulation with no real interrupts,
// "raised to high priority" is modelled as holding a dedicated mutex
// for the duration of the TLB write — it serializes simulated TLB
// writers against each other exactly as splhigh serializes against a
// real interrupt handler on the same CPU.
package irq

import "sync"

// Guard raises the simulated interrupt priority level until released.
type Guard struct {
	mu sync.Mutex
}

// Raise raises priority and returns a function that lowers it again.
// Callers are expected to defer the returned function, mirroring
// spl := splhigh(); defer splx(spl) in biscuit's code.
func (g *Guard) Raise() (release func()) {
	g.mu.Lock()
	return g.mu.Unlock
}
