// Package fault implements the TLB-miss fault handler:
// original_source/kern/vm/vm.c's vm_fault, ported step for step. It is
// the one place every collaborator (region lookup, the HPT, the frame
// pool, the TLB, the interrupt-priority guard) is driven together.
package fault

import (
	"context"

	"github.com/pkg/errors"
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

// Kind names why the TLB missed, vm_fault's fault type argument.
type Kind int

const (
	// Read is a load that found no TLB entry.
	Read Kind = iota
	// Write is a store that found no TLB entry.
	Write
	// ReadOnly is a store to a page mapped read-only — always a
	// fault, never resolved by installing a fresh mapping.
	ReadOnly
)

// Deps bundles the collaborators Handle drives. vmcore.Kernel
// satisfies this by construction; fault does not import vmcore to
// avoid a cycle (vmcore imports fault to expose Kernel.Fault).
type Deps struct {
	Table  *hpt.Table
	Frames *frame.Pool
	TLB    *tlb.TLB
	IRQ    *irq.Guard
	OOM    *oom.Channel
	Logger *zap.Logger
	OnOutcome func(outcome string)
}

// Handle resolves one TLB miss for (kind, addr) against as, exactly
// mirroring vm_fault's check order: addr is masked to its page number
// first, and the whole null page (vpn == 0) is always EFAULT,
// regardless of whether some region happens to claim address 0; an
// address at or above USERSTACK is always EINVAL regardless of kind; a
// ReadOnly fault is always EFAULT (a true protection violation, never
// resolved by installing a mapping); an unmapped address (outside
// every region of as) is EFAULT. A resolved fault either finds the
// page already resident in the HPT (write back to the TLB, return
// nil) or allocates and zero-fills a fresh frame, inserts it into the
// HPT, and installs the TLB entry, returning ENOMEM only on
// allocation or insert failure.
func Handle(ctx context.Context, d Deps, as *vmspace.Space, kind Kind, addr uintptr) error {
	vpn := vmconst.VPN(addr)
	if vpn == 0 {
		d.outcome("efault_null")
		return errs.EFAULT
	}
	if addr >= vmconst.UserStack {
		d.outcome("einval_above_userstack")
		return errs.EINVAL
	}
	if kind == ReadOnly {
		d.outcome("efault_readonly")
		return errs.EFAULT
	}
	if kind != Read && kind != Write {
		d.outcome("einval_unknown_kind")
		return errs.EINVAL
	}
	if as == nil {
		d.outcome("efault_no_as")
		return errs.EFAULT
	}

	region, ok := as.Find(addr)
	if !ok {
		d.outcome("efault_unmapped")
		return errs.EFAULT
	}

	ctrl := uintptr(hpt.Valid)
	if region.Mode&vmconst.PermW != 0 {
		ctrl |= hpt.Dirty
	}

	d.Table.Lock()
	defer d.Table.Unlock()

	logger := d.loggerFor(ctx)

	if entryLo, found := d.Table.Lookup(vpn, as.ID()); found {
		d.TLB.WriteRandom(d.IRQ, vpn, entryLo)
		logger.Debug("vm_fault", zap.Uint64("as_id", uint64(as.ID())), zap.Uintptr("vpn", vpn), zap.String("outcome", "hit"))
		d.outcome("hit")
		return nil
	}

	fr, err := d.Frames.AllocZero()
	if err != nil {
		d.publishOOM(1)
		logger.Debug("vm_fault", zap.Uint64("as_id", uint64(as.ID())), zap.Uintptr("vpn", vpn), zap.String("outcome", "enomem_frame"))
		d.outcome("enomem_frame")
		return errors.Wrap(err, "fault: allocate frame")
	}

	entryLo := frame.ToPhys(fr) | ctrl
	if err := d.Table.Insert(vpn, entryLo, as.ID()); err != nil {
		d.Frames.Free(fr)
		d.publishOOM(1)
		logger.Debug("vm_fault", zap.Uint64("as_id", uint64(as.ID())), zap.Uintptr("vpn", vpn), zap.String("outcome", "enomem_insert"))
		d.outcome("enomem_insert")
		return errors.Wrap(err, "fault: insert HPT node")
	}

	d.TLB.WriteRandom(d.IRQ, vpn, entryLo)
	logger.Debug("vm_fault", zap.Uint64("as_id", uint64(as.ID())), zap.Uintptr("vpn", vpn), zap.String("outcome", "miss_resolved"))
	d.outcome("miss_resolved")
	return nil
}

func (d Deps) outcome(s string) {
	if d.OnOutcome != nil {
		d.OnOutcome(s)
	}
}

func (d Deps) publishOOM(need int) {
	if d.OOM != nil {
		d.OOM.Publish(oom.Event{Need: need})
	}
}

// traceIDKey is the context key Handle looks for a caller-supplied
// trace id under, so callers that thread one through context.Context
// get it attached to every log line this handler emits.
type traceIDKey struct{}

// WithTraceID returns a context carrying a trace id for Handle's log
// lines, the idiomatic Go way of passing a request-scoped value
// through context rather than widening Handle's signature.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

func (d Deps) loggerFor(ctx context.Context) *zap.Logger {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if id, ok := ctx.Value(traceIDKey{}).(string); ok && id != "" {
		logger = logger.With(zap.String("trace_id", id))
	}
	return logger
}
