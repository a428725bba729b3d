// Package vmcore is the facade tying every collaborator together:
// the hashed page table, the frame pool, the TLB, the interrupt-
// priority guard, the logger, the metrics and the OOM channel a running
// process needs (address-space ids come from package vmspace's own
// registry). It plays the role vm_bootstrap and the functions that take a
// *proc_t play in original_source/kern/vm/vm.c — one place a caller
// reaches to get at the whole subsystem, mirroring how biscuit's
// kernel wires a single vm.Vm_t per process rather than scattering
// globals.
package vmcore

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"hptvm/internal/fault"
	"hptvm/internal/frame"
	"hptvm/internal/history"
	"hptvm/internal/hpt"
	"hptvm/internal/irq"
	"hptvm/internal/oom"
	"hptvm/internal/tlb"
	"hptvm/internal/vmconst"
	"hptvm/internal/vmspace"
)

// historyCapacity bounds the in-memory fault ring a Kernel keeps for
// diagnostics. It is deliberately small: this is a teaching aid, not
// an audit log.
const historyCapacity = 256

// Kernel bundles every collaborator a running simulation needs.
// Construct with Bootstrap.
type Kernel struct {
	Table   *hpt.Table
	Frames  *frame.Pool
	TLB     *tlb.TLB
	IRQ     *irq.Guard
	Logger  *zap.Logger
	Metrics *Metrics
	OOM     *oom.Channel
	History *history.Ring
}

// RecentFaults returns the most recent fault outcomes recorded for
// this Kernel, oldest first.
func (k *Kernel) RecentFaults() []history.Record {
	return k.History.Snapshot()
}

// Metrics is the Prometheus registry for the counters this subsystem
// exposes: fault outcomes, free frames, frame-pool exhaustion. It is
// the structured-data descendant of biscuit's ad hoc stats.Counter_t
// (stats/stats.go).
type Metrics struct {
	Registry     *prometheus.Registry
	FaultsTotal  *prometheus.CounterVec
	FramesFree   prometheus.Gauge
	OOMEvents    prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		FaultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hptvm",
			Name:      "faults_total",
			Help:      "Page faults handled, partitioned by outcome.",
		}, []string{"outcome"}),
		FramesFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hptvm",
			Name:      "frames_free",
			Help:      "Physical frames currently unallocated.",
		}),
		OOMEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hptvm",
			Name:      "oom_events_total",
			Help:      "Frame pool exhaustion events.",
		}),
	}
	reg.MustRegister(m.FaultsTotal, m.FramesFree, m.OOMEvents)
	return m
}

// Option configures Bootstrap. Keep this small; most callers need
// only the defaults.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	nodeBudget int
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNodeBudget bounds the number of HPT overflow-chain nodes that
// may ever be live at once, giving Insert a genuine, testable ENOMEM
// path. Zero (the default) means unbounded.
func WithNodeBudget(n int) Option {
	return func(o *options) { o.nodeBudget = n }
}

// Bootstrap sizes H = ramSize/PageSize, allocates and
// zero-initialises the HPT, and wires the frame pool, TLB, IRQ guard,
// logger, metrics registry and OOM channel into one Kernel. A failed
// HPT allocation panics: original_source/kern/vm/vm.c's vm_bootstrap
// tolerates hpt==NULL and limps along with a non-functional VM layer,
// but a simulation with no real fallback path has nothing useful to
// do after that, so it panics loudly instead.
func Bootstrap(ramSize int, opts ...Option) (*Kernel, error) {
	cfg := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	frames := frame.NewPool(ramSize)
	h := frames.NumFrames()
	var table *hpt.Table
	if cfg.nodeBudget > 0 {
		table = hpt.NewBounded(h, cfg.nodeBudget)
	} else {
		table = hpt.New(h)
	}

	metrics := newMetrics()
	metrics.FramesFree.Set(float64(frames.Avail()))

	k := &Kernel{
		Table:   table,
		Frames:  frames,
		TLB:     tlb.New(),
		IRQ:     &irq.Guard{},
		Logger:  cfg.logger,
		Metrics: metrics,
		OOM:     oom.New(),
		History: history.NewRing(historyCapacity),
	}
	k.Logger.Info("vm_bootstrap", zap.Int("ram_bytes", ramSize), zap.Int("hpt_slots", h))
	return k, nil
}

// Copy is the Kernel-facade wrapper around vmspace.Copy, the Go shape
// for as_copy.
func (k *Kernel) Copy(old *vmspace.Space) (*vmspace.Space, error) {
	return vmspace.Copy(k.Frames, k.Table, k.Logger, old)
}

// Destroy is the Kernel-facade wrapper around vmspace.Destroy, the Go
// shape for as_destroy.
func (k *Kernel) Destroy(as *vmspace.Space) {
	vmspace.Destroy(k.Frames, k.Table, as)
	k.Metrics.FramesFree.Set(float64(k.Frames.Avail()))
	k.Logger.Info("as_destroy", zap.Uint64("as_id", uint64(as.ID())))
}

// Activate invalidates every TLB entry, the Go shape for as_activate.
func (k *Kernel) Activate(as *vmspace.Space) {
	k.TLB.InvalidateAll(k.IRQ)
	k.Logger.Debug("as_activate", zap.Uint64("as_id", uint64(as.ID())))
}

// TLBShootdown panics unconditionally: this is a single-CPU
// simulation, so there is never another CPU's TLB to shoot down,
// matching original_source/kern/vm/vm.c's vm_tlbshootdown.
func (k *Kernel) TLBShootdown(any) {
	panic("vmcore: tlb shootdown on a single-CPU model")
}

// Fault resolves one TLB miss against as, the Go shape for vm_fault.
func (k *Kernel) Fault(ctx context.Context, as *vmspace.Space, kind fault.Kind, addr uintptr) error {
	var asid uint64
	if as != nil {
		asid = uint64(as.ID())
	}
	deps := fault.Deps{
		Table:  k.Table,
		Frames: k.Frames,
		TLB:    k.TLB,
		IRQ:    k.IRQ,
		OOM:    k.OOM,
		Logger: k.Logger,
		OnOutcome: func(outcome string) {
			k.Metrics.FaultsTotal.WithLabelValues(outcome).Inc()
			if outcome == "enomem_frame" || outcome == "enomem_insert" {
				k.Metrics.OOMEvents.Inc()
			}
			k.Metrics.FramesFree.Set(float64(k.Frames.Avail()))
			k.History.Push(history.Record{ASID: asid, VPN: vmconst.VPN(addr), Outcome: outcome})
		},
	}
	return fault.Handle(ctx, deps, as, kind, addr)
}
