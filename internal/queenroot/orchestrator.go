package queenroot

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cohesix/queenroot/internal/bootinfo"
	"github.com/cohesix/queenroot/internal/bootstrap"
	"github.com/cohesix/queenroot/internal/cachedma"
	"github.com/cohesix/queenroot/internal/capalloc"
	"github.com/cohesix/queenroot/internal/console"
	"github.com/cohesix/queenroot/internal/ipcdispatch"
	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/kernel"
	"github.com/cohesix/queenroot/internal/logging"
	"github.com/cohesix/queenroot/internal/metrics"
	"github.com/cohesix/queenroot/internal/ninedoor"
	"github.com/cohesix/queenroot/internal/ticket"
	"github.com/cohesix/queenroot/internal/virtio"
)

// Orchestrator wires every subsystem package into one running root task,
// the way the teacher's top-level CreateAndServe composes its controller,
// queues, and backend into one served device.
type Orchestrator struct {
	cfg    Config
	logger *logging.Logger
	inv    kernel.Invoker

	seq    *bootstrap.Sequencer
	alloc  *capalloc.Allocator
	seam   *cachedma.Seam
	net    *virtio.Device
	ipc    *ipcdispatch.Dispatcher
	pump   *console.Pump
	tcp    *console.TCPServer
	metrics *metrics.Metrics
}

// Deps carries the handles an Orchestrator cannot construct for itself:
// the kernel invoker, the boot-info snapshot, the CSpace window the
// allocator starts from, and the MMIO windows for the UART and the
// virtio-net device window's probe slots.
type Deps struct {
	Invoker    kernel.Invoker
	BootInfo   bootinfo.BootInfo
	InitCNode  kernel.Cap
	CNodeDepth uint8
	InitTCB    kernel.Cap
	FaultBadge uint64
	UARTMMIO   console.MMIO
	OpenVirtioSlot virtio.SlotOpener
	Bridge     ninedoor.Bridge
}

// New builds an Orchestrator ready to Bootstrap and then Run.
func New(cfg Config, deps Deps) *Orchestrator {
	logger := logging.Default().With("component", "queenroot")

	alloc := capalloc.New(deps.Invoker, deps.InitCNode, deps.CNodeDepth, deps.BootInfo.EmptyStart, deps.BootInfo.EmptyEnd)
	seq := bootstrap.New(deps.Invoker, alloc)

	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		inv:     deps.Invoker,
		seq:     seq,
		alloc:   alloc,
		metrics: metrics.New(),
	}
}

// Bootstrap drives the phase sequencer through to CommitFull, then builds
// the cache/DMA seam over the now-recorded VSpace root. Phases run in
// strict order: the sequencer itself refuses an out-of-order call, so
// there is no concurrency to exploit here. The CSpace-record alias slot
// is drawn from the allocator's own window rather than supplied by the
// caller, since no code outside this package should ever mint a raw
// slot index.
func (o *Orchestrator) Bootstrap(deps Deps, layout bootstrap.MemoryLayout, untypedMinPlan, retypePlan []bootstrap.RetypePlanStep, ipcVaddr uint64, ipcFrame kernel.Cap) error {
	if err := o.seq.RunBootInfoValidate(deps.BootInfo); err != nil {
		return kerr.WrapError("Bootstrap", err)
	}
	if err := o.seq.RunMemoryLayoutBuild(layout); err != nil {
		return kerr.WrapError("Bootstrap", err)
	}
	if err := o.seq.RunBootInfoSnapshot(); err != nil {
		return kerr.WrapError("Bootstrap", err)
	}
	aliasSlot, err := o.alloc.AllocSlot()
	if err != nil {
		return kerr.WrapError("Bootstrap", err)
	}
	if err := o.seq.RunCSpaceRecord(aliasSlot); err != nil {
		return kerr.WrapError("Bootstrap", err)
	}
	if err := o.seq.RunIPCInstall(deps.InitTCB, ipcVaddr, ipcFrame); err != nil {
		return kerr.WrapError("Bootstrap", err)
	}
	chosenUntyped, err := o.seq.RunUntypedPlan(untypedMinPlan)
	if err != nil {
		return kerr.WrapError("Bootstrap", err)
	}
	if err := o.seq.RunRetypeCommit(retypePlan, deps.InitTCB, deps.FaultBadge); err != nil {
		return kerr.WrapError("Bootstrap", err)
	}
	if err := o.seq.RunUserlandHandoff(); err != nil {
		return kerr.WrapError("Bootstrap", err)
	}
	_ = chosenUntyped

	if o.seq.CommitState() != bootstrap.CommitFull {
		o.logger.Warn("bootstrap did not reach full commit, continuing in degraded mode",
			"commit", o.seq.CommitState())
	}

	o.seam = cachedma.New(deps.Invoker, deps.BootInfo.InitVSpace, o.cfg.CachePolicy)

	root, fault, _ := o.seq.Endpoints()
	tcbLookup := func(badge uint64) (kernel.Cap, bool) {
		if badge == deps.FaultBadge {
			return deps.InitTCB, true
		}
		return 0, false
	}
	o.ipc = ipcdispatch.New(deps.Invoker, root, fault, tcbLookup)
	o.ipc.SetHandlersReady(true)

	return nil
}

// StartIO brings up the virtio-net device and the console's TCP listener
// concurrently — the one pair of genuinely independent startup steps this
// root task has — and fails fast if either one fails, mirroring the
// teacher's concurrent-queue-bringup idiom in CreateAndServe.
func (o *Orchestrator) StartIO(ctx context.Context, deps Deps) error {
	dma := newBumpDMAAllocator(o.seam, o.cfg.DMAPoolBase, o.cfg.DMAPoolSize)

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		mmio, _, err := virtio.Probe(o.cfg.MMIOBase, deps.OpenVirtioSlot)
		if err != nil {
			return kerr.WrapError("StartIO.virtio", err)
		}
		dev, err := virtio.Open(mmio, dma)
		if err != nil {
			return kerr.WrapError("StartIO.virtio", err)
		}
		o.net = dev
		return nil
	})

	var tcp *console.TCPServer
	g.Go(func() error {
		tcp = &console.TCPServer{Metrics: o.metrics, Logger: o.logger, IdleTimeout: o.cfg.TCPIdleTimeout}
		if err := tcp.Listen(o.cfg.TCPAddr); err != nil {
			return kerr.WrapError("StartIO.tcp", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	serial := console.NewSerialPort(deps.UARTMMIO)
	validator := ticket.NewValidator(o.cfg.TicketSigningKey, o.cfg.TicketLimits.Resolve(), nowMs)
	login := ticket.NewLoginLimiter(o.cfg.LoginRatePerSecond)
	diag := newRootDiagnostics(o.seq, o.alloc, o.seam)

	cmd := &console.Dispatcher{
		Validator:            validator,
		Login:                login,
		Bridge:               deps.Bridge,
		Diag:                 diag,
		Metrics:              o.metrics,
		Logger:               o.logger,
		NowMs:                nowMs,
		DefaultCacheLogCount: o.cfg.DefaultCacheLogCount,
	}

	o.pump = console.NewPump(serial, o.net, o.ipc, cmd, o.metrics, nowMs, o.cfg.InboundQueueCapacity)
	tcp.Pump = o.pump
	o.tcp = tcp
	o.tcp.Serve()

	return nil
}

// nowMs is the wall-clock source every timestamped component shares.
func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Run pumps the event loop on a fixed tick until ctx is cancelled, then
// tears the console's TCP listener down gracefully.
func (o *Orchestrator) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return o.tcp.Stop()
		case <-ticker.C:
			o.seq.WatchdogObserve()
			o.pump.Tick()
		}
	}
}

// Metrics exposes the orchestrator's counters for the diag CLI path.
func (o *Orchestrator) Metrics() *metrics.Metrics { return o.metrics }
