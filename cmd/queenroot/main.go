// Command queenroot is the root task binary: it bootstraps the
// capability-space, brings up the virtio-net driver and serial/TCP
// console, then pumps the event loop until signaled.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cohesix/queenroot/internal/bootinfo"
	"github.com/cohesix/queenroot/internal/bootstrap"
	"github.com/cohesix/queenroot/internal/kernel"
	"github.com/cohesix/queenroot/internal/logging"
	"github.com/cohesix/queenroot/internal/ninedoor"
	"github.com/cohesix/queenroot/internal/queenroot"
)

// flagSet mirrors queenroot.Config's fields one-for-one, the way the
// teacher's DeviceParams fields are bound individually in main().
type flagSet struct {
	mmioBase    uint64
	uartBase    uint64
	dmaBase     uint64
	dmaSize     uint64
	tcpAddr     string
	tcpIdle     time.Duration
	loginRate   float64
	cacheLogN   int
	inboundCap  int
	verbose     bool

	emptyStart uint64
	emptyEnd   uint64

	heapStart, heapEnd         uint64
	stackStart, stackEnd       uint64
	bootInfoStart, bootInfoEnd uint64
	devicePTStart, devicePTEnd uint64
	ipcVaddr                   uint64
	ipcFrameCap                uint64
}

func main() {
	fs := &flagSet{}

	root := &cobra.Command{
		Use:   "queenroot",
		Short: "Capability microkernel root task control plane",
		Long: `queenroot bootstraps a seL4-style root task: it validates boot-info,
carves the memory layout, installs the IPC buffer, retypes the core
objects, then brings up the virtio-net driver and serial/TCP console
and pumps the event loop until signaled.`,
	}

	bindConfigFlags(root.PersistentFlags(), fs)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run bootstrap then the event pump until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), fs)
		},
	}

	diagCmd := &cobra.Command{Use: "diag", Short: "diagnostics and dry-run checks"}
	diagBootInfoCmd := &cobra.Command{
		Use:   "bootinfo",
		Short: "validate boot-info and dump its summary without bootstrapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagBootInfo(fs)
		},
	}
	diagCmd.AddCommand(diagBootInfoCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("queenroot (dev)")
		},
	}

	root.AddCommand(serveCmd, diagCmd, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bindConfigFlags(flags interface {
	Uint64Var(*uint64, string, uint64, string)
	StringVar(*string, string, string, string)
	DurationVar(*time.Duration, string, time.Duration, string)
	Float64Var(*float64, string, float64, string)
	IntVar(*int, string, int, string)
	BoolVar(*bool, string, bool, string)
}, fs *flagSet) {
	def := queenroot.DefaultConfig()

	flags.Uint64Var(&fs.mmioBase, "mmio-base", def.MMIOBase, "virtio device window base address")
	flags.Uint64Var(&fs.uartBase, "uart-base", def.UARTBase, "PL011 UART device frame base address")
	flags.Uint64Var(&fs.dmaBase, "dma-pool-base", def.DMAPoolBase, "DMA frame pool base address")
	flags.Uint64Var(&fs.dmaSize, "dma-pool-size", def.DMAPoolSize, "DMA frame pool size in bytes")
	flags.StringVar(&fs.tcpAddr, "tcp-addr", def.TCPAddr, "console TCP listen address")
	flags.DurationVar(&fs.tcpIdle, "tcp-idle-timeout", def.TCPIdleTimeout, "console connection idle timeout")
	flags.Float64Var(&fs.loginRate, "login-rate", def.LoginRatePerSecond, "ATTACH attempts accepted per second")
	flags.IntVar(&fs.cacheLogN, "cachelog-default-count", def.DefaultCacheLogCount, "default `cachelog` record count")
	flags.IntVar(&fs.inboundCap, "inbound-queue-capacity", def.InboundQueueCapacity, "per-pump-cycle inbound line queue capacity")
	flags.BoolVar(&fs.verbose, "verbose", false, "enable debug logging")

	flags.Uint64Var(&fs.emptyStart, "bootinfo-empty-start", 0, "boot-info empty CSpace window start (overrides discovered value)")
	flags.Uint64Var(&fs.emptyEnd, "bootinfo-empty-end", 0, "boot-info empty CSpace window end (overrides discovered value)")

	flags.Uint64Var(&fs.heapStart, "layout-heap-start", 0x10000000, "memory layout heap range start")
	flags.Uint64Var(&fs.heapEnd, "layout-heap-end", 0x20000000, "memory layout heap range end")
	flags.Uint64Var(&fs.stackStart, "layout-stack-start", 0x20000000, "memory layout stack range start")
	flags.Uint64Var(&fs.stackEnd, "layout-stack-end", 0x20100000, "memory layout stack range end")
	flags.Uint64Var(&fs.bootInfoStart, "layout-bootinfo-start", 0x30000000, "memory layout boot-info range start")
	flags.Uint64Var(&fs.bootInfoEnd, "layout-bootinfo-end", 0x30010000, "memory layout boot-info range end")
	flags.Uint64Var(&fs.devicePTStart, "layout-device-pt-start", 0x38000000, "memory layout device page-table range start")
	flags.Uint64Var(&fs.devicePTEnd, "layout-device-pt-end", 0x38100000, "memory layout device page-table range end")
	flags.Uint64Var(&fs.ipcVaddr, "ipc-vaddr", 0x3f000000, "IPC buffer frame virtual address")
	flags.Uint64Var(&fs.ipcFrameCap, "ipc-frame-cap", 0, "IPC buffer frame capability slot index")
}

func (fs *flagSet) toConfig() queenroot.Config {
	cfg := queenroot.DefaultConfig()
	cfg.MMIOBase = fs.mmioBase
	cfg.UARTBase = fs.uartBase
	cfg.DMAPoolBase = fs.dmaBase
	cfg.DMAPoolSize = fs.dmaSize
	cfg.TCPAddr = fs.tcpAddr
	cfg.TCPIdleTimeout = fs.tcpIdle
	cfg.LoginRatePerSecond = fs.loginRate
	cfg.DefaultCacheLogCount = fs.cacheLogN
	cfg.InboundQueueCapacity = fs.inboundCap
	return cfg
}

// runServe wires an Orchestrator and pumps it until SIGINT/SIGTERM,
// mirroring the teacher's cancel-then-timeout shutdown idiom.
func runServe(ctx context.Context, fs *flagSet) error {
	logConfig := logging.DefaultConfig()
	if fs.verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inv := kernel.NewSel4Invoker()

	bi, err := discoverBootInfo(fs)
	if err != nil {
		return fmt.Errorf("discover boot-info: %w", err)
	}

	uartMMIO, err := queenroot.OpenUARTWindow(fs.uartBase)
	if err != nil {
		return fmt.Errorf("open uart window: %w", err)
	}

	deps := queenroot.Deps{
		Invoker:        inv,
		BootInfo:       bi,
		InitCNode:      bi.InitCNode,
		CNodeDepth:     bi.InitCNodeBits,
		InitTCB:        bi.InitTCB,
		FaultBadge:     1,
		UARTMMIO:       uartMMIO,
		OpenVirtioSlot: queenroot.VirtioSlotOpener(),
		Bridge:         ninedoor.NewStub(),
	}

	orc := queenroot.New(fs.toConfig(), deps)

	logger.Info("queenroot starting", "tcp_addr", fs.tcpAddr, "mmio_base", fmt.Sprintf("%#x", fs.mmioBase))

	layout := bootstrap.MemoryLayout{
		HeapStart:     fs.heapStart,
		HeapEnd:       fs.heapEnd,
		StackStart:    fs.stackStart,
		StackEnd:      fs.stackEnd,
		BootInfoStart: fs.bootInfoStart,
		BootInfoEnd:   fs.bootInfoEnd,
		DevicePTStart: fs.devicePTStart,
		DevicePTEnd:   fs.devicePTEnd,
	}

	// The minimum plan sized against what RetypeCommit itself always
	// consumes (one Notification, two Endpoints); callers with extra
	// per-deployment objects to retype would extend retypePlan below.
	untypedMinPlan := []bootstrap.RetypePlanStep{
		{Type: kernel.ObjectNotification, SizeBits: 4, Count: 1},
		{Type: kernel.ObjectEndpoint, SizeBits: 4, Count: 2},
	}
	var retypePlan []bootstrap.RetypePlanStep

	if err := orc.Bootstrap(deps, layout, untypedMinPlan, retypePlan, fs.ipcVaddr, kernel.Cap(fs.ipcFrameCap)); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := orc.StartIO(ctx, deps); err != nil {
		return fmt.Errorf("start io: %w", err)
	}

	logger.Info("entering event pump, press Ctrl+C to stop")

	runDone := make(chan error, 1)
	go func() { runDone <- orc.Run(ctx, 10*time.Millisecond) }()

	<-ctx.Done()
	logger.Info("received shutdown signal")

	select {
	case err := <-runDone:
		if err != nil {
			logger.Error("error during shutdown", "error", err)
		} else {
			logger.Info("event pump stopped successfully")
		}
	case <-time.After(1 * time.Second):
		logger.Info("cleanup timeout, forcing exit")
	}

	return nil
}

func runDiagBootInfo(fs *flagSet) error {
	bi, err := discoverBootInfo(fs)
	if err != nil {
		return fmt.Errorf("discover boot-info: %w", err)
	}
	if err := bi.Validate(); err != nil {
		return fmt.Errorf("boot-info validation failed: %w", err)
	}
	out, err := json.MarshalIndent(bi.Summary(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// discoverBootInfo builds the boot-info snapshot from flag-provided
// overrides. A real deployment's launch glue hands this structure to the
// root task directly from the kernel; the flags here exist so `diag
// bootinfo` and integration harnesses can exercise validation without
// that glue.
func discoverBootInfo(fs *flagSet) (bootinfo.BootInfo, error) {
	if fs.emptyEnd <= fs.emptyStart {
		return bootinfo.BootInfo{}, fmt.Errorf("bootinfo-empty-end must exceed bootinfo-empty-start")
	}
	return bootinfo.BootInfo{
		NodeID:        0,
		NumNodes:      1,
		InitCNodeBits: 12,
		EmptyStart:    fs.emptyStart,
		EmptyEnd:      fs.emptyEnd,
	}, nil
}
