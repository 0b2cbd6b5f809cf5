// Package queenroot wires every subsystem package into one running root
// task: boot-info validation, bootstrap phase sequencing, the cache/DMA
// seam, the virtio-net driver, the IPC dispatcher, and the serial/TCP
// console, the way the teacher's top-level ublk.CreateAndServe composes
// its controller, queues, and backend into one served device.
package queenroot

import (
	"time"

	"github.com/cohesix/queenroot/internal/cachedma"
	"github.com/cohesix/queenroot/internal/ticket"
)

// Config collects every deployment-tunable knob named across spec.md's
// component sections, flattened into one struct the way the teacher's
// DeviceParams flattens queue depth, block size, and feature toggles.
type Config struct {
	// CachePolicy controls the cache/DMA seam's kernel-ops and pin/unpin
	// maintenance pairing (spec §4.1).
	CachePolicy cachedma.Policy `json:"cache_policy"`

	// MMIOBase is the device-window base address virtio.Probe walks
	// ProbeSlots candidates from, each ProbeStride bytes apart (spec §4.4).
	MMIOBase uint64 `json:"mmio_base"`

	// UARTBase is the PL011 UART's 4 KiB device frame base (spec §6).
	UARTBase uint64 `json:"uart_base"`

	// DMAPoolBase and DMAPoolSize bound the bump allocator backing the
	// virtio driver's RX/TX frames and the bootstrap IPC buffer frame.
	DMAPoolBase uint64 `json:"dma_pool_base"`
	DMAPoolSize uint64 `json:"dma_pool_size"`

	// TCPAddr is the console's fixed TCP listen address (spec §4.8).
	TCPAddr string `json:"tcp_addr"`
	// TCPIdleTimeout bounds both the pre-attach and post-attach idle
	// window before a connection is forcibly closed (spec §4.8).
	TCPIdleTimeout time.Duration `json:"tcp_idle_timeout"`
	// TCPOutboundQueue records the per-connection outbound line queue size;
	// its default matches the TCP server's fixed queue of 64 lines. The
	// server does not read this field, so changing it does not resize the
	// queue.
	TCPOutboundQueue int `json:"tcp_outbound_queue"`

	// LoginRatePerSecond bounds how often an ATTACH attempt may be
	// accepted across the whole parser, independent of the per-session
	// AuthThrottle backoff (spec §4.5).
	LoginRatePerSecond float64 `json:"login_rate_per_second"`

	// TicketLimits bounds what any single ticket's claims may request;
	// see internal/ticket.DefaultLimits for the conservative baseline.
	TicketLimits TicketLimitsConfig `json:"ticket_limits"`

	// TicketSigningKey verifies ticket JWTs (spec §4.6, §6). Deployments
	// must override this; the zero value only suits tests.
	TicketSigningKey []byte `json:"-"`

	// DefaultCacheLogCount is how many ring records `cachelog` returns
	// when the caller does not specify a count.
	DefaultCacheLogCount int `json:"default_cachelog_count"`

	// InboundQueueCapacity bounds how many net-connection lines may queue
	// between pump cycles before a connection's reader goroutine blocks.
	InboundQueueCapacity int `json:"inbound_queue_capacity"`
}

// TicketLimitsConfig mirrors internal/ticket.Limits with struct tags for
// flag/JSON binding; Resolve converts it to the ticket package's type.
type TicketLimitsConfig struct {
	MaxScopes        int    `json:"max_scopes"`
	MaxScopePathLen  int    `json:"max_scope_path_len"`
	MaxScopeRatePerS uint32 `json:"max_scope_rate_per_s"`
	BandwidthBytes   uint64 `json:"bandwidth_bytes"`
	CursorResumes    uint32 `json:"cursor_resumes"`
	CursorAdvances   uint32 `json:"cursor_advances"`
}

// Resolve converts the struct-tagged config shape to internal/ticket's
// Limits type.
func (c TicketLimitsConfig) Resolve() ticket.Limits {
	return ticket.Limits{
		MaxScopes:        c.MaxScopes,
		MaxScopePathLen:  c.MaxScopePathLen,
		MaxScopeRatePerS: c.MaxScopeRatePerS,
		BandwidthBytes:   c.BandwidthBytes,
		CursorResumes:    c.CursorResumes,
		CursorAdvances:   c.CursorAdvances,
	}
}

// DefaultConfig returns the conservative defaults a fresh deployment
// starts from, mirroring the teacher's DefaultParams/DefaultDeviceParams
// constructor pattern.
func DefaultConfig() Config {
	return Config{
		CachePolicy:          cachedma.DefaultPolicy(),
		MMIOBase:             0x0a000000,
		UARTBase:             0x09000000,
		DMAPoolBase:          0x40000000,
		DMAPoolSize:          16 << 20,
		TCPAddr:              ":8023",
		TCPIdleTimeout:       5 * time.Minute,
		TCPOutboundQueue:     64,
		LoginRatePerSecond:   1.0,
		TicketLimits: TicketLimitsConfig{
			MaxScopes:        16,
			MaxScopePathLen:  256,
			MaxScopeRatePerS: 1000,
		},
		DefaultCacheLogCount: 32,
		InboundQueueCapacity: 256,
	}
}
