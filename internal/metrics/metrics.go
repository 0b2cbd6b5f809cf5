// Package metrics tracks operational counters for the virtio-net driver and
// the console event pump, exposed as atomic counters with point-in-time
// snapshots the way the teacher's device metrics package does.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics aggregates driver- and pump-level counters for one root-task
// instance. All fields are safe for concurrent use; the pump and the driver
// poll loop run on the same goroutine, but the TCP server's accept and
// per-connection goroutines (internal/console) also touch these counters.
type Metrics struct {
	// Driver (virtio-net) counters.
	RXFrames  atomic.Uint64
	TXFrames  atomic.Uint64
	RXDrops   atomic.Uint64
	TXDrops   atomic.Uint64
	LinkResets atomic.Uint64

	// Event pump counters.
	TimerTicks        atomic.Uint64
	BootstrapMessages atomic.Uint64
	AcceptedCommands  atomic.Uint64
	DeniedCommands    atomic.Uint64
	UIReads           atomic.Uint64
	UIDenies          atomic.Uint64

	// IPC dispatcher counters.
	FaultMessages     atomic.Uint64
	InvalidFaultLayouts atomic.Uint64
	HeartbeatReplies  atomic.Uint64

	// Console transport counters.
	TCPAccepts   atomic.Uint64
	TCPTxDrops   atomic.Uint64
	AuthFailures atomic.Uint64

	StartTime atomic.Int64
}

// New returns a Metrics with StartTime set to now.
func New() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Snapshot is a point-in-time copy of every counter, safe to log or render
// without further synchronization.
type Snapshot struct {
	RXFrames   uint64
	TXFrames   uint64
	RXDrops    uint64
	TXDrops    uint64
	LinkResets uint64

	TimerTicks        uint64
	BootstrapMessages uint64
	AcceptedCommands  uint64
	DeniedCommands    uint64
	UIReads           uint64
	UIDenies          uint64

	FaultMessages       uint64
	InvalidFaultLayouts uint64
	HeartbeatReplies    uint64

	TCPAccepts   uint64
	TCPTxDrops   uint64
	AuthFailures uint64

	UptimeNs uint64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RXFrames:   m.RXFrames.Load(),
		TXFrames:   m.TXFrames.Load(),
		RXDrops:    m.RXDrops.Load(),
		TXDrops:    m.TXDrops.Load(),
		LinkResets: m.LinkResets.Load(),

		TimerTicks:        m.TimerTicks.Load(),
		BootstrapMessages: m.BootstrapMessages.Load(),
		AcceptedCommands:  m.AcceptedCommands.Load(),
		DeniedCommands:    m.DeniedCommands.Load(),
		UIReads:           m.UIReads.Load(),
		UIDenies:          m.UIDenies.Load(),

		FaultMessages:       m.FaultMessages.Load(),
		InvalidFaultLayouts: m.InvalidFaultLayouts.Load(),
		HeartbeatReplies:    m.HeartbeatReplies.Load(),

		TCPAccepts:   m.TCPAccepts.Load(),
		TCPTxDrops:   m.TCPTxDrops.Load(),
		AuthFailures: m.AuthFailures.Load(),

		UptimeNs: uint64(time.Since(time.Unix(0, m.StartTime.Load())).Nanoseconds()),
	}
}
