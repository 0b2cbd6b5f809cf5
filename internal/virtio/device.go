package virtio

import (
	"fmt"

	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/logging"
)

// DefaultQueueSize is the requested RX/TX ring size before device clamping.
const DefaultQueueSize = 16

// NetHeaderSize is the virtio-net per-packet header every RX/TX buffer
// carries ahead of the Ethernet payload.
const NetHeaderSize = 12

// MaxFrameSize bounds one Ethernet frame this driver will hand upward or
// accept for transmit, header excluded.
const MaxFrameSize = 1514

// DMAAllocator hands out 4 KiB-aligned DMA frames with distinct physical
// addresses, the way the cache/DMA seam's Pin is meant to be fed.
type DMAAllocator interface {
	AllocFrame(label string) (vaddr uint64, paddr uint64, frame []byte, err error)
}

const (
	rxQueueIndex = 0
	txQueueIndex = 1
)

// ringState is one constructed RX or TX virtqueue plus its backing frame
// addresses, used both to program the device and to drive the packet path.
type ringState struct {
	queue  *Queue
	paddr  uint64
	size   uint64
	free   []uint16 // TX free-list of descriptor indices; unused for RX
	rxBufs [][]byte // per-descriptor RX buffer, indexed by descriptor index
	txBufs [][]byte
}

// Device is a negotiated, queue-ready virtio-net device.
type Device struct {
	mmio   MMIO
	dma    DMAAllocator
	logger *logging.Logger

	mac      [6]byte
	haveMAC  bool
	features uint64

	rx *ringState
	tx *ringState

	txDrops uint64
}

// Open runs the full RESET→ACK→ACK|DRIVER→negotiate→FEATURES_OK→program
// queues→DRIVER_OK sequence, aborting to FAILED on any rejected check.
func Open(m MMIO, dma DMAAllocator) (*Device, error) {
	d := &Device{mmio: m, dma: dma, logger: defaultLogger()}

	m.Write32(RegStatus, 0) // RESET
	m.Write32(RegStatus, StatusAcknowledge)
	m.Write32(RegStatus, StatusAcknowledge|StatusDriver)

	if err := d.negotiateFeatures(); err != nil {
		d.fail()
		return nil, err
	}

	m.Write32(RegStatus, StatusAcknowledge|StatusDriver|StatusFeaturesOK)
	if m.Read32(RegStatus)&StatusFeaturesOK == 0 {
		d.fail()
		return nil, kerr.NewError("Open", kerr.CodeNoQueue, "device rejected FEATURES_OK")
	}

	rx, err := d.buildQueue(rxQueueIndex, "virtio-rx")
	if err != nil {
		d.fail()
		return nil, err
	}
	d.rx = rx

	tx, err := d.buildQueue(txQueueIndex, "virtio-tx")
	if err != nil {
		d.fail()
		return nil, err
	}
	if tx.paddr == rx.paddr {
		d.fail()
		return nil, kerr.NewError("Open", kerr.CodeFatal, "rx and tx frames share a physical address")
	}
	d.tx = tx
	d.initFreeList()

	m.Write32(RegStatus, StatusAcknowledge|StatusDriver|StatusFeaturesOK|StatusDriverOK)

	d.postAllRX()
	return d, nil
}

func (d *Device) fail() {
	d.mmio.Write32(RegStatus, StatusFailed)
}

func readFeatures(m MMIO) uint64 {
	m.Write32(RegDeviceFeaturesSel, 0)
	lo := m.Read32(RegDeviceFeatures)
	m.Write32(RegDeviceFeaturesSel, 1)
	hi := m.Read32(RegDeviceFeatures)
	return uint64(lo) | uint64(hi)<<32
}

func writeFeatures(m MMIO, features uint64) {
	m.Write32(RegDriverFeaturesSel, 0)
	m.Write32(RegDriverFeatures, uint32(features))
	m.Write32(RegDriverFeaturesSel, 1)
	m.Write32(RegDriverFeatures, uint32(features>>32))
}

func (d *Device) negotiateFeatures() error {
	host := readFeatures(d.mmio)
	if host&FeatureVersion1 == 0 {
		return kerr.NewError("negotiateFeatures", kerr.CodeNoQueue, "device does not offer VERSION_1")
	}
	guest := host & (FeatureVersion1 | FeatureNetMAC)
	writeFeatures(d.mmio, guest)
	d.features = guest
	d.haveMAC = guest&FeatureNetMAC != 0
	if d.haveMAC {
		cfg := d.mmio.Read32(RegConfig)
		cfg2 := d.mmio.Read32(RegConfig + 4)
		d.mac = [6]byte{
			byte(cfg), byte(cfg >> 8), byte(cfg >> 16), byte(cfg >> 24),
			byte(cfg2), byte(cfg2 >> 8),
		}
	}
	return nil
}

// buildQueue runs queue construction for one of RX/TX: size negotiation,
// frame allocation, layout programming, and readiness confirmation,
// recomputing the layout if the device clamps the requested size.
func (d *Device) buildQueue(index uint32, label string) (*ringState, error) {
	m := d.mmio
	m.Write32(RegQueueSel, index)

	maxSize := uint64(m.Read32(RegQueueNumMax))
	if maxSize == 0 {
		return nil, kerr.NewError("buildQueue", kerr.CodeNoQueue, fmt.Sprintf("queue %d unavailable (QueueNumMax=0)", index))
	}
	requested := minU64(maxSize, DefaultQueueSize)

	var vaddr, paddr uint64
	var frame []byte
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		vaddr, paddr, frame, err = d.dma.AllocFrame(label)
		if err != nil {
			return nil, kerr.WrapError("buildQueue", err)
		}
		if d.rx == nil || paddr != d.rx.paddr {
			break
		}
	}
	if err != nil {
		return nil, kerr.WrapError("buildQueue", err)
	}

	layout := ComputeLayout(requested)
	if err := layout.Validate(uint64(len(frame))); err != nil {
		return nil, err
	}

	programQueue := func(l Layout) error {
		m.Write32(RegQueueDescLow, uint32(paddr+l.DescOffset))
		m.Write32(RegQueueDescHigh, uint32((paddr+l.DescOffset)>>32))
		m.Write32(RegQueueAvailLow, uint32(paddr+l.AvailOffset))
		m.Write32(RegQueueAvailHigh, uint32((paddr+l.AvailOffset)>>32))
		m.Write32(RegQueueUsedLow, uint32(paddr+l.UsedOffset))
		m.Write32(RegQueueUsedHigh, uint32((paddr+l.UsedOffset)>>32))
		m.Write32(RegQueueNum, uint32(l.Size))
		return nil
	}

	if err := programQueue(layout); err != nil {
		return nil, err
	}

	readBack := uint64(m.Read32(RegQueueNum))
	if readBack == 0 || readBack > maxSize {
		return nil, kerr.NewError("buildQueue", kerr.CodeNoQueue, "device returned invalid QueueNum readback")
	}
	if readBack != requested {
		layout = ComputeLayout(readBack)
		if err := layout.Validate(uint64(len(frame))); err != nil {
			return nil, err
		}
		if err := programQueue(layout); err != nil {
			return nil, err
		}
	}

	queue, err := NewQueue(frame, layout)
	if err != nil {
		return nil, err
	}

	memoryBarrier()
	m.Write32(RegQueueReady, 1)
	if m.Read32(RegQueueReady) != 1 {
		return nil, kerr.NewError("buildQueue", kerr.CodeNoQueue, "device did not confirm QueueReady")
	}

	rs := &ringState{queue: queue, paddr: paddr, size: layout.Size}
	_ = vaddr
	return rs, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// memoryBarrier is a compiler-ordering point around MMIO register
// programming; the interface call boundary already prevents the Go
// compiler from reordering across it, so this documents the requirement
// rather than emitting an instruction.
func memoryBarrier() {}

// MAC reports the negotiated MAC address, if NET_F_MAC was offered.
func (d *Device) MAC() ([6]byte, bool) { return d.mac, d.haveMAC }

// Features reports the negotiated feature bitmap.
func (d *Device) Features() uint64 { return d.features }

// TXDrops reports how many transmits were dropped for lack of a free
// descriptor.
func (d *Device) TXDrops() uint64 { return d.txDrops }
