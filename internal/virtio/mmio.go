// Package virtio implements a modern (non-legacy) virtio-net MMIO driver:
// device probe, feature negotiation, split-virtqueue construction, and the
// RX/TX packet paths built on top of it.
package virtio

import (
	"fmt"

	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/logging"
)

// Register offsets within a virtio-mmio device frame (modern transport).
const (
	RegMagic             = 0x000
	RegVersion           = 0x004
	RegDeviceID          = 0x008
	RegVendorID          = 0x00c
	RegDeviceFeatures    = 0x010
	RegDeviceFeaturesSel = 0x014
	RegDriverFeatures    = 0x020
	RegDriverFeaturesSel = 0x024
	RegQueueSel          = 0x030
	RegQueueNumMax       = 0x034
	RegQueueNum          = 0x038
	RegQueueReady        = 0x044
	RegQueueNotify       = 0x050
	RegInterruptStatus   = 0x060
	RegInterruptAck      = 0x064
	RegStatus            = 0x070
	RegQueueDescLow      = 0x080
	RegQueueDescHigh     = 0x084
	RegQueueAvailLow     = 0x090
	RegQueueAvailHigh    = 0x094
	RegQueueUsedLow      = 0x0a0
	RegQueueUsedHigh     = 0x0a4
	RegConfig            = 0x100
)

// Probe identity constants.
const (
	MagicValue     uint32 = 0x74726976
	ModernVersion  uint32 = 2
	NetDeviceID    uint32 = 1
	ProbeSlots            = 8
	ProbeStride    uint64 = 0x200
)

// Status register bits.
const (
	StatusAcknowledge      uint32 = 1
	StatusDriver           uint32 = 2
	StatusDriverOK         uint32 = 4
	StatusFeaturesOK       uint32 = 8
	StatusDeviceNeedsReset uint32 = 64
	StatusFailed           uint32 = 128
)

// Feature bits this driver ever negotiates.
const (
	FeatureNetMAC   uint64 = 1 << 5
	FeatureVersion1 uint64 = 1 << 32
)

// MMIO is a single virtio device register window. A real implementation
// backs this with an uncached-mapped device frame; Fake backs it with an
// in-memory register file for tests.
type MMIO interface {
	Read32(offset uint64) uint32
	Write32(offset uint64, value uint32)
}

// Identity is what Probe reads out of a candidate slot before deciding
// whether it names a usable virtio-net device.
type Identity struct {
	Magic    uint32
	Version  uint32
	DeviceID uint32
	VendorID uint32
}

func readIdentity(m MMIO) Identity {
	return Identity{
		Magic:    m.Read32(RegMagic),
		Version:  m.Read32(RegVersion),
		DeviceID: m.Read32(RegDeviceID),
		VendorID: m.Read32(RegVendorID),
	}
}

func (id Identity) matches() bool {
	return id.Magic == MagicValue && id.Version == ModernVersion && id.DeviceID == NetDeviceID && id.VendorID != 0
}

// SlotOpener opens an MMIO window at a byte offset from a device-window
// base, standing in for a real uncached mapping of BASE + i*STRIDE.
type SlotOpener func(slotBase uint64) (MMIO, error)

// Probe walks up to ProbeSlots candidate slots at base+i*ProbeStride,
// accepting the first one whose identity registers match a modern
// virtio-net device.
func Probe(base uint64, open SlotOpener) (MMIO, uint64, error) {
	for i := 0; i < ProbeSlots; i++ {
		slotBase := base + uint64(i)*ProbeStride
		m, err := open(slotBase)
		if err != nil {
			continue
		}
		id := readIdentity(m)
		if id.matches() {
			return m, slotBase, nil
		}
	}
	return nil, 0, kerr.NewError("Probe", kerr.CodeNoDevice, fmt.Sprintf("no virtio-net device found in %d slots", ProbeSlots))
}

func defaultLogger() *logging.Logger {
	return logging.Default().With("component", "virtio")
}
