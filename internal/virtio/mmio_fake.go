package virtio

// FakeMMIO is an in-memory virtio-mmio register file for tests: a modern
// virtio-net identity, negotiable features, and queue registers that
// optionally clamp QueueNum to simulate a device-imposed size limit.
type FakeMMIO struct {
	Identity Identity

	hostFeatures   uint64
	featuresSelLo  bool
	driverFeatures uint64

	status uint32
	config [8]uint32

	queueSel     uint32
	queueNumMax  map[uint32]uint32
	queueNum     map[uint32]uint32
	queueReady   map[uint32]uint32
	descAddr     map[uint32]uint64
	availAddr    map[uint32]uint64
	usedAddr     map[uint32]uint64
	notified     []uint32
	ClampQueueTo uint32 // if non-zero, QueueNum readback never exceeds this
}

// NewFakeMMIO returns a modern virtio-net identity with VERSION_1 and
// NET_F_MAC offered and both queues able to grow to maxQueueSize.
func NewFakeMMIO(maxQueueSize uint32) *FakeMMIO {
	return &FakeMMIO{
		Identity: Identity{
			Magic:    MagicValue,
			Version:  ModernVersion,
			DeviceID: NetDeviceID,
			VendorID: 0x1af4,
		},
		hostFeatures: FeatureVersion1 | FeatureNetMAC,
		queueNumMax:  map[uint32]uint32{0: maxQueueSize, 1: maxQueueSize},
		queueNum:     map[uint32]uint32{},
		queueReady:   map[uint32]uint32{},
		descAddr:     map[uint32]uint64{},
		availAddr:    map[uint32]uint64{},
		usedAddr:     map[uint32]uint64{},
	}
}

func (f *FakeMMIO) Read32(offset uint64) uint32 {
	switch offset {
	case RegMagic:
		return f.Identity.Magic
	case RegVersion:
		return f.Identity.Version
	case RegDeviceID:
		return f.Identity.DeviceID
	case RegVendorID:
		return f.Identity.VendorID
	case RegDeviceFeatures:
		if f.featuresSelLo {
			return uint32(f.hostFeatures)
		}
		return uint32(f.hostFeatures >> 32)
	case RegQueueNumMax:
		return f.queueNumMax[f.queueSel]
	case RegQueueNum:
		n := f.queueNum[f.queueSel]
		if f.ClampQueueTo != 0 && n > f.ClampQueueTo {
			return f.ClampQueueTo
		}
		return n
	case RegQueueReady:
		return f.queueReady[f.queueSel]
	case RegStatus:
		return f.status
	case RegConfig, RegConfig + 4:
		return f.config[(offset-RegConfig)/4]
	default:
		return 0
	}
}

func (f *FakeMMIO) Write32(offset uint64, value uint32) {
	switch offset {
	case RegStatus:
		f.status = value
	case RegDeviceFeaturesSel:
		f.featuresSelLo = value == 0
	case RegDriverFeaturesSel:
		f.featuresSelLo = value == 0
	case RegDriverFeatures:
		if f.featuresSelLo {
			f.driverFeatures = (f.driverFeatures &^ 0xffffffff) | uint64(value)
		} else {
			f.driverFeatures = (f.driverFeatures & 0xffffffff) | uint64(value)<<32
		}
	case RegQueueSel:
		f.queueSel = value
	case RegQueueNum:
		n := value
		if f.ClampQueueTo != 0 && n > f.ClampQueueTo {
			n = f.ClampQueueTo
		}
		f.queueNum[f.queueSel] = n
	case RegQueueReady:
		f.queueReady[f.queueSel] = value
	case RegQueueDescLow:
		f.descAddr[f.queueSel] = (f.descAddr[f.queueSel] &^ 0xffffffff) | uint64(value)
	case RegQueueDescHigh:
		f.descAddr[f.queueSel] = (f.descAddr[f.queueSel] & 0xffffffff) | uint64(value)<<32
	case RegQueueAvailLow:
		f.availAddr[f.queueSel] = (f.availAddr[f.queueSel] &^ 0xffffffff) | uint64(value)
	case RegQueueAvailHigh:
		f.availAddr[f.queueSel] = (f.availAddr[f.queueSel] & 0xffffffff) | uint64(value)<<32
	case RegQueueUsedLow:
		f.usedAddr[f.queueSel] = (f.usedAddr[f.queueSel] &^ 0xffffffff) | uint64(value)
	case RegQueueUsedHigh:
		f.usedAddr[f.queueSel] = (f.usedAddr[f.queueSel] & 0xffffffff) | uint64(value)<<32
	case RegQueueNotify:
		f.notified = append(f.notified, value)
	}
}

// SetMAC seeds the config-space MAC registers NET_F_MAC exposes.
func (f *FakeMMIO) SetMAC(mac [6]byte) {
	f.config[0] = uint32(mac[0]) | uint32(mac[1])<<8 | uint32(mac[2])<<16 | uint32(mac[3])<<24
	f.config[1] = uint32(mac[4]) | uint32(mac[5])<<8
}

// Notifications returns the queue indexes notified so far, in order.
func (f *FakeMMIO) Notifications() []uint32 { return f.notified }
