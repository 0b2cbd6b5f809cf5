package console

// FakeUART is an in-memory PL011 register pair for tests: RX is a byte
// queue the test fills via PushRX, TX is a byte slice the test reads via
// TXBytes. Mirrors internal/virtio's FakeMMIO style.
type FakeUART struct {
	rx []byte
	tx []byte
}

// NewFakeUART returns an empty FakeUART ready for PushRX/TXBytes.
func NewFakeUART() *FakeUART {
	return &FakeUART{}
}

func (f *FakeUART) PushRX(data string) {
	f.rx = append(f.rx, []byte(data)...)
}

func (f *FakeUART) TXBytes() []byte {
	return f.tx
}

func (f *FakeUART) Read32(offset uint64) uint32 {
	switch offset {
	case regFR:
		var fr uint32
		if len(f.rx) == 0 {
			fr |= frRXFE
		}
		return fr
	case regDR:
		if len(f.rx) == 0 {
			return 0
		}
		b := f.rx[0]
		f.rx = f.rx[1:]
		return uint32(b)
	default:
		return 0
	}
}

func (f *FakeUART) Write32(offset uint64, value uint32) {
	if offset == regDR {
		f.tx = append(f.tx, byte(value))
	}
}
