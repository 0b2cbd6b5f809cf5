//go:build !linux

package queenroot

import (
	"github.com/cohesix/queenroot/internal/console"
	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/virtio"
)

// OpenUARTWindow has no real-hardware backing outside Linux; callers on
// other platforms must supply their own console.MMIO (e.g. virtio.FakeMMIO
// or console's fake UART) for development and testing.
func OpenUARTWindow(base uint64) (console.MMIO, error) {
	return nil, kerr.NewError("OpenUARTWindow", kerr.CodeUnsupported, "raw /dev/mem mapping is only available on linux")
}

// VirtioSlotOpener has no real-hardware backing outside Linux.
func VirtioSlotOpener() virtio.SlotOpener {
	return func(slotBase uint64) (virtio.MMIO, error) {
		return nil, kerr.NewError("VirtioSlotOpener", kerr.CodeUnsupported, "raw /dev/mem mapping is only available on linux")
	}
}
