//go:build linux

package queenroot

import (
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cohesix/queenroot/internal/console"
	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/virtio"
)

// devMemWindow maps a fixed-size device register window out of /dev/mem,
// the same style of raw physical-memory mapping the teacher's io_uring
// path uses unix.Mmap for, just over a device node instead of an
// anonymous or file-backed region. It satisfies both virtio.MMIO and
// console.MMIO, which share the same Read32/Write32 shape.
type devMemWindow struct {
	mu   sync.Mutex
	file *os.File
	mem  []byte
}

// openDevMemWindow maps `length` bytes of physical address space starting
// at `base` from /dev/mem. The caller must hold CAP_SYS_RAWIO or run as
// root; this is a real-hardware path, never exercised by tests.
func openDevMemWindow(base, length uint64) (*devMemWindow, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, kerr.WrapError("openDevMemWindow", err)
	}

	mem, err := unix.Mmap(int(f.Fd()), int64(base), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, kerr.WrapError("openDevMemWindow", err)
	}
	return &devMemWindow{file: f, mem: mem}, nil
}

// Close unmaps the window and releases the device file descriptor.
func (w *devMemWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := unix.Munmap(w.mem)
	w.file.Close()
	return err
}

func (w *devMemWindow) Read32(offset uint64) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := (*uint32)(unsafe.Pointer(&w.mem[offset]))
	return *p
}

func (w *devMemWindow) Write32(offset uint64, value uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := (*uint32)(unsafe.Pointer(&w.mem[offset]))
	*p = value
}

// openDevMemSlot adapts openDevMemWindow to virtio.SlotOpener, mapping a
// fresh 4 KiB window for each probe candidate.
func openDevMemSlot(slotBase uint64) (virtio.MMIO, error) {
	return openDevMemWindow(slotBase, 4096)
}

// OpenUARTWindow maps the PL011 UART's 4 KiB device frame from /dev/mem.
func OpenUARTWindow(base uint64) (console.MMIO, error) {
	return openDevMemWindow(base, 4096)
}

// VirtioSlotOpener returns the /dev/mem-backed virtio.SlotOpener used by
// a real deployment's probe step.
func VirtioSlotOpener() virtio.SlotOpener {
	return openDevMemSlot
}
