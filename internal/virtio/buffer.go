package virtio

import "unsafe"

// bufPointer exposes a host buffer's backing address for programming into
// a descriptor. Buffers handed to SetDescriptor must not be moved or
// resized by the Go runtime for the lifetime of the in-flight descriptor;
// callers keep a reference in rxBufs/txBufs for exactly that reason.
func bufPointer(buf []byte) unsafe.Pointer {
	return unsafe.Pointer(&buf[0])
}
