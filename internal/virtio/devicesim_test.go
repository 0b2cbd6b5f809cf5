package virtio

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// writeUsedElem and advanceUsedIdx simulate the device side of a
// virtqueue for tests: writing a completed (id, len) pair into the used
// ring and then publishing the advance, the mirror image of
// Queue.PublishAvail from the driver side.
func writeUsedElem(p unsafe.Pointer, id, length uint32) {
	binary.LittleEndian.PutUint32(unsafe.Slice((*byte)(p), 4), id)
	binary.LittleEndian.PutUint32(unsafe.Slice((*byte)(unsafe.Add(p, 4)), 4), length)
}

func advanceUsedIdx(q *Queue) {
	header := atomic.LoadUint32(q.usedHeaderPtr())
	flags := uint16(header)
	idx := uint16(header >> 16)
	newHeader := uint32(flags) | uint32(idx+1)<<16
	atomic.StoreUint32(q.usedHeaderPtr(), newHeader)
}
