package virtio

// rxBufCapacity is the size of each dedicated RX buffer: a full Ethernet
// frame plus the virtio-net header.
const rxBufCapacity = MaxFrameSize + NetHeaderSize

// initFreeList seeds the TX descriptor free-list with every index in the
// TX ring and allocates each TX descriptor's backing buffer.
func (d *Device) initFreeList() {
	size := d.tx.size
	d.tx.free = make([]uint16, size)
	d.tx.txBufs = make([][]byte, size)
	for i := uint64(0); i < size; i++ {
		d.tx.free[i] = uint16(i) // Transmit pops from the end, so index size-1 pops first
		d.tx.txBufs[i] = make([]byte, rxBufCapacity)
	}
}

// postAllRX pre-posts every RX descriptor pointing at a dedicated buffer,
// publishing availability once and notifying the device.
func (d *Device) postAllRX() {
	size := d.rx.size
	d.rx.rxBufs = make([][]byte, size)
	for i := uint64(0); i < size; i++ {
		buf := make([]byte, rxBufCapacity)
		d.rx.rxBufs[i] = buf
		d.postRXDescriptor(uint16(i))
	}
	Notify(d.mmio, rxQueueIndex)
}

func (d *Device) postRXDescriptor(idx uint16) {
	buf := d.rx.rxBufs[idx]
	addr := bufferAddr(buf)
	d.rx.queue.SetDescriptor(idx, addr, uint32(len(buf)), DescFlagWrite, 0)
	d.rx.queue.PublishAvail(idx)
}

// bufferAddr is the address programmed into a descriptor for a host-owned
// buffer: the host address of the slice's first byte. The RX/TX buffers are
// ordinary Go slices, not allocator-provided frames. An empty buffer yields 0.
func bufferAddr(buf []byte) uint64 {
	if len(buf) == 0 {
		return 0
	}
	return uint64(uintptr(bufPointer(buf)))
}

// PollRX drains every completed RX descriptor since the last poll,
// returning each frame's Ethernet payload (virtio-net header stripped).
// A malformed frame (len < header size) is dropped and its descriptor
// re-posted rather than returned to the caller.
func (d *Device) PollRX() [][]byte {
	q := d.rx.queue
	var out [][]byte

	for q.UsedIdx() != q.LastUsed() {
		id, length := q.UsedElem(q.LastUsed())
		q.AdvanceLastUsed()

		idx := uint16(id)
		if idx >= uint16(len(d.rx.rxBufs)) {
			continue
		}
		buf := d.rx.rxBufs[idx]

		if int(length) > len(buf) {
			length = uint32(len(buf))
		}
		if length < NetHeaderSize {
			d.logger.Warn("virtio rx: malformed frame, dropping", "len", length)
			d.postRXDescriptor(idx)
			continue
		}

		payload := make([]byte, length-NetHeaderSize)
		copy(payload, buf[NetHeaderSize:length])
		out = append(out, payload)

		d.postRXDescriptor(idx)
	}
	if len(out) > 0 {
		Notify(d.mmio, rxQueueIndex)
	}
	return out
}

// Transmit pops a free TX descriptor, writes header (zeroed) + payload
// into its buffer, programs the descriptor, and publishes/notifies. It
// returns false (incrementing txDrops) if no descriptor is free.
func (d *Device) Transmit(payload []byte) bool {
	if len(d.tx.free) == 0 {
		d.txDrops++
		return false
	}

	n := len(d.tx.free) - 1
	idx := d.tx.free[n]
	d.tx.free = d.tx.free[:n]

	buf := d.tx.txBufs[idx]
	for i := 0; i < NetHeaderSize; i++ {
		buf[i] = 0
	}
	total := NetHeaderSize + len(payload)
	if total > len(buf) {
		total = len(buf)
	}
	copy(buf[NetHeaderSize:total], payload)

	d.tx.queue.SetDescriptor(idx, bufferAddr(buf), uint32(total), 0, 0)
	d.tx.queue.PublishAvail(idx)
	Notify(d.mmio, txQueueIndex)
	return true
}

// PollTX drains the TX used ring back into the free-list.
func (d *Device) PollTX() {
	q := d.tx.queue
	for q.UsedIdx() != q.LastUsed() {
		id, _ := q.UsedElem(q.LastUsed())
		q.AdvanceLastUsed()
		d.tx.free = append(d.tx.free, uint16(id))
	}
}
