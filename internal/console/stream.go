package console

import "github.com/cohesix/queenroot/internal/ticket"

// pendingCursor carries the bits RecordCursor needs once a stream finishes
// draining: the path key ticket.Usage tracks cursors under, the original
// request offset, the byte length consumed, and the resume/advance
// classification CheckCursor already computed.
type pendingCursor struct {
	pathKey string
	offset  uint64
	length  int
	check   ticket.CursorCheck
}

// pendingStream is a staged multi-line reply (tail/cat/ls/cachelog) that the
// pump flushes after dispatch in the same cycle that queued it. Bandwidth and
// cursor quotas are consumed when it flushes (spec §4.6 step 6). The log verb
// stages no stream: it is acknowledged with a single OK line and no END.
type pendingStream struct {
	lines          []string
	next           int
	bandwidthBytes uint64
	cursor         *pendingCursor
	usage          *ticket.Usage // nil for a Queen session with no enforcement
}

// flush writes every remaining line and then the terminal END sentinel in a
// single call, whatever WriteLine reports (a full transport queue drops its
// oldest line rather than refusing the new one), then consumes the usage
// deltas. It always returns true; a stream never stays pending for a later
// cycle.
func (p *pendingStream) flush(transport Transport) bool {
	for p.next < len(p.lines) {
		if !transport.WriteLine(p.lines[p.next]) {
			// transport dropped the line on overflow; still counts as sent
			// from the stream's point of view (tx_drops already tracked it).
		}
		p.next++
	}
	transport.WriteLine("END")
	if p.usage != nil {
		p.usage.ConsumeBandwidth(p.bandwidthBytes)
		if p.cursor != nil {
			p.usage.RecordCursor(p.cursor.pathKey, p.cursor.offset, p.cursor.length, p.cursor.check)
		}
	}
	return true
}
