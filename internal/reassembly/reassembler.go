// Package reassembly implements a stream reassembler: it accepts
// out-of-order, possibly overlapping substrings addressed by absolute
// stream index and delivers in-order bytes into a bounded stream.ByteStream.
//
// This plays the role the teacher's tcpRecvBuffer (internal/netstack/tcp.go)
// plays for a live TCP connection, but against absolute stream indices
// rather than 32-bit wire sequence numbers, and delivering directly into a
// stream.Writer instead of a channel of reassembled chunks.
package reassembly

import "github.com/tinyrange/tcpstack/internal/stream"

// interval is a pending, non-adjacent, non-overlapping run of bytes whose
// absolute first index is strictly to the right of the stream's next
// expected index.
type interval struct {
	first uint64
	data  []byte // data[i] is the byte at absolute index first+i
}

func (iv interval) last() uint64 { return iv.first + uint64(len(iv.data)) - 1 }

// Reassembler holds pending out-of-order intervals and the optional terminal
// (FIN) index for one stream.
type Reassembler struct {
	pending []interval // sorted by first, non-overlapping, non-touching
	pendingBytes uint64

	hasTerminal bool
	// terminalEnd is the bytes_pushed() value the writer must reach for the
	// closing substring to be fully delivered (first_index + len(data)).
	terminalEnd uint64
}

// New constructs an empty Reassembler.
func New() *Reassembler { return &Reassembler{} }

// BytesPending returns the sum of lengths of all pending intervals.
func (re *Reassembler) BytesPending() uint64 { return re.pendingBytes }

// Insert accepts a substring of the stream starting at the absolute index
// firstIndex, with isLast marking it as containing (at) the final byte of
// the stream. It delivers as many contiguous bytes as possible into w.
func (re *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool, w stream.Writer) {
	if isLast {
		re.hasTerminal = true
		re.terminalEnd = firstIndex + uint64(len(data))
	}

	pushed := w.BytesPushed()
	avail := w.AvailableCapacity()

	L := firstIndex
	if pushed > L {
		L = pushed
	}
	var R uint64
	hasWindow := len(data) > 0 && avail > 0
	if hasWindow {
		R = firstIndex + uint64(len(data)) - 1
		upper := pushed + avail - 1
		if upper < R {
			R = upper
		}
		if L > R {
			hasWindow = false
		}
	}

	if hasWindow {
		segStart := L - firstIndex
		segEnd := R - firstIndex + 1
		re.mergeInsert(L, append([]byte(nil), data[segStart:segEnd]...))
		re.deliver(w)
	}

	if re.hasTerminal && w.BytesPushed() >= re.terminalEnd {
		w.Close()
	}
}

// mergeInsert inserts [first, first+len(data)-1] into the pending set,
// merging with any interval it touches or overlaps.
func (re *Reassembler) mergeInsert(first uint64, data []byte) {
	newIv := interval{first: first, data: data}

	merged := true
	for merged {
		merged = false
		for i, existing := range re.pending {
			if !touchesOrOverlaps(newIv, existing) {
				continue
			}
			newIv = combine(newIv, existing)
			re.pendingBytes -= uint64(len(existing.data))
			re.pending = append(re.pending[:i], re.pending[i+1:]...)
			merged = true
			break
		}
	}

	// Insert newIv keeping re.pending sorted by first.
	idx := 0
	for idx < len(re.pending) && re.pending[idx].first < newIv.first {
		idx++
	}
	re.pending = append(re.pending, interval{})
	copy(re.pending[idx+1:], re.pending[idx:])
	re.pending[idx] = newIv
	re.pendingBytes += uint64(len(newIv.data))
}

// touchesOrOverlaps reports whether the closed ranges [aFirst,aLast] and
// [bFirst,bLast] overlap or are adjacent (no gap between them).
func touchesOrOverlaps(a, b interval) bool {
	aFirst, aLast := a.first, a.last()
	bFirst, bLast := b.first, b.last()
	return aFirst <= bLast+1 && bFirst <= aLast+1
}

func combine(a, b interval) interval {
	first := a.first
	if b.first < first {
		first = b.first
	}
	last := a.last()
	if b.last() > last {
		last = b.last()
	}
	out := make([]byte, last-first+1)
	copy(out[b.first-first:], b.data)
	copy(out[a.first-first:], a.data)
	return interval{first: first, data: out}
}

// deliver pushes the front pending interval into w if it begins exactly at
// the stream's next expected index, repeating while possible.
func (re *Reassembler) deliver(w stream.Writer) {
	for len(re.pending) > 0 && re.pending[0].first == w.BytesPushed() {
		front := re.pending[0]
		re.pending = re.pending[1:]
		re.pendingBytes -= uint64(len(front.data))
		w.Push(front.data)
	}
}
