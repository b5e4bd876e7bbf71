// Package stream implements a bounded, single-producer/single-consumer byte
// pipe: a fixed-capacity FIFO of bytes with separate write and read
// capability handles over one shared buffer.
//
// ByteStream owns its storage; Writer and Reader are thin handles holding a
// back-reference rather than independent objects, so there is exactly one
// owner of the underlying chunk list at all times.
package stream

// ByteStream is a bounded byte pipe. The zero value is not usable; construct
// one with New.
type ByteStream struct {
	capacity uint64

	chunks    [][]byte // owned buffers awaiting delivery to the reader
	headOff   int      // read offset into chunks[0]
	buffered  uint64   // B: bytes currently held (pushed - popped)
	pushed    uint64   // P: cumulative bytes accepted by push
	popped    uint64   // Q: cumulative bytes removed by pop

	closed bool
	errSet bool
}

// New constructs a ByteStream with the given capacity in bytes.
func New(capacity uint64) *ByteStream {
	return &ByteStream{capacity: capacity}
}

// Writer is the write-side capability handle over a ByteStream.
type Writer struct{ s *ByteStream }

// Reader is the read-side capability handle over a ByteStream.
type Reader struct{ s *ByteStream }

// Writer returns the write-side handle.
func (s *ByteStream) Writer() Writer { return Writer{s} }

// Reader returns the read-side handle.
func (s *ByteStream) Reader() Reader { return Reader{s} }

// Push appends up to min(len(data), available capacity) bytes; any excess is
// silently dropped. A no-op if data is empty or the stream is full or
// closed, but closed streams still accept (and drop) zero bytes cleanly.
func (w Writer) Push(data []byte) {
	s := w.s
	if len(data) == 0 || s.closed {
		return
	}
	avail := s.capacity - s.buffered
	if avail == 0 {
		return
	}
	n := uint64(len(data))
	if n > avail {
		n = avail
	}
	accepted := make([]byte, n)
	copy(accepted, data[:n])
	s.chunks = append(s.chunks, accepted)
	s.buffered += n
	s.pushed += n
}

// Close marks the stream closed. Further pushes accept zero bytes.
func (w Writer) Close() { w.s.closed = true }

// SetError sets the out-of-band error flag observable by the reader.
func (w Writer) SetError() { w.s.errSet = true }

// AvailableCapacity returns C - B.
func (w Writer) AvailableCapacity() uint64 { return w.s.capacity - w.s.buffered }

// BytesPushed returns the cumulative count of bytes accepted by Push.
func (w Writer) BytesPushed() uint64 { return w.s.pushed }

// IsClosed reports whether Close has been called.
func (w Writer) IsClosed() bool { return w.s.closed }

// Peek returns a non-owning view over the next buffered bytes. The view may
// be short (covering only the first owned chunk); callers that need more
// should call Peek again after a partial Pop, or rely on PeekAll.
func (r Reader) Peek() []byte {
	s := r.s
	if s.buffered == 0 || len(s.chunks) == 0 {
		return nil
	}
	return s.chunks[0][s.headOff:]
}

// PeekAll returns the entire buffered prefix as a single contiguous slice,
// copying across chunk boundaries only when necessary.
func (r Reader) PeekAll() []byte {
	s := r.s
	if s.buffered == 0 {
		return nil
	}
	if len(s.chunks) == 1 {
		return s.chunks[0][s.headOff:]
	}
	out := make([]byte, 0, s.buffered)
	for i, c := range s.chunks {
		if i == 0 {
			out = append(out, c[s.headOff:]...)
		} else {
			out = append(out, c...)
		}
	}
	return out
}

// Pop removes exactly n bytes from the front of the stream. Undefined if
// n > BytesBuffered.
func (r Reader) Pop(n uint64) {
	s := r.s
	for n > 0 {
		if len(s.chunks) == 0 {
			return
		}
		head := s.chunks[0][s.headOff:]
		if uint64(len(head)) > n {
			s.headOff += int(n)
			s.buffered -= n
			s.popped += n
			return
		}
		consumed := uint64(len(head))
		s.chunks = s.chunks[1:]
		s.headOff = 0
		s.buffered -= consumed
		s.popped += consumed
		n -= consumed
	}
}

// IsFinished reports closed && B == 0.
func (r Reader) IsFinished() bool { return r.s.closed && r.s.buffered == 0 }

// IsClosed reports whether the writer side has closed the stream, whether
// or not all buffered bytes have been popped yet.
func (r Reader) IsClosed() bool { return r.s.closed }

// HasError reports the out-of-band error flag set by SetError.
func (r Reader) HasError() bool { return r.s.errSet }

// BytesBuffered returns B.
func (r Reader) BytesBuffered() uint64 { return r.s.buffered }

// BytesPopped returns Q.
func (r Reader) BytesPopped() uint64 { return r.s.popped }
