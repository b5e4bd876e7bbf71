package tcp

import (
	"github.com/tinyrange/tcpstack/internal/reassembly"
	"github.com/tinyrange/tcpstack/internal/seqnum"
	"github.com/tinyrange/tcpstack/internal/stream"
)

// Receiver translates incoming segments into reassembler inserts and
// produces acknowledgements and an advertised window.
type Receiver struct {
	isn      seqnum.Value
	hasISN   bool
	finSeen  bool
}

// NewReceiver constructs a Receiver with no initial sequence number yet
// (learned from the first SYN-bearing segment).
func NewReceiver() *Receiver { return &Receiver{} }

// Receive processes one incoming segment, inserting its payload into the
// reassembler. Segments arriving before any SYN is seen are dropped.
func (rc *Receiver) Receive(seg SenderMessage, re *reassembly.Reassembler, inbound stream.Writer) {
	if seg.SYN {
		rc.isn = seg.Seqno
		rc.hasISN = true
	}
	if !rc.hasISN {
		return
	}
	if seg.FIN {
		rc.finSeen = true
	}

	checkpoint := inbound.BytesPushed() + 1
	absSeqno := seg.Seqno.Unwrap(rc.isn, checkpoint)

	synOffset := uint64(0)
	if seg.SYN {
		synOffset = 1
	}
	// streamIndex = abs_seqno - 1 + SYN, reordered to avoid underflowing the
	// uint64 subtraction when SYN offsets absSeqno back up to zero.
	streamIndex := absSeqno + synOffset - 1

	re.Insert(streamIndex, seg.Payload, seg.FIN, inbound)
}

// Send produces the current acknowledgement and advertised window.
func (rc *Receiver) Send(inbound stream.Writer) ReceiverMessage {
	if !rc.hasISN {
		return ReceiverMessage{WindowSize: windowSize(inbound)}
	}

	n := inbound.BytesPushed() + 1
	if rc.finSeen && inbound.IsClosed() {
		n++
	}
	ackno := seqnum.Wrap(n, rc.isn)

	return ReceiverMessage{
		Ackno:      &ackno,
		WindowSize: windowSize(inbound),
	}
}

func windowSize(inbound stream.Writer) uint16 {
	avail := inbound.AvailableCapacity()
	if avail > 65535 {
		return 65535
	}
	return uint16(avail)
}
