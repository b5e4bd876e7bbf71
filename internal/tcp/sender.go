package tcp

import (
	"github.com/tinyrange/tcpstack/internal/seqnum"
	"github.com/tinyrange/tcpstack/internal/stream"
)

// outstandingSegment pairs a sent-or-queued segment with whether it has been
// handed to maybe_send since the last time it (re)entered the outstanding
// set, mirroring the teacher's tcpSendBuffer entries but keyed by absolute
// first sequence number instead of stored in a capacity-bounded slice.
type outstandingSegment struct {
	absFirst uint64
	msg      SenderMessage
	sent     bool
}

// Sender implements the sliding-window sender half: it drains an outbound
// ByteStream into segments, tracks everything still unacknowledged, and
// retransmits the oldest outstanding segment on RTO expiry with exponential
// backoff gated on a non-zero advertised window.
type Sender struct {
	isn          seqnum.Value
	initialRTOms uint64

	curAbsAckno uint64 // absolute seqno of the next byte to be sequenced
	curWindow   uint16 // last advertised window; 1 (not 0) before any ack

	retransmissionCount uint64
	synQueued           bool
	finished            bool

	timer       *timer
	outstanding []outstandingSegment
}

// NewSender constructs a Sender with the given initial sequence number and
// retransmission timeout.
func NewSender(isn seqnum.Value, initialRTOms uint64) *Sender {
	return &Sender{
		isn:          isn,
		initialRTOms: initialRTOms,
		curWindow:    1,
		timer:        newTimer(initialRTOms),
	}
}

// SequenceNumbersInFlight returns the total sequence-space occupied by
// everything in the outstanding set.
func (s *Sender) SequenceNumbersInFlight() uint64 {
	var n uint64
	for _, o := range s.outstanding {
		n += o.msg.SequenceLength()
	}
	return n
}

// RetransmissionCount returns the number of RTO-triggered retransmissions
// since the last successful new-data ack.
func (s *Sender) RetransmissionCount() uint64 { return s.retransmissionCount }

// Window returns the last window size advertised by the peer, for metrics.
func (s *Sender) Window() uint16 { return s.curWindow }

// Push drains bytes from outbound into new outstanding segments until the
// advertised window (treating zero as one, for probing) is exhausted or
// there is nothing left to send.
func (s *Sender) Push(outbound stream.Reader) {
	for {
		window := uint64(s.curWindow)
		if window == 0 {
			window = 1
		}
		inFlight := s.SequenceNumbersInFlight()
		if inFlight >= window {
			return
		}
		remaining := window - inFlight

		synBit := uint64(0)
		if !s.synQueued {
			synBit = 1
		}
		if remaining < synBit {
			return
		}

		payloadBudget := remaining - synBit
		if payloadBudget > MaxPayloadSize {
			payloadBudget = MaxPayloadSize
		}
		if bufferedBytes := outbound.BytesBuffered(); payloadBudget > bufferedBytes {
			payloadBudget = bufferedBytes
		}

		finBit := false
		sequenceLength := synBit + payloadBudget
		willDrainStream := outbound.IsClosed() && payloadBudget == outbound.BytesBuffered()
		if !s.finished && willDrainStream && remaining-sequenceLength >= 1 {
			finBit = true
			sequenceLength++
		}

		if sequenceLength == 0 {
			return
		}

		payload := make([]byte, payloadBudget)
		if payloadBudget > 0 {
			copy(payload, outbound.PeekAll()[:payloadBudget])
			outbound.Pop(payloadBudget)
		}

		msg := SenderMessage{
			Seqno:   seqnum.Wrap(s.curAbsAckno, s.isn),
			SYN:     synBit == 1,
			Payload: payload,
			FIN:     finBit,
		}
		s.outstanding = append(s.outstanding, outstandingSegment{absFirst: s.curAbsAckno, msg: msg})
		s.curAbsAckno += sequenceLength
		s.synQueued = true
		if finBit {
			s.finished = true
		}
	}
}

// MaybeSend returns (and marks sent) the earliest outstanding segment that
// has not yet been delivered to the peer since it last entered the
// outstanding set. Starts the retransmission timer on the empty/stopped ->
// running transition.
func (s *Sender) MaybeSend() (SenderMessage, bool) {
	for i := range s.outstanding {
		if !s.outstanding[i].sent {
			s.outstanding[i].sent = true
			if !s.timer.running {
				s.timer.start()
			}
			return s.outstanding[i].msg, true
		}
	}
	return SenderMessage{}, false
}

// SendEmptyMessage returns a bare-ACK segment (no payload, no flags, zero
// sequence length) that never enters the outstanding set.
func (s *Sender) SendEmptyMessage() SenderMessage {
	return SenderMessage{Seqno: seqnum.Wrap(s.curAbsAckno, s.isn)}
}

// Receive processes an incoming acknowledgement and window update.
func (s *Sender) Receive(msg ReceiverMessage) {
	s.curWindow = msg.WindowSize

	erasedAny := false
	if msg.Ackno != nil && len(s.outstanding) > 0 {
		absAck := msg.Ackno.Unwrap(s.isn, s.curAbsAckno)

		highestEnd := uint64(0)
		for _, o := range s.outstanding {
			if end := o.absFirst + o.msg.SequenceLength(); end > highestEnd {
				highestEnd = end
			}
		}

		if absAck <= highestEnd {
			kept := s.outstanding[:0]
			for _, o := range s.outstanding {
				if o.absFirst+o.msg.SequenceLength() <= absAck {
					erasedAny = true
					continue
				}
				kept = append(kept, o)
			}
			s.outstanding = kept
		}
	}

	if erasedAny {
		s.timer.stop()
		s.timer.resetRTO(s.initialRTOms)
		if len(s.outstanding) > 0 {
			s.timer.start()
		}
		s.retransmissionCount = 0
	}
}

// Tick advances the retransmission timer by msElapsed milliseconds,
// retransmitting the earliest outstanding segment on expiry.
func (s *Sender) Tick(msElapsed uint64) {
	s.timer.tick(msElapsed)
	if !s.timer.expired() {
		return
	}

	if len(s.outstanding) > 0 {
		s.outstanding[0].sent = false
	}
	if s.curWindow != 0 {
		s.retransmissionCount++
		s.timer.doubleRTO()
	}
	s.timer.stop()
	s.timer.start()
}
