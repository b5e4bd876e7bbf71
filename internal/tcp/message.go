// Package tcp implements the TCPSender and TCPReceiver halves of the
// reliable byte-stream transport: sliding-window flow control with
// retransmission and exponential backoff (TCPSender), and translation of
// incoming segments into reassembler inserts plus outgoing acknowledgements
// (TCPReceiver).
//
// The retransmission queue, RTO timer, and sequence-wraparound handling are
// grounded on the teacher's tcpSendBuffer/tcpRTTEstimator
// (internal/netstack/tcp.go), simplified to the fixed-doubling backoff this
// spec calls for instead of RFC 6298 SRTT estimation, since congestion
// control beyond exponential backoff is out of scope.
package tcp

import "github.com/tinyrange/tcpstack/internal/seqnum"

// MaxPayloadSize bounds a single outgoing segment's payload, matching §6's
// "typically 1000 bytes, <= 1452 to fit in an Ethernet frame" guidance.
const MaxPayloadSize = 1000

// SenderMessage is an outgoing TCP segment.
type SenderMessage struct {
	Seqno   seqnum.Value
	SYN     bool
	Payload []byte
	FIN     bool
}

// SequenceLength returns SYN + len(Payload) + FIN.
func (m SenderMessage) SequenceLength() uint64 {
	n := uint64(len(m.Payload))
	if m.SYN {
		n++
	}
	if m.FIN {
		n++
	}
	return n
}

// ReceiverMessage is an outgoing acknowledgement.
type ReceiverMessage struct {
	Ackno      *seqnum.Value
	WindowSize uint16
}
