package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/tinyrange/tcpstack/internal/seqnum"
	"github.com/tinyrange/tcpstack/internal/tcp"
)

// EncodeTCPSegment serializes a TCPSender message, computing the checksum
// against the supplied IPv4 pseudo-header endpoints via gopacket's
// SetNetworkLayerForChecksum (the same mechanism m-lab-etl's tcpip package
// relies on gopacket to compute for parsing the inverse direction).
//
// ack piggybacks the local TCPReceiver's current acknowledgement onto this
// same physical segment, the way a real TCP connection combines its two
// logical directions into one wire packet. When ack is nil or carries no
// ackno, the segment has no ACK flag and advertises a window of 0xffff.
func EncodeTCPSegment(msg tcp.SenderMessage, ack *tcp.ReceiverMessage, srcIP, dstIP net.IP, srcPort, dstPort layers.TCPPort) ([]byte, error) {
	t := &layers.TCP{
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     uint32(msg.Seqno),
		SYN:     msg.SYN,
		FIN:     msg.FIN,
		Window:  0xffff,
	}
	if ack != nil && ack.Ackno != nil {
		t.ACK = true
		t.Ack = uint32(*ack.Ackno)
		t.Window = ack.WindowSize
	}
	network := &layers.IPv4{SrcIP: srcIP.To4(), DstIP: dstIP.To4(), Protocol: layers.IPProtocolTCP}
	if err := t.SetNetworkLayerForChecksum(network); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, t, gopacket.Payload(msg.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTCPSegment parses a TCP segment, reconstructing the tcp.SenderMessage
// view of it (the receiver's input shape, per spec.md §6's segment codec
// contract: 32-bit seqno, SYN/FIN bits, payload).
func DecodeTCPSegment(raw []byte) (tcp.SenderMessage, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeTCP, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if err := pkt.ErrorLayer(); err != nil {
		return tcp.SenderMessage{}, err.Error()
	}
	l := pkt.Layer(layers.LayerTypeTCP)
	if l == nil {
		return tcp.SenderMessage{}, wireError("wire: not a tcp segment")
	}
	t := l.(*layers.TCP)
	return tcp.SenderMessage{
		Seqno:   seqnum.Value(t.Seq),
		SYN:     t.SYN,
		FIN:     t.FIN,
		Payload: t.Payload,
	}, nil
}

// EncodeTCPAck serializes a TCPReceiver acknowledgement as a pure-ACK
// segment (no payload), carrying the advertised window.
func EncodeTCPAck(msg tcp.ReceiverMessage, srcIP, dstIP net.IP, srcPort, dstPort layers.TCPPort) ([]byte, error) {
	var ack uint32
	if msg.Ackno != nil {
		ack = uint32(*msg.Ackno)
	}
	t := &layers.TCP{
		SrcPort: srcPort,
		DstPort: dstPort,
		Ack:     ack,
		ACK:     msg.Ackno != nil,
		Window:  msg.WindowSize,
	}
	network := &layers.IPv4{SrcIP: srcIP.To4(), DstIP: dstIP.To4(), Protocol: layers.IPProtocolTCP}
	if err := t.SetNetworkLayerForChecksum(network); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTCPAck parses a TCP segment into the TCPSender's ReceiverMessage
// input shape (optional 32-bit ackno, 16-bit window).
func DecodeTCPAck(raw []byte) (tcp.ReceiverMessage, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeTCP, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if err := pkt.ErrorLayer(); err != nil {
		return tcp.ReceiverMessage{}, err.Error()
	}
	l := pkt.Layer(layers.LayerTypeTCP)
	if l == nil {
		return tcp.ReceiverMessage{}, wireError("wire: not a tcp segment")
	}
	t := l.(*layers.TCP)
	msg := tcp.ReceiverMessage{WindowSize: t.Window}
	if t.ACK {
		ack := seqnum.Value(t.Ack)
		msg.Ackno = &ack
	}
	return msg, nil
}
