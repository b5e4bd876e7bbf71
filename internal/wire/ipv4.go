package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// IPv4Datagram is a decoded/to-be-encoded IPv4 datagram. The router only
// ever mutates TTL; the header checksum is not stored here and is computed
// afresh whenever the datagram is encoded.
type IPv4Datagram struct {
	Src, Dst net.IP
	TTL      uint8
	Protocol layers.IPProtocol
	Payload  []byte
}

// EncodeIPv4 serializes an IPv4 datagram with its payload.
func EncodeIPv4(d IPv4Datagram) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      d.TTL,
		Protocol: d.Protocol,
		SrcIP:    d.Src.To4(),
		DstIP:    d.Dst.To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload(d.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeIPv4 parses an IPv4 datagram.
func DecodeIPv4(raw []byte) (IPv4Datagram, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if err := pkt.ErrorLayer(); err != nil {
		return IPv4Datagram{}, err.Error()
	}
	l := pkt.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return IPv4Datagram{}, wireError("wire: not an ipv4 datagram")
	}
	ip := l.(*layers.IPv4)
	return IPv4Datagram{
		Src:      ip.SrcIP,
		Dst:      ip.DstIP,
		TTL:      ip.TTL,
		Protocol: ip.Protocol,
		Payload:  ip.Payload,
	}, nil
}

// DecrementTTL decrements the TTL; the header checksum is recomputed when the
// datagram is next encoded (EncodeIPv4 or Reencode). Reports false, leaving
// the TTL unchanged, if the TTL was already at or below 1 (the caller must
// drop the datagram instead of forwarding it).
func (d *IPv4Datagram) DecrementTTL() bool {
	if d.TTL <= 1 {
		return false
	}
	d.TTL--
	return true
}

// Reencode re-serializes the datagram (after DecrementTTL mutated it) with a
// freshly computed checksum.
func (d IPv4Datagram) Reencode() ([]byte, error) {
	return EncodeIPv4(d)
}
