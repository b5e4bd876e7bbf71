package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ARPMessage is a decoded/to-be-encoded ARP request or reply.
type ARPMessage struct {
	IsRequest  bool
	SenderHW   net.HardwareAddr
	SenderIP   net.IP
	TargetHW   net.HardwareAddr // zeroed when the target is not yet known
	TargetIP   net.IP
}

// EncodeARP serializes an ARP message. The caller supplies the Ethernet
// source/destination separately via EncodeEthernet.
func EncodeARP(msg ARPMessage) ([]byte, error) {
	op := uint16(layers.ARPReply)
	if msg.IsRequest {
		op = uint16(layers.ARPRequest)
	}
	targetHW := msg.TargetHW
	if targetHW == nil {
		targetHW = make(net.HardwareAddr, 6)
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   []byte(msg.SenderHW),
		SourceProtAddress: msg.SenderIP.To4(),
		DstHwAddress:      []byte(targetHW),
		DstProtAddress:    msg.TargetIP.To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, arp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeARP parses an ARP message from an Ethernet payload.
func DecodeARP(raw []byte) (ARPMessage, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeARP, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if err := pkt.ErrorLayer(); err != nil {
		return ARPMessage{}, err.Error()
	}
	l := pkt.Layer(layers.LayerTypeARP)
	if l == nil {
		return ARPMessage{}, wireError("wire: not an arp message")
	}
	a := l.(*layers.ARP)
	return ARPMessage{
		IsRequest: layers.ARPOp(a.Operation) == layers.ARPRequest,
		SenderHW:  net.HardwareAddr(a.SourceHwAddress),
		SenderIP:  net.IP(a.SourceProtAddress),
		TargetHW:  net.HardwareAddr(a.DstHwAddress),
		TargetIP:  net.IP(a.DstProtAddress),
	}, nil
}
