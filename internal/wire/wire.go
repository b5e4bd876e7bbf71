// Package wire implements the concrete wire codecs the core transport and
// network components treat as opaque external collaborators (spec.md §6):
// Ethernet frames, ARP messages, IPv4 datagrams, and TCP segments.
//
// Encoding and decoding is built on github.com/google/gopacket and
// github.com/google/gopacket/layers, the packet-codec library the example
// pack's m-lab-etl module uses for the same header families (see
// m-lab-etl/headers and m-lab-etl/tcpip). Decode errors are always
// "malformed input" per spec.md §7: callers drop the frame/datagram/segment
// and never propagate a partially-valid value.
package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Broadcast is the Ethernet broadcast address, the ARP cache sentinel for
// "unresolved, request outstanding".
var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// EthernetFrame is a decoded/to-be-encoded Ethernet II frame.
type EthernetFrame struct {
	Src, Dst net.HardwareAddr
	Type     layers.EthernetType
	Payload  []byte
}

// EncodeEthernet serializes an Ethernet frame with its payload.
func EncodeEthernet(f EthernetFrame) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       f.Src,
		DstMAC:       f.Dst,
		EthernetType: f.Type,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(f.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEthernet parses an Ethernet II frame.
func DecodeEthernet(raw []byte) (EthernetFrame, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if err := pkt.ErrorLayer(); err != nil {
		return EthernetFrame{}, err.Error()
	}
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return EthernetFrame{}, errNotEthernet
	}
	eth := ethLayer.(*layers.Ethernet)
	return EthernetFrame{
		Src:     eth.SrcMAC,
		Dst:     eth.DstMAC,
		Type:    eth.EthernetType,
		Payload: eth.Payload,
	}, nil
}

var errNotEthernet = wireError("wire: not an ethernet frame")

type wireError string

func (e wireError) Error() string { return string(e) }
