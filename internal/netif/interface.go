// Package netif implements NetworkInterface: it wraps IP datagrams in
// Ethernet frames, resolves next hops via ARP with pending-queue semantics,
// and ages the ARP cache.
//
// The ARP request/reply/cache-aging logic is grounded on the teacher's
// NetStack.handleARP/sendARPReply and its single-NIC send/receive frame
// path (internal/netstack/netstack.go), generalized here into a standalone,
// multi-instance component addressable by a Router instead of being owned
// by one monolithic stack.
package netif

import (
	"bytes"
	"net"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/tinyrange/tcpstack/internal/pcap"
	"github.com/tinyrange/tcpstack/internal/wire"
)

const (
	ethTypeARP  = layers.EthernetTypeARP
	ethTypeIPv4 = layers.EthernetTypeIPv4
)

// Timing constants from spec.md §3.
const (
	ARPRequestTimeoutMS = 5000
	ARPCacheTTLMS       = 30000
)

type arpCacheEntry struct {
	mac       net.HardwareAddr // wire.Broadcast means "unresolved, request outstanding"
	lastEvent uint64           // ms timestamp of last request-sent or learn event
}

// pendingFrame is one entry in the outbound queue. IPv4 frames carry a
// next-hop IP that must be resolved through the ARP cache before the
// Ethernet destination can be filled in; ARP frames are already fully
// addressed when enqueued.
type pendingFrame struct {
	frame   wire.EthernetFrame
	isIPv4  bool
	nextHop net.IP
}

// Interface is a single NetworkInterface: one Ethernet/IPv4 address pair,
// an ARP cache, and an outbound frame queue.
type Interface struct {
	ownMAC net.HardwareAddr
	ownIP  net.IP

	clockMS uint64

	outbound []pendingFrame
	arpCache map[string]*arpCacheEntry

	capture *pcap.Writer
}

// New constructs a NetworkInterface with the given Ethernet and IPv4
// addresses.
func New(ownMAC net.HardwareAddr, ownIP net.IP) *Interface {
	return &Interface{
		ownMAC:   ownMAC,
		ownIP:    ownIP.To4(),
		arpCache: make(map[string]*arpCacheEntry),
	}
}

// WithPacketCapture attaches a pcap.Writer that every frame crossing this
// interface (sent or received) is additionally written to, timestamped by
// the interface's own tick accumulator rather than the wall clock.
func (ifc *Interface) WithPacketCapture(w *pcap.Writer) { ifc.capture = w }

func ipKey(ip net.IP) string { return ip.To4().String() }

// SendDatagram enqueues dgram for delivery to nextHop, issuing an ARP
// request first if nextHop's Ethernet address is not yet known. ARP
// requests take priority over queued IPv4 frames per spec.md §4.6.
func (ifc *Interface) SendDatagram(dgram wire.IPv4Datagram, nextHop net.IP) error {
	key := ipKey(nextHop)
	entry, known := ifc.arpCache[key]

	if !known {
		ifc.arpCache[key] = &arpCacheEntry{mac: wire.Broadcast, lastEvent: ifc.clockMS}
		ifc.enqueueARPRequest(nextHop)
	} else if bytes.Equal(entry.mac, wire.Broadcast) && ifc.clockMS-entry.lastEvent >= ARPRequestTimeoutMS {
		entry.lastEvent = ifc.clockMS
		ifc.enqueueARPRequest(nextHop)
	}

	raw, err := wire.EncodeIPv4(dgram)
	if err != nil {
		return err
	}
	ifc.outbound = append(ifc.outbound, pendingFrame{
		frame: wire.EthernetFrame{
			Src:     ifc.ownMAC,
			Dst:     nil, // filled in once resolved, in MaybeSend
			Type:    ethTypeIPv4,
			Payload: raw,
		},
		isIPv4:  true,
		nextHop: nextHop,
	})
	return nil
}

func (ifc *Interface) enqueueARPRequest(target net.IP) {
	raw, err := wire.EncodeARP(wire.ARPMessage{
		IsRequest: true,
		SenderHW:  ifc.ownMAC,
		SenderIP:  ifc.ownIP,
		TargetIP:  target,
	})
	if err != nil {
		return
	}
	req := pendingFrame{frame: wire.EthernetFrame{
		Src:     ifc.ownMAC,
		Dst:     wire.Broadcast,
		Type:    ethTypeARP,
		Payload: raw,
	}}
	// ARP requests jump the queue ahead of already-queued IPv4 frames.
	ifc.outbound = append([]pendingFrame{req}, ifc.outbound...)
}

// RecvFrame processes an incoming Ethernet frame. It returns the enclosed
// IPv4 datagram when applicable, or nil if the frame was ARP, malformed, or
// not addressed to this interface.
func (ifc *Interface) RecvFrame(raw []byte) (*wire.IPv4Datagram, error) {
	ifc.writeCapture(raw)

	frame, err := wire.DecodeEthernet(raw)
	if err != nil {
		return nil, nil // malformed input: dropped silently
	}
	if !bytes.Equal(frame.Dst, ifc.ownMAC) && !bytes.Equal(frame.Dst, wire.Broadcast) {
		return nil, nil
	}

	switch frame.Type {
	case ethTypeARP:
		ifc.handleARP(frame.Payload)
		return nil, nil
	case ethTypeIPv4:
		dgram, err := wire.DecodeIPv4(frame.Payload)
		if err != nil {
			return nil, nil
		}
		return &dgram, nil
	default:
		return nil, nil
	}
}

func (ifc *Interface) handleARP(payload []byte) {
	msg, err := wire.DecodeARP(payload)
	if err != nil {
		return
	}

	if !msg.TargetIP.Equal(ifc.ownIP) {
		return
	}

	key := ipKey(msg.SenderIP)
	// Refresh on every confirming receive (spec.md §9's chosen resolution),
	// not only on first sighting.
	ifc.arpCache[key] = &arpCacheEntry{mac: msg.SenderHW, lastEvent: ifc.clockMS}

	if msg.IsRequest {
		reply, err := wire.EncodeARP(wire.ARPMessage{
			IsRequest: false,
			SenderHW:  ifc.ownMAC,
			SenderIP:  ifc.ownIP,
			TargetHW:  msg.SenderHW,
			TargetIP:  msg.SenderIP,
		})
		if err != nil {
			return
		}
		req := pendingFrame{frame: wire.EthernetFrame{
			Src:     ifc.ownMAC,
			Dst:     msg.SenderHW,
			Type:    ethTypeARP,
			Payload: reply,
		}}
		ifc.outbound = append([]pendingFrame{req}, ifc.outbound...)
	}
}

// Tick advances the interface's clock and ages the ARP cache: unresolved
// entries past ARPRequestTimeoutMS are re-requested, resolved entries past
// ARPCacheTTLMS are evicted.
func (ifc *Interface) Tick(ms uint64) {
	ifc.clockMS += ms

	for key, entry := range ifc.arpCache {
		age := ifc.clockMS - entry.lastEvent
		if bytes.Equal(entry.mac, wire.Broadcast) {
			if age >= ARPRequestTimeoutMS {
				entry.lastEvent = ifc.clockMS
				ip := net.ParseIP(key)
				ifc.enqueueARPRequest(ip)
			}
			continue
		}
		if age >= ARPCacheTTLMS {
			delete(ifc.arpCache, key)
		}
	}
}

// MaybeSend returns the next frame ready for the wire, or false if the head
// of the queue is an IPv4 frame still blocked on ARP resolution.
func (ifc *Interface) MaybeSend() ([]byte, bool) {
	if len(ifc.outbound) == 0 {
		return nil, false
	}

	head := ifc.outbound[0]
	if !head.isIPv4 {
		ifc.outbound = ifc.outbound[1:]
		raw, err := wire.EncodeEthernet(head.frame)
		if err != nil {
			return nil, false
		}
		ifc.writeCapture(raw)
		return raw, true
	}

	entry, ok := ifc.arpCache[ipKey(head.nextHop)]
	if !ok || bytes.Equal(entry.mac, wire.Broadcast) {
		return nil, false // head-of-line blocked waiting on ARP
	}

	head.frame.Dst = entry.mac
	ifc.outbound = ifc.outbound[1:]
	raw, err := wire.EncodeEthernet(head.frame)
	if err != nil {
		return nil, false
	}
	ifc.writeCapture(raw)
	return raw, true
}

func (ifc *Interface) writeCapture(raw []byte) {
	if ifc.capture == nil {
		return
	}
	ts := time.UnixMilli(int64(ifc.clockMS))
	ifc.capture.WritePacket(pcap.CaptureInfo{Timestamp: ts, CaptureLength: len(raw), Length: len(raw)}, raw)
}

// ARPCacheSize reports the number of distinct next-hop IPs currently
// tracked, for metrics.
func (ifc *Interface) ARPCacheSize() int { return len(ifc.arpCache) }

// OwnMAC and OwnIP expose this interface's addresses (used by Router).
func (ifc *Interface) OwnMAC() net.HardwareAddr { return ifc.ownMAC }
func (ifc *Interface) OwnIP() net.IP            { return ifc.ownIP }
