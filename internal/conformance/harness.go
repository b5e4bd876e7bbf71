// Package conformance drives this module's TCPSender/TCPReceiver and
// NetworkInterface against gvisor.dev/gvisor's real netstack acting as the
// peer, over an in-memory Ethernet channel. gVisor plays a standards-
// compliant TCP endpoint so the segments our TCPSender/TCPReceiver produce
// and consume are exercised against real protocol behavior instead of only
// our own mock peers.
//
// gVisor is the active opener here (via gonet.DialTCP): our side plays the
// passive/server role, learning the peer's ephemeral port off its SYN and
// answering with a combined SYN+ACK, the way a real listening socket would.
// That keeps the harness within spec.md's explicit non-goal of a
// simultaneous-open handshake, since only the side that never initiates
// needs no active-open state machine of its own.
//
// Grounded on the teacher's internal/netstack/test package, which drove its
// own monolithic NetStack the same way; adapted here to drive the modular
// netif.Interface/tcp.Sender/tcp.Receiver instead, since that monolithic
// stack (and its SACK/window-scale/DNS baggage, all non-goals of this spec)
// was deleted rather than kept unwired. See DESIGN.md.
package conformance

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/link/ethernet"
	"gvisor.dev/gvisor/pkg/tcpip/network/arp"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	gtcp "gvisor.dev/gvisor/pkg/tcpip/transport/tcp"

	"github.com/tinyrange/tcpstack/internal/netif"
	"github.com/tinyrange/tcpstack/internal/reassembly"
	"github.com/tinyrange/tcpstack/internal/seqnum"
	"github.com/tinyrange/tcpstack/internal/stream"
	"github.com/tinyrange/tcpstack/internal/tcp"
	"github.com/tinyrange/tcpstack/internal/wire"
)

const (
	gvisorNICID tcpip.NICID   = 1
	serverPort  layers.TCPPort = 9000
)

var (
	hostIPv4  = net.IPv4(10, 42, 0, 1)
	guestIPv4 = net.IPv4(10, 42, 0, 2)

	hostMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	guestMAC = tcpip.LinkAddress("\x02\x00\x00\x00\x00\x02")
)

func addrFrom4(ip net.IP) tcpip.Address {
	var b [4]byte
	copy(b[:], ip.To4())
	return tcpip.AddrFrom4(b)
}

// harness wires our TCPSender/TCPReceiver/NetworkInterface ("the custom
// side") against a gVisor stack reachable over a channel.Endpoint ("the
// reference side"), and owns the single-threaded event loop that steps
// them, per spec.md §5 (no operation in the core suspends or blocks; the
// harness is the owner that drives tick/recv_frame/maybe_send).
type harness struct {
	hostIf *netif.Interface

	sender      *tcp.Sender
	outbound    *stream.ByteStream
	receiver    *tcp.Receiver
	reassembler *reassembly.Reassembler
	inbound     *stream.ByteStream

	// clientPort is the ephemeral port gVisor's dialer used, learned off
	// its first SYN. 0 until sawClientSYN is true.
	clientPort  layers.TCPPort
	sawClientSYN bool

	gs *stack.Stack
	ch *channel.Endpoint

	fromGuest chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
}

func newHarness(tb testing.TB, outboundBytes []byte) *harness {
	tb.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		hostIf:      netif.New(hostMAC, hostIPv4),
		sender:      tcp.NewSender(seqnum.Value(1000), 200),
		outbound:    stream.New(1 << 20),
		receiver:    tcp.NewReceiver(),
		reassembler: reassembly.New(),
		inbound:     stream.New(1 << 20),
		fromGuest:   make(chan []byte, 4096),
		ctx:         ctx,
		cancel:      cancel,
	}

	w := h.outbound.Writer()
	w.Push(outboundBytes)
	w.Close()

	h.ch = channel.New(4096, 1500+header.EthernetMinimumSize, guestMAC)
	ep := ethernet.New(h.ch)
	h.gs = stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol, arp.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{gtcp.NewProtocol},
	})
	if err := h.gs.CreateNIC(gvisorNICID, ep); err != nil {
		tb.Fatalf("gvisor CreateNIC: %v", err)
	}
	if err := h.gs.AddProtocolAddress(gvisorNICID, tcpip.ProtocolAddress{
		Protocol: ipv4.ProtocolNumber,
		AddressWithPrefix: tcpip.AddressWithPrefix{
			Address:   addrFrom4(guestIPv4),
			PrefixLen: 24,
		},
	}, stack.AddressProperties{}); err != nil {
		tb.Fatalf("gvisor AddProtocolAddress: %v", err)
	}
	h.gs.SetRouteTable([]tcpip.Route{{
		Destination: header.IPv4EmptySubnet,
		Gateway:     addrFrom4(hostIPv4),
		NIC:         gvisorNICID,
	}})

	go func() {
		for {
			pkt := h.ch.ReadContext(h.ctx)
			if pkt == nil {
				return
			}
			raw := append([]byte(nil), pkt.ToView().AsSlice()...)
			pkt.DecRef()
			select {
			case h.fromGuest <- raw:
			case <-h.ctx.Done():
				return
			}
		}
	}()

	tb.Cleanup(func() {
		h.cancel()
		h.ch.Close()
	})
	return h
}

// dial has gVisor actively open a connection to our (still passive) side
// and returns a channel receiving everything it reads off that connection,
// closed once it observes EOF (our FIN).
func (h *harness) dial(tb testing.TB) <-chan []byte {
	tb.Helper()
	result := make(chan []byte, 1)
	go func() {
		conn, err := gonet.DialTCP(h.gs, tcpip.FullAddress{
			NIC:  gvisorNICID,
			Addr: addrFrom4(hostIPv4),
			Port: uint16(serverPort),
		}, ipv4.ProtocolNumber)
		if err != nil {
			close(result)
			return
		}
		defer conn.Close()
		var got []byte
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			got = append(got, buf[:n]...)
			if err != nil {
				break
			}
		}
		result <- got
	}()
	return result
}

// tcpPorts reads the source/destination ports directly off a raw TCP
// segment, independent of the wire package's SenderMessage/ReceiverMessage
// views (neither of which carries port numbers, since the core components
// that produce them never need to address a specific peer).
func tcpPorts(raw []byte) (src, dst layers.TCPPort, ok bool) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeTCP, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	l := pkt.Layer(layers.LayerTypeTCP)
	if l == nil {
		return 0, 0, false
	}
	t := l.(*layers.TCP)
	return t.SrcPort, t.DstPort, true
}

// step advances the custom side by one simulated tick: absorb anything
// gVisor sent, push/send our own segments (gated until gVisor's SYN has
// been seen, so we never speak before the peer that opened the connection
// has said anything), and advance clocks.
func (h *harness) step(tb testing.TB, ms uint64) {
	tb.Helper()

	for {
		raw, ok := h.hostIf.MaybeSend()
		if !ok {
			break
		}
		pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{Payload: buffer.MakeWithData(raw)})
		h.ch.InjectInbound(0, pkt)
	}

drain:
	for {
		select {
		case raw := <-h.fromGuest:
			dgram, err := h.hostIf.RecvFrame(raw)
			if err != nil || dgram == nil {
				continue
			}
			if !h.sawClientSYN {
				if srcPort, _, ok := tcpPorts(dgram.Payload); ok {
					h.clientPort = srcPort
					h.sawClientSYN = true
				}
			}
			if seg, err := wire.DecodeTCPSegment(dgram.Payload); err == nil {
				h.receiver.Receive(seg, h.reassembler, h.inbound.Writer())
			}
			if ack, err := wire.DecodeTCPAck(dgram.Payload); err == nil {
				h.sender.Receive(ack)
			}
		default:
			break drain
		}
	}

	if h.sawClientSYN {
		h.sender.Push(h.outbound.Reader())
		for {
			seg, ok := h.sender.MaybeSend()
			if !ok {
				break
			}
			ack := h.receiver.Send(h.inbound.Writer())
			raw, err := wire.EncodeTCPSegment(seg, &ack, hostIPv4, guestIPv4, serverPort, h.clientPort)
			if err != nil {
				tb.Fatalf("encode tcp segment: %v", err)
			}
			dgram := wire.IPv4Datagram{Src: hostIPv4, Dst: guestIPv4, TTL: 64, Protocol: layers.IPProtocolTCP, Payload: raw}
			if err := h.hostIf.SendDatagram(dgram, guestIPv4); err != nil {
				tb.Fatalf("send datagram: %v", err)
			}
		}
	}

	h.hostIf.Tick(ms)
	h.sender.Tick(ms)
}

// run drives step() until gVisor's dialed connection reports the full
// transfer (or the deadline passes), returning the bytes gVisor actually
// received.
func (h *harness) run(tb testing.TB, result <-chan []byte, deadline time.Duration) []byte {
	tb.Helper()
	timeout := time.After(deadline)
	for {
		select {
		case got := <-result:
			return got
		case <-timeout:
			tb.Fatalf("timed out waiting for gvisor to observe the full transfer")
			return nil
		default:
			h.step(tb, 5)
			time.Sleep(time.Millisecond)
		}
	}
}
