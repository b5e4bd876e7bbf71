// Package router implements the longest-prefix-match IPv4 router that
// forwards datagrams between NetworkInterfaces, decrementing TTL and
// recomputing the header checksum on every hop.
//
// Grounded on the teacher's NetStack packet-forwarding path
// (internal/netstack/netstack.go), generalized from a single fixed
// interface into an indexed table of interfaces addressed by a
// longest-prefix-match route table.
package router

import (
	"net"

	"github.com/tinyrange/tcpstack/internal/netif"
	"github.com/tinyrange/tcpstack/internal/wire"
)

// RouteEntry is one entry in the router's forwarding table.
type RouteEntry struct {
	Prefix         uint32
	Length         uint8 // 0..32
	NextHop        net.IP // nil means "use the datagram's destination address"
	InterfaceIndex int
}

// matches reports whether dst's top Length bits equal Prefix's top Length
// bits. Length 0 matches every address.
func (r RouteEntry) matches(dst uint32) bool {
	if r.Length == 0 {
		return true
	}
	mask := ^uint32(0) << (32 - r.Length)
	return dst&mask == r.Prefix&mask
}

// DropReason classifies why a datagram was dropped instead of forwarded, for
// metrics.Collector's reason-labeled counter.
type DropReason string

const (
	DropTTLExpired DropReason = "ttl_expired"
	DropUnroutable DropReason = "unroutable"
	DropSendFailed DropReason = "send_failed"
)

// Router forwards IPv4 datagrams between a fixed set of interfaces using
// longest-prefix-match routing.
type Router struct {
	interfaces []*netif.Interface
	routes     []RouteEntry

	forwarded   uint64
	droppedByReason map[DropReason]uint64
}

// New constructs a Router over the given interfaces, indexed in the order
// supplied (RouteEntry.InterfaceIndex refers to this order).
func New(interfaces []*netif.Interface) *Router {
	return &Router{interfaces: interfaces, droppedByReason: make(map[DropReason]uint64)}
}

// AddRoute appends a route. Ties among equal-length matches are broken by
// order of addition, so earlier AddRoute calls win.
func (rt *Router) AddRoute(entry RouteEntry) {
	rt.routes = append(rt.routes, entry)
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

// PrefixFromIP converts a dotted-quad IPv4 address into the uint32 prefix
// form RouteEntry expects, for callers building routes from literal
// addresses.
func PrefixFromIP(ip net.IP) uint32 { return ipToUint32(ip) }

// Route drains every ready inbound IPv4 datagram from every interface,
// decrements its TTL, and forwards it via the longest-prefix matching
// route, dropping datagrams that expire or have no match.
func (rt *Router) Route(inbound func(ifaceIndex int) (*wire.IPv4Datagram, bool)) {
	for idx := range rt.interfaces {
		for {
			dgram, ok := inbound(idx)
			if !ok {
				break
			}
			rt.forwardOne(dgram)
		}
	}
}

func (rt *Router) forwardOne(dgram *wire.IPv4Datagram) {
	if !dgram.DecrementTTL() {
		rt.drop(DropTTLExpired)
		return
	}

	entry, ok := rt.lookup(dgram.Dst)
	if !ok {
		rt.drop(DropUnroutable)
		return
	}

	nextHop := entry.NextHop
	if nextHop == nil {
		nextHop = dgram.Dst
	}
	if entry.InterfaceIndex < 0 || entry.InterfaceIndex >= len(rt.interfaces) {
		rt.drop(DropUnroutable)
		return
	}

	if err := rt.interfaces[entry.InterfaceIndex].SendDatagram(*dgram, nextHop); err != nil {
		rt.drop(DropSendFailed)
		return
	}
	rt.forwarded++
}

func (rt *Router) drop(reason DropReason) {
	rt.droppedByReason[reason]++
}

// lookup finds the matching route with the greatest prefix length, first
// addition breaking ties.
func (rt *Router) lookup(dst net.IP) (RouteEntry, bool) {
	dstVal := ipToUint32(dst)
	var best RouteEntry
	found := false
	for _, r := range rt.routes {
		if !r.matches(dstVal) {
			continue
		}
		if !found || r.Length > best.Length {
			best = r
			found = true
		}
	}
	return best, found
}

// Forwarded reports the cumulative count of successfully forwarded datagrams.
func (rt *Router) Forwarded() uint64 { return rt.forwarded }

// Dropped reports the cumulative count of dropped datagrams across all reasons.
func (rt *Router) Dropped() uint64 {
	var total uint64
	for _, n := range rt.droppedByReason {
		total += n
	}
	return total
}

// DroppedByReason reports the cumulative count of datagrams dropped for the
// given reason, for metrics.Collector's reason-labeled counter.
func (rt *Router) DroppedByReason(reason DropReason) uint64 { return rt.droppedByReason[reason] }
