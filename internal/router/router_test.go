package router

import (
	"net"
	"testing"

	"github.com/google/gopacket/layers"

	"github.com/tinyrange/tcpstack/internal/netif"
	"github.com/tinyrange/tcpstack/internal/wire"
)

func mustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}

// TestRouterLongestPrefixMatch drives spec.md §8 scenario 7: three
// overlapping routes, each destination egressing via its most specific
// match.
func TestRouterLongestPrefixMatch(t *testing.T) {
	if0 := netif.New(mustMAC("02:00:00:00:00:01"), net.ParseIP("192.168.0.1"))
	if1 := netif.New(mustMAC("02:00:00:00:00:02"), net.ParseIP("10.0.0.1"))
	if2 := netif.New(mustMAC("02:00:00:00:00:03"), net.ParseIP("10.1.0.1"))

	rt := New([]*netif.Interface{if0, if1, if2})
	rt.AddRoute(RouteEntry{Prefix: 0, Length: 0, InterfaceIndex: 0})
	rt.AddRoute(RouteEntry{Prefix: PrefixFromIP(net.ParseIP("10.0.0.0")), Length: 8, InterfaceIndex: 1})
	rt.AddRoute(RouteEntry{Prefix: PrefixFromIP(net.ParseIP("10.1.0.0")), Length: 16, InterfaceIndex: 2})

	cases := []struct {
		dst      string
		wantIdx  int
	}{
		{"10.1.2.3", 2},
		{"10.2.0.1", 1},
		{"8.8.8.8", 0},
	}
	for _, c := range cases {
		entry, ok := rt.lookup(net.ParseIP(c.dst))
		if !ok {
			t.Fatalf("%s: expected a match", c.dst)
		}
		if entry.InterfaceIndex != c.wantIdx {
			t.Fatalf("%s: expected interface %d, got %d", c.dst, c.wantIdx, entry.InterfaceIndex)
		}
	}
}

// TestRouterForwardDecrementsTTLAndDrops verifies TTL<=1 datagrams are
// dropped and survivors are forwarded with a decremented TTL.
func TestRouterForwardDecrementsTTLAndDrops(t *testing.T) {
	if0 := netif.New(mustMAC("02:00:00:00:00:01"), net.ParseIP("192.168.0.1"))
	rt := New([]*netif.Interface{if0})
	rt.AddRoute(RouteEntry{Prefix: 0, Length: 0, InterfaceIndex: 0})

	expired := wire.IPv4Datagram{Src: net.ParseIP("1.1.1.1"), Dst: net.ParseIP("2.2.2.2"), TTL: 1, Protocol: layers.IPProtocolTCP}
	queue := []*wire.IPv4Datagram{&expired}
	rt.Route(func(idx int) (*wire.IPv4Datagram, bool) {
		if idx != 0 || len(queue) == 0 {
			return nil, false
		}
		d := queue[0]
		queue = queue[1:]
		return d, true
	})
	if rt.Dropped() != 1 || rt.Forwarded() != 0 {
		t.Fatalf("expected the expired datagram to be dropped, got forwarded=%d dropped=%d", rt.Forwarded(), rt.Dropped())
	}

	survivor := wire.IPv4Datagram{Src: net.ParseIP("1.1.1.1"), Dst: net.ParseIP("2.2.2.2"), TTL: 5, Protocol: layers.IPProtocolTCP}
	queue = []*wire.IPv4Datagram{&survivor}
	rt.Route(func(idx int) (*wire.IPv4Datagram, bool) {
		if idx != 0 || len(queue) == 0 {
			return nil, false
		}
		d := queue[0]
		queue = queue[1:]
		return d, true
	})
	if rt.Forwarded() != 1 {
		t.Fatalf("expected the surviving datagram to be forwarded, got %d", rt.Forwarded())
	}
	if survivor.TTL != 4 {
		t.Fatalf("expected ttl decremented to 4, got %d", survivor.TTL)
	}
}

// TestRouterDropsUnroutable checks a datagram with no matching route is
// silently dropped rather than forwarded.
func TestRouterDropsUnroutable(t *testing.T) {
	if0 := netif.New(mustMAC("02:00:00:00:00:01"), net.ParseIP("192.168.0.1"))
	rt := New([]*netif.Interface{if0})
	// no routes added

	dgram := wire.IPv4Datagram{Src: net.ParseIP("1.1.1.1"), Dst: net.ParseIP("2.2.2.2"), TTL: 5, Protocol: layers.IPProtocolTCP}
	queue := []*wire.IPv4Datagram{&dgram}
	rt.Route(func(idx int) (*wire.IPv4Datagram, bool) {
		if idx != 0 || len(queue) == 0 {
			return nil, false
		}
		d := queue[0]
		queue = queue[1:]
		return d, true
	})
	if rt.Dropped() != 1 || rt.Forwarded() != 0 {
		t.Fatalf("expected unroutable datagram to be dropped, got forwarded=%d dropped=%d", rt.Forwarded(), rt.Dropped())
	}
}
