package metrics

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/tinyrange/tcpstack/internal/netif"
	"github.com/tinyrange/tcpstack/internal/router"
	"github.com/tinyrange/tcpstack/internal/seqnum"
	"github.com/tinyrange/tcpstack/internal/tcp"
)

func mustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == name {
			return fam.GetMetric()
		}
	}
	return nil
}

func TestCollectorReportsSenderState(t *testing.T) {
	s := tcp.NewSender(seqnum.Value(0), 1000)
	s.Receive(tcp.ReceiverMessage{WindowSize: 4096})

	c := NewCollector()
	c.AddConnection("conn0", s)

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	metrics := gatherMetric(t, reg, "tcpstack_receiver_window_bytes")
	if len(metrics) != 1 {
		t.Fatalf("expected one receiver window metric, got %d", len(metrics))
	}
	if metrics[0].GetGauge().GetValue() != 4096 {
		t.Fatalf("expected window 4096, got %v", metrics[0].GetGauge().GetValue())
	}

	c.RemoveConnection("conn0")
	metrics = gatherMetric(t, reg, "tcpstack_receiver_window_bytes")
	if len(metrics) != 0 {
		t.Fatalf("expected no metrics after removal, got %d", len(metrics))
	}
}

func TestCollectorReportsInterfaceAndRouterState(t *testing.T) {
	if0 := netif.New(mustMAC("02:00:00:00:00:01"), net.ParseIP("192.168.0.1"))
	rt := router.New([]*netif.Interface{if0})
	rt.AddRoute(router.RouteEntry{Prefix: 0, Length: 0, InterfaceIndex: 0})

	c := NewCollector()
	c.AddInterface("if0", if0)
	c.AddRouter("rt0", rt)

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	arpMetrics := gatherMetric(t, reg, "tcpstack_arp_cache_entries")
	if len(arpMetrics) != 1 || arpMetrics[0].GetGauge().GetValue() != 0 {
		t.Fatalf("expected a single zero-valued arp cache gauge, got %+v", arpMetrics)
	}

	dropped := gatherMetric(t, reg, "tcpstack_router_dropped_total")
	if len(dropped) != len(dropReasons) {
		t.Fatalf("expected one dropped-total series per reason, got %d", len(dropped))
	}
}
