// Package metrics exposes a prometheus.Collector over live tcpstack
// components. Registration is opt-in: the core tcp/netif/router packages
// take no dependency on metrics, only the reverse, so adding observability
// never introduces a cyclic reference (spec.md §9).
//
// The guarded-map-of-live-objects shape and the Describe/Collect split are
// grounded on runZeroInc-sockstats's pkg/exporter.TCPInfoCollector, which
// collects per-connection stats from a mutex-protected map the owner
// populates with Add/Remove.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinyrange/tcpstack/internal/netif"
	"github.com/tinyrange/tcpstack/internal/router"
	"github.com/tinyrange/tcpstack/internal/tcp"
)

var (
	retransmissionsDesc = prometheus.NewDesc(
		"tcpstack_sender_retransmissions_total",
		"Consecutive RTO-triggered retransmissions since the last acknowledgement of new data.",
		[]string{"connection"}, nil,
	)
	bytesInFlightDesc = prometheus.NewDesc(
		"tcpstack_sender_bytes_in_flight",
		"Sequence numbers currently outstanding (unacknowledged).",
		[]string{"connection"}, nil,
	)
	receiverWindowDesc = prometheus.NewDesc(
		"tcpstack_receiver_window_bytes",
		"Last window size advertised by the peer, as observed by the local sender.",
		[]string{"connection"}, nil,
	)
	arpCacheEntriesDesc = prometheus.NewDesc(
		"tcpstack_arp_cache_entries",
		"Number of distinct next-hop IPs currently tracked in the interface's ARP cache.",
		[]string{"interface"}, nil,
	)
	routerForwardedDesc = prometheus.NewDesc(
		"tcpstack_router_forwarded_total",
		"Cumulative count of datagrams successfully forwarded.",
		[]string{"router"}, nil,
	)
	routerDroppedDesc = prometheus.NewDesc(
		"tcpstack_router_dropped_total",
		"Cumulative count of dropped datagrams, by reason.",
		[]string{"router", "reason"}, nil,
	)
)

// dropReasons lists every router.DropReason value Collect reports, so a
// reason that never fires still reports an explicit zero rather than being
// absent from scrapes.
var dropReasons = []router.DropReason{
	router.DropTTLExpired,
	router.DropUnroutable,
	router.DropSendFailed,
}

// Collector implements prometheus.Collector over every tcpstack component
// registered with it. The zero value is ready to use.
type Collector struct {
	mu         sync.Mutex
	conns      map[string]*tcp.Sender
	interfaces map[string]*netif.Interface
	routers    map[string]*router.Router
}

// NewCollector constructs an empty Collector. Call AddConnection,
// AddInterface, and AddRouter to register components before
// prometheus.MustRegister-ing it.
func NewCollector() *Collector {
	return &Collector{
		conns:      make(map[string]*tcp.Sender),
		interfaces: make(map[string]*netif.Interface),
		routers:    make(map[string]*router.Router),
	}
}

// AddConnection registers a Sender under a connection label (e.g.
// "10.0.0.1:1234->10.0.0.2:80"). The receiver's advertised window is read
// off the same Sender, since that is where the peer's window arrives
// (spec.md §4.5 Receive).
func (c *Collector) AddConnection(label string, s *tcp.Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[label] = s
}

// RemoveConnection unregisters a connection label, e.g. once its FIN has
// fully drained.
func (c *Collector) RemoveConnection(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, label)
}

// AddInterface registers a NetworkInterface under a label.
func (c *Collector) AddInterface(label string, ifc *netif.Interface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interfaces[label] = ifc
}

// AddRouter registers a Router under a label.
func (c *Collector) AddRouter(label string, rt *router.Router) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routers[label] = rt
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- retransmissionsDesc
	descs <- bytesInFlightDesc
	descs <- receiverWindowDesc
	descs <- arpCacheEntriesDesc
	descs <- routerForwardedDesc
	descs <- routerDroppedDesc
}

// Collect implements prometheus.Collector. It takes only the mutex that
// guards the registration maps; the core components it reads from carry no
// locks of their own, and their state is read without synchronization.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for label, s := range c.conns {
		metrics <- prometheus.MustNewConstMetric(retransmissionsDesc, prometheus.CounterValue, float64(s.RetransmissionCount()), label)
		metrics <- prometheus.MustNewConstMetric(bytesInFlightDesc, prometheus.GaugeValue, float64(s.SequenceNumbersInFlight()), label)
		metrics <- prometheus.MustNewConstMetric(receiverWindowDesc, prometheus.GaugeValue, float64(s.Window()), label)
	}

	for label, ifc := range c.interfaces {
		metrics <- prometheus.MustNewConstMetric(arpCacheEntriesDesc, prometheus.GaugeValue, float64(ifc.ARPCacheSize()), label)
	}

	for label, rt := range c.routers {
		metrics <- prometheus.MustNewConstMetric(routerForwardedDesc, prometheus.CounterValue, float64(rt.Forwarded()), label)
		for _, reason := range dropReasons {
			metrics <- prometheus.MustNewConstMetric(routerDroppedDesc, prometheus.CounterValue, float64(rt.DroppedByReason(reason)), label, string(reason))
		}
	}
}
