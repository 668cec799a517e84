// Package kcpmetrics exports server statistics to Prometheus.
package kcpmetrics

import (
	"github.com/geph-official/gamekcp/libs/kcpnet"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is anything that publishes server snapshots, normally a
// *kcpnet.Server.
type StatsSource interface {
	Stats() kcpnet.ServerStats
}

type counter struct {
	desc *prometheus.Desc
	get  func(kcpnet.ServerStats) float64
}

// Collector reads one snapshot per scrape.
type Collector struct {
	source      StatsSource
	connections *prometheus.Desc
	counters    []counter
}

// NewCollector creates a collector. namespace prefixes every metric name.
func NewCollector(namespace string, source StatsSource) *Collector {
	const subsystem = "server"
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	count := func(name, help string, get func(kcpnet.ServerStats) float64) counter {
		return counter{desc(name, help), get}
	}
	return &Collector{
		source:      source,
		connections: desc("connections", "Live sessions by handshake state", "state"),
		counters: []counter{
			count("accepted_total", "Sessions created", func(s kcpnet.ServerStats) float64 { return float64(s.Accepted) }),
			count("rejected_total", "Endpoints rejected on first contact", func(s kcpnet.ServerStats) float64 { return float64(s.Rejected) }),
			count("blacklisted_total", "Datagrams dropped from blacklisted endpoints", func(s kcpnet.ServerStats) float64 { return float64(s.Blacklisted) }),
			count("rate_limited_total", "Datagrams dropped by the per-endpoint rate limit", func(s kcpnet.ServerStats) float64 { return float64(s.RateLimited) }),
			count("socket_received_total", "Datagrams read from the socket", func(s kcpnet.ServerStats) float64 { return float64(s.SocketReceived) }),
			count("socket_dropped_total", "Datagrams dropped because the read queue was full", func(s kcpnet.ServerStats) float64 { return float64(s.SocketDropped) }),
			count("out_packets_total", "Reliable datagrams sent", func(s kcpnet.ServerStats) float64 { return float64(s.OutPkts) }),
			count("out_bytes_total", "Reliable bytes sent", func(s kcpnet.ServerStats) float64 { return float64(s.OutBytes) }),
			count("in_segments_total", "Segments received", func(s kcpnet.ServerStats) float64 { return float64(s.InSegs) }),
			count("retransmits_total", "Segments retransmitted", func(s kcpnet.ServerStats) float64 { return float64(s.RetransSegs) }),
			count("fast_retransmits_total", "Segments retransmitted before their timeout", func(s kcpnet.ServerStats) float64 { return float64(s.FastRetransSegs) }),
			count("lost_segments_total", "Retransmission timeouts", func(s kcpnet.ServerStats) float64 { return float64(s.LostSegs) }),
			count("repeat_segments_total", "Duplicate segments received", func(s kcpnet.ServerStats) float64 { return float64(s.RepeatSegs) }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	for _, m := range c.counters {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue,
		float64(st.Authenticated), "authenticated")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue,
		float64(st.Connections-st.Authenticated), "handshaking")
	for _, m := range c.counters {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, m.get(st))
	}
}
