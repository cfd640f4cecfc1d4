// Package metrics exposes overnet.Protocol counters as Prometheus
// collectors, following a pull-model collector pattern: a registry of
// labeled entries, each polled on Collect rather
// than pushed, so the exporter never needs direct access to a Protocol's
// own single-threaded task.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/soypat/overnet"
)

// Snapshot is a thread-safe accessor for one Protocol's current counters.
// The caller is responsible for producing it safely: typically a small
// wrapper that samples Protocol.Stats() on the protocol's own task and
// publishes the result through an atomic.Pointer or a mutex-guarded field,
// since Protocol itself is not safe for concurrent use.
type Snapshot func() overnet.Stats

type entry struct {
	labels   []string
	snapshot Snapshot
}

type metricInfo struct {
	desc  *prometheus.Desc
	value func(overnet.Stats) float64
	kind  prometheus.ValueType
}

// Collector is a prometheus.Collector exposing one or more registered
// Overnet connections' counters under a shared connectionLabel (e.g.
// "connection_id"), plus any constLabels common to the whole process.
type Collector struct {
	mu      sync.Mutex
	entries map[string]entry
	infos   []metricInfo
}

// NewCollector returns a Collector. connectionLabel names the single label
// distinguishing one registered connection from another; constLabels are
// attached to every emitted metric unconditionally.
func NewCollector(prefix, connectionLabel string, constLabels prometheus.Labels) *Collector {
	c := &Collector{entries: make(map[string]entry)}
	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prefix+"_"+name, help, []string{connectionLabel}, constLabels)
	}
	c.infos = []metricInfo{
		{mk("sent_total", "Packets handed to the PacketSender."), func(s overnet.Stats) float64 { return float64(s.Sent) }, prometheus.CounterValue},
		{mk("acked_total", "Outstanding packets resolved as acked."), func(s overnet.Stats) float64 { return float64(s.Acked) }, prometheus.CounterValue},
		{mk("nacked_total", "Outstanding packets resolved as nacked."), func(s overnet.Stats) float64 { return float64(s.Nacked) }, prometheus.CounterValue},
		{mk("outstanding", "Packets sent but not yet resolved."), func(s overnet.Stats) float64 { return float64(s.Outstanding) }, prometheus.GaugeValue},
		{mk("queued_sends", "Requests waiting for a BBR transmit grant."), func(s overnet.Stats) float64 { return float64(s.QueuedSends) }, prometheus.GaugeValue},
		{mk("bottleneck_bandwidth_bytes_per_second", "BBR windowed-max bandwidth estimate."), func(s overnet.Stats) float64 { return s.BottleneckBandwidthBytesPerSec }, prometheus.GaugeValue},
		{mk("round_trip_time_seconds", "BBR windowed-min round trip time estimate."), func(s overnet.Stats) float64 { return s.RoundTripTime.Seconds() }, prometheus.GaugeValue},
	}
	return c
}

// Add registers id for export, labeled with labelValue, reading its
// counters through snapshot on every Collect.
func (c *Collector) Add(id string, labelValue string, snapshot Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry{labels: []string{labelValue}, snapshot: snapshot}
}

// Remove deregisters id, e.g. once a connection has fully closed.
func (c *Collector) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range c.infos {
		descs <- info.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		stats := e.snapshot()
		for _, info := range c.infos {
			metrics <- prometheus.MustNewConstMetric(info.desc, info.kind, info.value(stats), e.labels...)
		}
	}
}
