package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/soypat/overnet"
)

func TestCollectorEmitsRegisteredSnapshot(t *testing.T) {
	c := NewCollector("overnet", "connection_id", nil)
	want := overnet.Stats{
		Sent: 10, Acked: 8, Nacked: 2,
		Outstanding: 1, QueuedSends: 0,
		BottleneckBandwidthBytesPerSec: 1 << 20,
		RoundTripTime:                  25 * time.Millisecond,
	}
	c.Add("conn-a", "conn-a", func() overnet.Stats { return want })

	descs := make(chan *prometheus.Desc, 16)
	c.Describe(descs)
	close(descs)
	var descCount int
	for range descs {
		descCount++
	}
	if descCount != len(c.infos) {
		t.Fatalf("want %d descriptors, got %d", len(c.infos), descCount)
	}

	metrics := make(chan prometheus.Metric, 16)
	c.Collect(metrics)
	close(metrics)
	var got int
	for m := range metrics {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("Write: %v", err)
		}
		got++
	}
	if got != len(c.infos) {
		t.Fatalf("want %d metrics for one registered connection, got %d", len(c.infos), got)
	}
}

func TestCollectorRemoveStopsEmitting(t *testing.T) {
	c := NewCollector("overnet", "connection_id", nil)
	c.Add("conn-a", "conn-a", func() overnet.Stats { return overnet.Stats{} })
	c.Remove("conn-a")

	metrics := make(chan prometheus.Metric, 16)
	c.Collect(metrics)
	close(metrics)
	for range metrics {
		t.Fatalf("want no metrics after Remove")
	}
}
