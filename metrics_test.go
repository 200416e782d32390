package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricTypeString(t *testing.T) {
	assert.Equal(t, "counter", MetricTypeCounter.String())
	assert.Equal(t, "gauge", MetricTypeGauge.String())
	assert.Equal(t, "histogram", MetricTypeHistogram.String())
}

func TestNoOpMetrics(t *testing.T) {
	m := &NoOpMetrics{}

	c := m.Counter("x", nil)
	c.Inc()
	c.Add(3)
	assert.Equal(t, float64(0), c.Value())

	g := m.Gauge("x", nil)
	g.Set(5)
	assert.Equal(t, float64(0), g.Value())

	h := m.Histogram("x", nil)
	h.ObserveDuration(time.Second)
	assert.Equal(t, uint64(0), h.Count())
}

func TestClientMetrics(t *testing.T) {
	mem := NewMemoryMetrics()
	cm := newClientMetrics(mem)

	cm.packetSent(PacketPUBLISH, 20)
	cm.packetSent(PacketPINGREQ, 2)
	cm.packetReceived(PacketPUBACK)
	cm.published(QoS1)
	cm.retried()
	cm.pinged()
	cm.delivered()
	cm.malformed()
	cm.connected(ReasonSuccess, 50*time.Millisecond)
	cm.connected(ReasonNotAuthorized, 0)
	cm.connectionLost()
	cm.reconnecting()
	cm.inflight(2)
	cm.inflight(-1)

	assert.Equal(t, float64(1), mem.CounterValue(MetricPacketsSent, MetricLabels{LabelPacketType: "PUBLISH"}))
	assert.Equal(t, float64(2), mem.CounterTotal(MetricPacketsSent))
	assert.Equal(t, float64(22), mem.CounterValue(MetricBytesSent, nil))
	assert.Equal(t, float64(1), mem.CounterValue(MetricPacketsReceived, MetricLabels{LabelPacketType: "PUBACK"}))
	assert.Equal(t, float64(1), mem.CounterValue(MetricPublishes, MetricLabels{LabelQoS: "1"}))
	assert.Equal(t, float64(1), mem.CounterValue(MetricRetries, nil))
	assert.Equal(t, float64(1), mem.CounterValue(MetricPings, nil))
	assert.Equal(t, float64(1), mem.CounterValue(MetricDeliveries, nil))
	assert.Equal(t, float64(1), mem.CounterValue(MetricMalformed, nil))
	assert.Equal(t, float64(2), mem.CounterTotal(MetricConnects))
	assert.Equal(t, uint64(1), mem.HistogramCount(MetricConnectDuration, nil))
	assert.Equal(t, float64(1), mem.CounterValue(MetricConnectionsLost, nil))
	assert.Equal(t, float64(1), mem.CounterValue(MetricReconnects, nil))
	assert.Equal(t, float64(1), mem.GaugeValue(MetricInflight, nil))
}

func TestClientMetricsNilBackend(t *testing.T) {
	cm := newClientMetrics(nil)
	assert.NotPanics(t, func() {
		cm.published(QoS0)
		cm.inflight(1)
	})
}
