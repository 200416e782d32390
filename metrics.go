package mqtt

import (
	"strconv"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// MetricTypeCounter is a monotonically increasing counter.
	MetricTypeCounter MetricType = 0
	// MetricTypeGauge is a value that can go up and down.
	MetricTypeGauge MetricType = 1
	// MetricTypeHistogram tracks distribution of values.
	MetricTypeHistogram MetricType = 2
)

// String returns the string representation of the metric type.
func (t MetricType) String() string {
	switch t {
	case MetricTypeCounter:
		return "counter"
	case MetricTypeGauge:
		return "gauge"
	case MetricTypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics defines the interface for collecting metrics.
type Metrics interface {
	// Counter returns a counter metric.
	Counter(name string, labels MetricLabels) Counter

	// Gauge returns a gauge metric.
	Gauge(name string, labels MetricLabels) Gauge

	// Histogram returns a histogram metric.
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()

	// Add adds the given value to the counter.
	Add(delta float64)

	// Value returns the current value.
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	// Set sets the gauge to the given value.
	Set(value float64)

	// Inc increments the gauge by 1.
	Inc()

	// Dec decrements the gauge by 1.
	Dec()

	// Add adds the given value to the gauge.
	Add(delta float64)

	// Sub subtracts the given value from the gauge.
	Sub(delta float64)

	// Value returns the current value.
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	// Observe records a value.
	Observe(value float64)

	// ObserveDuration records a duration in seconds.
	ObserveDuration(d time.Duration)

	// Count returns the number of observations.
	Count() uint64

	// Sum returns the sum of all observations.
	Sum() float64
}

// NoOpMetrics is a no-op implementation of Metrics.
type NoOpMetrics struct{}

// Counter returns a no-op counter.
func (n *NoOpMetrics) Counter(_ string, _ MetricLabels) Counter {
	return &noOpCounter{}
}

// Gauge returns a no-op gauge.
func (n *NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge {
	return &noOpGauge{}
}

// Histogram returns a no-op histogram.
func (n *NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram {
	return &noOpHistogram{}
}

type noOpCounter struct{}

func (n *noOpCounter) Inc()           {}
func (n *noOpCounter) Add(_ float64)  {}
func (n *noOpCounter) Value() float64 { return 0 }

type noOpGauge struct{}

func (n *noOpGauge) Set(_ float64)  {}
func (n *noOpGauge) Inc()           {}
func (n *noOpGauge) Dec()           {}
func (n *noOpGauge) Add(_ float64)  {}
func (n *noOpGauge) Sub(_ float64)  {}
func (n *noOpGauge) Value() float64 { return 0 }

type noOpHistogram struct{}

func (n *noOpHistogram) Observe(_ float64)            {}
func (n *noOpHistogram) ObserveDuration(_ time.Duration) {}
func (n *noOpHistogram) Count() uint64                { return 0 }
func (n *noOpHistogram) Sum() float64                 { return 0 }

// Client metric names.
const (
	MetricPacketsSent     = "mqtt_client_packets_sent_total"
	MetricPacketsReceived = "mqtt_client_packets_received_total"
	MetricBytesSent       = "mqtt_client_bytes_sent_total"

	// MetricPublishes counts PUBLISH packets accepted by the API.
	MetricPublishes = "mqtt_client_publishes_total"

	// MetricRetries counts PUBLISH and PUBREL retransmissions.
	MetricRetries = "mqtt_client_retries_total"

	MetricPings           = "mqtt_client_pings_total"
	MetricDeliveries      = "mqtt_client_deliveries_total"
	MetricMalformed       = "mqtt_client_malformed_packets_total"
	MetricConnects        = "mqtt_client_connects_total"
	MetricConnectionsLost = "mqtt_client_connections_lost_total"
	MetricReconnects      = "mqtt_client_reconnects_total"

	// MetricInflight is the number of outbound QoS 1 and 2 records.
	MetricInflight = "mqtt_client_inflight"

	MetricConnectDuration = "mqtt_client_connect_duration_seconds"
)

// Metric labels.
const (
	LabelPacketType = "packet_type"
	LabelQoS        = "qos"
	LabelReasonCode = "reason_code"
)

// clientMetrics records engine events against a Metrics backend.
type clientMetrics struct {
	metrics Metrics
}

func newClientMetrics(m Metrics) *clientMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &clientMetrics{metrics: m}
}

func (c *clientMetrics) packetSent(pt PacketType, n int) {
	c.metrics.Counter(MetricPacketsSent, MetricLabels{LabelPacketType: pt.String()}).Inc()
	c.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
}

func (c *clientMetrics) packetReceived(pt PacketType) {
	c.metrics.Counter(MetricPacketsReceived, MetricLabels{LabelPacketType: pt.String()}).Inc()
}

func (c *clientMetrics) published(qos byte) {
	c.metrics.Counter(MetricPublishes, MetricLabels{LabelQoS: strconv.Itoa(int(qos))}).Inc()
}

func (c *clientMetrics) retried()   { c.metrics.Counter(MetricRetries, nil).Inc() }
func (c *clientMetrics) pinged()    { c.metrics.Counter(MetricPings, nil).Inc() }
func (c *clientMetrics) delivered() { c.metrics.Counter(MetricDeliveries, nil).Inc() }
func (c *clientMetrics) malformed() { c.metrics.Counter(MetricMalformed, nil).Inc() }

func (c *clientMetrics) connected(rc ReasonCode, d time.Duration) {
	c.metrics.Counter(MetricConnects, MetricLabels{LabelReasonCode: rc.String()}).Inc()
	if rc == ReasonSuccess {
		c.metrics.Histogram(MetricConnectDuration, nil).ObserveDuration(d)
	}
}

func (c *clientMetrics) connectionLost() {
	c.metrics.Counter(MetricConnectionsLost, nil).Inc()
}

func (c *clientMetrics) reconnecting() {
	c.metrics.Counter(MetricReconnects, nil).Inc()
}

func (c *clientMetrics) inflight(delta float64) {
	c.metrics.Gauge(MetricInflight, nil).Add(delta)
}
