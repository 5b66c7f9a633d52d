package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxorio/diskbuffer/pkg/diskbuffer"
)

// UsageSource is satisfied by *diskbuffer.UsageTracker.
type UsageSource interface {
	Snapshot() diskbuffer.Usage
}

// BufferCollector exports a buffer's usage counters at scrape time, so the
// values always match the ledger.
type BufferCollector struct {
	source UsageSource

	receivedEvents *prometheus.Desc
	receivedBytes  *prometheus.Desc
	sentEvents     *prometheus.Desc
	sentBytes      *prometheus.Desc
	droppedEvents  *prometheus.Desc
	rejectedEvents *prometheus.Desc
	bufferRecords  *prometheus.Desc
	bufferBytes    *prometheus.Desc
	maxBytes       *prometheus.Desc
	maxRecords     *prometheus.Desc
}

var _ prometheus.Collector = (*BufferCollector)(nil)

// NewBufferCollector creates a collector for one buffer. bufferID becomes
// the buffer_id label and must be unique per registry.
func NewBufferCollector(bufferID string, source UsageSource) *BufferCollector {
	labels := prometheus.Labels{"buffer_id": bufferID}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("diskbuffer_"+name, help, nil, labels)
	}
	return &BufferCollector{
		source:         source,
		receivedEvents: desc("received_events_total", "Events accepted by the writer"),
		receivedBytes:  desc("received_bytes_total", "Framed bytes accepted by the writer"),
		sentEvents:     desc("sent_events_total", "Events handed to the reader"),
		sentBytes:      desc("sent_bytes_total", "Framed bytes handed to the reader"),
		droppedEvents:  desc("dropped_events_total", "Events discarded because the buffer was full"),
		rejectedEvents: desc("rejected_events_total", "Events rejected by the consumer since the buffer was opened"),
		bufferRecords:  desc("buffer_records", "Unacknowledged records"),
		bufferBytes:    desc("buffer_byte_size", "Framed bytes of unacknowledged records"),
		maxBytes:       desc("buffer_max_byte_size", "Configured byte capacity, 0 when unbounded"),
		maxRecords:     desc("buffer_max_records", "Configured record capacity, 0 when unbounded"),
	}
}

// Describe implements prometheus.Collector.
func (c *BufferCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs() {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *BufferCollector) Collect(ch chan<- prometheus.Metric) {
	u := c.source.Snapshot()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}

	counter(c.receivedEvents, u.ReceivedEventCount)
	counter(c.receivedBytes, u.ReceivedByteSize)
	counter(c.sentEvents, u.SentEventCount)
	counter(c.sentBytes, u.SentByteSize)
	counter(c.droppedEvents, u.DroppedEventCount)
	counter(c.rejectedEvents, u.RejectedEventCount)
	gauge(c.bufferRecords, u.BufferedRecords)
	gauge(c.bufferBytes, u.BufferedByteSize)
	gauge(c.maxBytes, u.MaxBufferSize)
	gauge(c.maxRecords, u.MaxRecords)
}

func (c *BufferCollector) descs() []*prometheus.Desc {
	return []*prometheus.Desc{
		c.receivedEvents, c.receivedBytes, c.sentEvents, c.sentBytes,
		c.droppedEvents, c.rejectedEvents, c.bufferRecords, c.bufferBytes,
		c.maxBytes, c.maxRecords,
	}
}

// RegisterBuffer registers a collector for source on registerer, or on
// DefaultRegisterer when registerer is nil.
func RegisterBuffer(registerer prometheus.Registerer, bufferID string, source UsageSource) (*BufferCollector, error) {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	c := NewBufferCollector(bufferID, source)
	if err := registerer.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}
