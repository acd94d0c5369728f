package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Datagram results.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busmirror",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "busmirror",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	datagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busmirror",
			Subsystem: "decode",
			Name:      "datagrams_total",
			Help:      "Datagrams handed to the decoder by source and result.",
		},
		[]string{"source", "result"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busmirror",
			Subsystem: "decode",
			Name:      "errors_total",
			Help:      "Decode failures by error kind.",
		},
		[]string{"source", "kind"},
	)
	decodedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busmirror",
			Subsystem: "decode",
			Name:      "bytes_total",
			Help:      "Bytes of successfully decoded datagrams.",
		},
		[]string{"source"},
	)
	decodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "busmirror",
			Subsystem: "decode",
			Name:      "duration_seconds",
			Help:      "Time spent decoding one datagram.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		},
		[]string{"source"},
	)
	dataItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busmirror",
			Subsystem: "decode",
			Name:      "data_items_total",
			Help:      "Decoded data items by network type.",
		},
		[]string{"network_type"},
	)
	frameIDIgnored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busmirror",
			Name:      "frame_id_ignored_total",
			Help:      "Data items flagging a frame id on a network type without a frame id layout.",
		},
		[]string{"network_type"},
	)
	sinkEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busmirror",
			Subsystem: "sink",
			Name:      "events_total",
			Help:      "Events dispatched to sinks by outcome.",
		},
		[]string{"sink", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, datagrams, decodeErrors,
			decodedBytes, decodeDuration, dataItems, frameIDIgnored, sinkEvents)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordDatagram counts one decode attempt. kind is only used for errors.
func RecordDatagram(source, result, kind string, size int, duration time.Duration) {
	RegisterMetrics()
	datagrams.WithLabelValues(source, result).Inc()
	decodeDuration.WithLabelValues(source).Observe(duration.Seconds())
	switch result {
	case ResultOK:
		decodedBytes.WithLabelValues(source).Add(float64(size))
	case ResultError:
		decodeErrors.WithLabelValues(source, kind).Inc()
	}
}

func RecordDataItem(networkType string, frameIDIgnoredFlag bool) {
	RegisterMetrics()
	dataItems.WithLabelValues(networkType).Inc()
	if frameIDIgnoredFlag {
		frameIDIgnored.WithLabelValues(networkType).Inc()
	}
}

func RecordSinkEvent(sink string, success bool) {
	RegisterMetrics()
	sinkEvents.WithLabelValues(sink, strconv.FormatBool(success)).Inc()
}
