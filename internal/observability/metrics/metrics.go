// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transcription_relay"

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// Client metrics
	ClientsTotal    prometheus.Counter
	ClientsActive   prometheus.Gauge
	ClientsEvicted  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Audio metrics
	AudioBytesReceived   prometheus.Counter
	AudioFramesReceived  prometheus.Counter
	AudioFramesThrottled prometheus.Counter
	AudioFramesQueued    prometheus.Counter
	AudioFramesDropped   *prometheus.CounterVec
	KeepAliveFrames      prometheus.Counter

	// Transcript metrics
	TranscriptsForwarded *prometheus.CounterVec
	TranscriptsFiltered  *prometheus.CounterVec

	// Upstream metrics
	UpstreamConnects       *prometheus.CounterVec
	UpstreamConnectLatency prometheus.Histogram
	UpstreamErrors         *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC control plane metrics
	GRPCCallsTotal   *prometheus.CounterVec
	GRPCCallDuration *prometheus.HistogramVec
	GRPCStreamsOpen  prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetricsWith(prometheus.DefaultRegisterer)

// NewMetricsWith creates all metrics and registers them with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClientsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clients_total",
			Help:      "Total number of relay clients accepted",
		}),
		ClientsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_active",
			Help:      "Number of currently registered relay clients",
		}),
		ClientsEvicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clients_evicted_total",
			Help:      "Total number of clients closed by the relay",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of relay client sessions in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
		}),

		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received from clients",
		}),
		AudioFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received from clients",
		}),
		AudioFramesThrottled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_throttled_total",
			Help:      "Total audio frames dropped by the per-client rate limit",
		}),
		AudioFramesQueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_queued_total",
			Help:      "Total audio frames queued while the upstream was connecting",
		}),
		AudioFramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped before reaching the upstream",
		}, []string{"reason"}),
		KeepAliveFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_frames_total",
			Help:      "Total small frames exempted from throttling",
		}),

		TranscriptsForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_forwarded_total",
			Help:      "Total transcripts forwarded to clients",
		}, []string{"type"}),
		TranscriptsFiltered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_filtered_total",
			Help:      "Total transcripts suppressed by the filter policy",
		}, []string{"reason"}),

		UpstreamConnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connects_total",
			Help:      "Total upstream connection attempts by result",
		}, []string{"provider", "result"}),
		UpstreamConnectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_connect_latency_seconds",
			Help:      "Time from client accept to upstream session established",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors",
		}, []string{"provider", "error_type"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		GRPCCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total gRPC calls handled by method and status code",
		}, []string{"method", "code"}),
		GRPCCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_call_duration_seconds",
			Help:      "gRPC call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		GRPCStreamsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_open",
			Help:      "Number of open gRPC server streams",
		}),
	}
}

// RecordClientStart records a client being registered.
func (m *Metrics) RecordClientStart() {
	m.ClientsTotal.Inc()
	m.ClientsActive.Inc()
}

// RecordClientEnd records a client leaving the registry.
func (m *Metrics) RecordClientEnd(durationSeconds float64) {
	m.ClientsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordEviction records the relay closing a client.
func (m *Metrics) RecordEviction(reason string) {
	m.ClientsEvicted.WithLabelValues(reason).Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordThrottled records a frame dropped by the rate limit.
func (m *Metrics) RecordThrottled() {
	m.AudioFramesThrottled.Inc()
}

// RecordKeepAlive records a frame exempted from throttling.
func (m *Metrics) RecordKeepAlive() {
	m.KeepAliveFrames.Inc()
}

// RecordQueued records a frame held while the upstream connects.
func (m *Metrics) RecordQueued() {
	m.AudioFramesQueued.Inc()
}

// RecordDropped records a frame that never reached the upstream.
func (m *Metrics) RecordDropped(reason string) {
	m.AudioFramesDropped.WithLabelValues(reason).Inc()
}

// RecordForwarded records a transcript sent to the client.
func (m *Metrics) RecordForwarded(kind string) {
	m.TranscriptsForwarded.WithLabelValues(kind).Inc()
}

// RecordFiltered records a transcript suppressed by the filter.
func (m *Metrics) RecordFiltered(reason string) {
	m.TranscriptsFiltered.WithLabelValues(reason).Inc()
}

// RecordUpstreamConnect records the outcome of an upstream connection attempt.
func (m *Metrics) RecordUpstreamConnect(provider, result string, latencySeconds float64) {
	m.UpstreamConnects.WithLabelValues(provider, result).Inc()
	if result == "established" {
		m.UpstreamConnectLatency.Observe(latencySeconds)
	}
}

// RecordUpstreamError records an upstream provider error.
func (m *Metrics) RecordUpstreamError(provider, errorType string) {
	m.UpstreamErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCCall records a completed unary call.
func (m *Metrics) RecordGRPCCall(method, code string, durationSeconds float64) {
	m.GRPCCallsTotal.WithLabelValues(method, code).Inc()
	m.GRPCCallDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordStreamStart records a server stream being opened.
func (m *Metrics) RecordStreamStart() {
	m.GRPCStreamsOpen.Inc()
}

// RecordStreamEnd records a server stream finishing.
func (m *Metrics) RecordStreamEnd(method, code string, durationSeconds float64) {
	m.GRPCStreamsOpen.Dec()
	m.RecordGRPCCall(method, code, durationSeconds)
}
