// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts packets read from a source
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convo_capture_packets_total",
			Help: "Total number of packets read from the packet source",
		},
		[]string{"source"},
	)

	// CaptureDecodeErrorsTotal counts packets or streams that could not be decoded
	CaptureDecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convo_capture_decode_errors_total",
			Help: "Total number of decode failures by stage",
		},
		[]string{"stage"},
	)

	// MessagesTotal counts complete HTTP messages handed to conversations
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convo_messages_total",
			Help: "Total number of reassembled HTTP messages by protocol",
		},
		[]string{"proto"},
	)

	// MatchOutcomesTotal counts matcher decisions
	MatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convo_match_outcomes_total",
			Help: "Total number of submitted chunks by match outcome",
		},
		[]string{"outcome"},
	)

	// PendingRequests tracks requests waiting for a reply across all conversations
	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convo_pending_requests",
			Help: "Number of requests not yet matched to a reply",
		},
	)

	// ActiveConnections tracks connections with a live conversation
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convo_active_connections",
			Help: "Number of tracked TCP connections",
		},
	)

	// JSONFormatTotal counts pretty-print attempts by result
	JSONFormatTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convo_json_format_total",
			Help: "Total number of JSON pretty-print attempts by result",
		},
		[]string{"result"},
	)

	// RenderBytes tracks the size of rendered entry texts
	RenderBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convo_render_bytes",
			Help:    "Size of rendered entry text in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10), // 64B to ~16MB
		},
		[]string{"mode"},
	)
)

// JSON format results
const (
	JSONFormatted   = "formatted"
	JSONSkippedSize = "skipped_size"
	JSONInvalid     = "invalid"
	JSONNotJSON     = "not_json"
	JSONHeadersOnly = "headers_only"
)
