package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelaySessions tracks currently registered real-time sessions.
	RelaySessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_sessions",
			Help: "Live real-time sessions registered with the hub",
		},
	)

	// RelayDeliveryFailures counts broadcast deliveries that failed and evicted a session.
	RelayDeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_delivery_failures_total",
			Help: "Per-session delivery failures during broadcast",
		},
	)

	// EmotionClassifications counts classifier outcomes by resulting label.
	EmotionClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_classifications_total",
			Help: "Emotion classifications by label and outcome",
		},
		[]string{"label", "outcome"},
	)

	// ChatMessages counts inbound messages by pipeline result.
	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Inbound chat messages by pipeline result",
		},
		[]string{"result"},
	)

	// ChatPipelineSeconds observes end-to-end pipeline latency.
	ChatPipelineSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_pipeline_seconds",
			Help:    "Time spent processing one inbound chat message",
			Buckets: prometheus.DefBuckets,
		},
	)
)
