package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 流式管线指标
var (
	turnCounter *prometheus.CounterVec
	tokenCounter prometheus.Counter
)

func init() {
	turnCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Total number of conversation turns by terminal state",
		},
		[]string{"state"}, // states: started, completed, failed, cancelled
	)

	tokenCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_stream_tokens_total",
			Help: "Total number of output tokens streamed from providers",
		},
	)
}
