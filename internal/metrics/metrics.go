package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connected_clients",
		Help: "Current number of attached realtime subscribers",
	})
	MessagesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_appended_total",
		Help: "Total number of messages appended",
	})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_events_dropped_total",
		Help: "Total number of events dropped on full subscriber channels",
	})
	PushesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_pushes_sent_total",
		Help: "Total number of web push notifications delivered",
	})
	PushesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_pushes_failed_total",
		Help: "Total number of web push deliveries that failed",
	})
	CallsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_calls_finished_total",
		Help: "Total number of call sessions reaching a terminal state",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectedClients,
		MessagesAppended,
		EventsDropped,
		PushesSent,
		PushesFailed,
		CallsFinished,
	)
}
