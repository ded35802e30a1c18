package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taxigate"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	channelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_channel_state",
			Help:      "1 for the current realtime channel state, 0 otherwise.",
		},
		[]string{"state"},
	)

	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Realtime transport dial attempts after the first.",
		},
	)

	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Realtime events dispatched by name and outcome.",
		},
		[]string{"event", "outcome"},
	)

	cacheMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_mutations_total",
			Help:      "Committed view cache mutations by view and operation.",
		},
		[]string{"view", "op"},
	)

	refetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_refetches_total",
			Help:      "Backend refetches by view and result.",
		},
		[]string{"view", "result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification feed pushes by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	unreadNotifications = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_unread",
			Help:      "Unread notification count.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			channelState,
			reconnects,
			eventsReceived,
			cacheMutations,
			refetches,
			notifications,
			unreadNotifications,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// SetChannelState flips the state gauge so only current reads 1.
func SetChannelState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		channelState.WithLabelValues(s).Set(v)
	}
}

func IncReconnect() {
	reconnects.Inc()
}

func IncEvent(event, outcome string) {
	eventsReceived.WithLabelValues(event, outcome).Inc()
}

func IncCacheMutation(view, op string) {
	cacheMutations.WithLabelValues(view, op).Inc()
}

func IncRefetch(view, result string) {
	refetches.WithLabelValues(view, result).Inc()
}

func IncNotification(kind, outcome string) {
	notifications.WithLabelValues(kind, outcome).Inc()
}

func SetUnread(n int) {
	unreadNotifications.Set(float64(n))
}
