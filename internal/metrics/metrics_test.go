package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncReconnect()
		IncEvent("booking-created", "applied")
		IncCacheMutation("live", "upsert")
		IncRefetch("assigned", "ok")
		IncNotification("booking-created", "added")
	})
}

func TestChannelStateGauge(t *testing.T) {
	all := []string{"connecting", "attached", "suspended"}

	SetChannelState("attached", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(channelState.WithLabelValues("attached")))
	assert.Equal(t, 0.0, testutil.ToFloat64(channelState.WithLabelValues("connecting")))

	SetChannelState("suspended", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(channelState.WithLabelValues("attached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(channelState.WithLabelValues("suspended")))
}

func TestUnreadGauge(t *testing.T) {
	SetUnread(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(unreadNotifications))
}
