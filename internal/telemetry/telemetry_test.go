package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn", "shipflow")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRequest("send_order", "acme", "success", 0.2)
	m.RecordWebhook("acme", "matched")
	m.RecordWebhook("acme", "matched")
	m.RecordEventPublished("order.shipped", false)
	m.RecordEventDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("send_order", "acme", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhookOutcomes.WithLabelValues("acme", "matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("order.shipped", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("send_order", "acme", "success", 1)
		m.RecordError("acme", "RATE_LIMITED")
		m.RecordWebhook("acme", "invalid")
		m.RecordEventDropped()
		m.RecordEventPublished("x", true)
	})
}
