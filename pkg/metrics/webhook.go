package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts inbound provider webhooks by source and outcome.
type WebhookMetrics struct {
	received *prometheus.CounterVec
	replayed *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// NewWebhookMetrics registers webhook counters on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_received",
		Help: "Inbound webhook deliveries accepted for processing.",
	}, []string{"source", "event"})
	replayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_replayed",
		Help: "Webhook deliveries skipped because they were already processed.",
	}, []string{"source"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected",
		Help: "Webhook deliveries rejected before processing.",
	}, []string{"source", "reason"})
	reg.MustRegister(received, replayed, rejected)
	return &WebhookMetrics{received: received, replayed: replayed, rejected: rejected}
}

// IncReceived counts an accepted delivery for the given event name.
func (w *WebhookMetrics) IncReceived(source, event string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(source), normalizeLabel(event)).Inc()
}

// IncReplayed counts a delivery that was dropped by the replay guard.
func (w *WebhookMetrics) IncReplayed(source string) {
	if w == nil || w.replayed == nil {
		return
	}
	w.replayed.WithLabelValues(normalizeLabel(source)).Inc()
}

// IncRejected counts a delivery rejected with the given reason label.
func (w *WebhookMetrics) IncRejected(source, reason string) {
	if w == nil || w.rejected == nil {
		return
	}
	w.rejected.WithLabelValues(normalizeLabel(source), normalizeLabel(reason)).Inc()
}
