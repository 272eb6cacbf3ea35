package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the relay. All methods are safe on a nil
// receiver so callers can run without metrics.
type Metrics struct {
	IdentitiesCreated prometheus.Counter
	Identities        prometheus.Gauge
	ContactsAdded     prometheus.Counter
	ContactAddFailed  *prometheus.CounterVec // reason
	MessagesDeposited prometheus.Counter
	MessagesRejected  *prometheus.CounterVec // reason
	MessagesDelivered prometheus.Counter
	MessagesPurged    prometheus.Counter
	NotifyFailures    prometheus.Counter
	NotifyDropped     prometheus.Counter

	// Turn latency by operation: identify, command, text
	TurnLatency *prometheus.HistogramVec
}

// New registers the relay metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the relay metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IdentitiesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_identities_created_total",
			Help: "Total number of identities assigned",
		}),
		Identities: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_identities",
			Help: "Number of registered identities",
		}),
		ContactsAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_contacts_added_total",
			Help: "Total number of contacts added",
		}),
		ContactAddFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_contact_add_failures_total",
			Help: "Contact additions rejected, by reason",
		}, []string{"reason"}),
		MessagesDeposited: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_deposited_total",
			Help: "Total number of messages deposited into a mailbox",
		}),
		MessagesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_rejected_total",
			Help: "Messages rejected before deposit, by reason",
		}, []string{"reason"}),
		MessagesDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_delivered_total",
			Help: "Total number of messages drained to their recipient",
		}),
		MessagesPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_purged_total",
			Help: "Total number of undelivered messages removed by retention",
		}),
		NotifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_notify_failures_total",
			Help: "Notifications that failed after all retries",
		}),
		NotifyDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_notify_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full",
		}),
		TurnLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_turn_duration_seconds",
			Help:    "Duration of one inbound event, drain included",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementIdentitiesCreated() {
	if m != nil {
		m.IdentitiesCreated.Inc()
	}
}

func (m *Metrics) SetIdentities(n int) {
	if m != nil {
		m.Identities.Set(float64(n))
	}
}

func (m *Metrics) IncrementContactsAdded() {
	if m != nil {
		m.ContactsAdded.Inc()
	}
}

func (m *Metrics) IncrementContactAddFailed(reason string) {
	if m != nil {
		m.ContactAddFailed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncrementMessagesDeposited() {
	if m != nil {
		m.MessagesDeposited.Inc()
	}
}

func (m *Metrics) IncrementMessagesRejected(reason string) {
	if m != nil {
		m.MessagesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AddMessagesDelivered(n int) {
	if m != nil && n > 0 {
		m.MessagesDelivered.Add(float64(n))
	}
}

func (m *Metrics) AddMessagesPurged(n int) {
	if m != nil && n > 0 {
		m.MessagesPurged.Add(float64(n))
	}
}

func (m *Metrics) IncrementNotifyFailures() {
	if m != nil {
		m.NotifyFailures.Inc()
	}
}

func (m *Metrics) IncrementNotifyDropped() {
	if m != nil {
		m.NotifyDropped.Inc()
	}
}

// ObserveTurn records the duration of one inbound event.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveTurn(operation string, start time.Time) {
	if m != nil {
		m.TurnLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
