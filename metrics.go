package offlinecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of a worker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	cacheWrites   *prometheus.CounterVec
	installs      *prometheus.CounterVec
	activations   *prometheus.CounterVec
	deletedCaches prometheus.Counter
	syncedForms   *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	pushes        *prometheus.CounterVec
}

// NewMetrics creates the worker collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_requests_total",
				Help: "Intercepted requests by classification and outcome",
			},
			[]string{"class", "outcome"},
		),
		cacheWrites: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_cache_writes_total",
				Help: "Cache writes by cache and result",
			},
			[]string{"cache", "result"}, // "ok", "error", "skipped"
		),
		installs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_installs_total",
				Help: "Install attempts by result",
			},
			[]string{"result"},
		),
		activations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_activations_total",
				Help: "Activation attempts by result",
			},
			[]string{"result"},
		),
		deletedCaches: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "offline_cache_deleted_caches_total",
				Help: "Caches of old versions deleted on activation",
			},
		),
		syncedForms: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_synced_forms_total",
				Help: "Pending forms sent by background sync, by result",
			},
			[]string{"result"},
		),
		refreshes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_refreshed_entries_total",
				Help: "Static entries refreshed by periodic sync, by result",
			},
			[]string{"result"},
		),
		pushes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_push_messages_total",
				Help: "Push messages by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) request(class, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) cacheWrite(cache, result string) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) install(err error) {
	if m == nil {
		return
	}
	m.installs.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) activation(err error, deleted int) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(resultLabel(err)).Inc()
	m.deletedCaches.Add(float64(deleted))
}

func (m *Metrics) syncedForm(ok bool) {
	if m == nil {
		return
	}
	m.syncedForms.WithLabelValues(okLabel(ok)).Inc()
}

func (m *Metrics) refreshed(ok bool) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(okLabel(ok)).Inc()
}

func (m *Metrics) push(result string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(result).Inc()
}

func resultLabel(err error) string {
	return okLabel(err == nil)
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
