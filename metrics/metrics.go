// Package metrics holds the prometheus collectors of the auth service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "veltis"

type Metrics struct {
	NonceIssued     *prometheus.CounterVec
	NonceLookups    *prometheus.CounterVec
	Verifications   *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPRequestTime *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		NonceIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_issued_total",
			Help:      "Nonces issued, by the store that holds them",
		}, []string{"store"}),
		NonceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_lookup_total",
			Help:      "Nonce lookups, by store and result",
		}, []string{"store", "result"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_total",
			Help:      "Wallet signature verifications, by result",
		}, []string{"result"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Durable store failures, by store and operation",
		}, []string{"store", "op"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed",
		}, []string{"method", "path", "status"}),
		HTTPRequestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	for _, c := range []prometheus.Collector{
		m.NonceIssued, m.NonceLookups, m.Verifications, m.StoreErrors, m.HTTPRequests, m.HTTPRequestTime,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) IncNonceIssued(store string) {
	if m == nil {
		return
	}
	m.NonceIssued.WithLabelValues(store).Inc()
}

func (m *Metrics) IncNonceLookup(store, result string) {
	if m == nil {
		return
	}
	m.NonceLookups.WithLabelValues(store, result).Inc()
}

func (m *Metrics) IncVerification(result string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) IncStoreError(store, op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(store, op).Inc()
}

func (m *Metrics) ObserveHTTP(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestTime.WithLabelValues(method, path).Observe(seconds)
}
