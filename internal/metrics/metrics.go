// Package metrics exposes Prometheus counters for the session core.
//
// A nil *Recorder is valid and records nothing, so components accept it as optional.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agm"

// Recorder groups the collectors registered for one process.
type Recorder struct {
	validations   *prometheus.CounterVec
	remember      *prometheus.CounterVec
	codecFailures *prometheus.CounterVec
	apiRequests   *prometheus.HistogramVec
}

// New creates collectors and registers them on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_validations_total",
			Help:      "Live session validations by role and outcome.",
		}, []string{"role", "outcome"}),
		remember: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remember_operations_total",
			Help:      "Remember-me store operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		codecFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codec_failures_total",
			Help:      "Obfuscation codec failures that fell back to the raw input.",
		}, []string{"op"}),
		apiRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Marketplace API request latency by endpoint and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "code"}),
	}
	if reg != nil {
		reg.MustRegister(r.validations, r.remember, r.codecFailures, r.apiRequests)
	}
	return r
}

// Validation counts one validator verdict.
func (r *Recorder) Validation(role, outcome string) {
	if r == nil {
		return
	}
	r.validations.WithLabelValues(role, outcome).Inc()
}

// Remember counts one remember-me store operation.
func (r *Recorder) Remember(op, outcome string) {
	if r == nil {
		return
	}
	r.remember.WithLabelValues(op, outcome).Inc()
}

// CodecFailure counts one fail-open fallback of the obfuscation codec.
func (r *Recorder) CodecFailure(op string) {
	if r == nil {
		return
	}
	r.codecFailures.WithLabelValues(op).Inc()
}

// APIRequest observes one marketplace API round trip. code 0 means transport error.
func (r *Recorder) APIRequest(endpoint string, code int, d time.Duration) {
	if r == nil {
		return
	}
	r.apiRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Observe(d.Seconds())
}
