// Package metrics instruments a training run with Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pivot-spdz/dtree-client/pkg/input"
	"github.com/pivot-spdz/dtree-client/pkg/training"
)

const namespace = "dtree_client"

// Metrics holds the collectors of one client process. It implements
// input.Recorder and training.Observer.
type Metrics struct {
	reg *prometheus.Registry

	valuesShared   prometheus.Counter
	batches        prometheus.Counter
	publicValues   prometheus.Counter
	tripleFailures prometheus.Counter
	phaseSeconds   *prometheus.HistogramVec
	state          prometheus.Gauge
}

// New registers the client collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		valuesShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "values_shared_total",
			Help:      "Private values delivered to the engines.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Triple round trips completed.",
		}),
		publicValues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "public_values_total",
			Help:      "Public parameters broadcast to the engines.",
		}),
		tripleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triple_check_failures_total",
			Help:      "Reconstructed triples that failed a*b=c.",
		}),
		phaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each training state.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"state"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current training state as its ordinal.",
		}),
	}
	m.reg.MustRegister(
		m.valuesShared,
		m.batches,
		m.publicValues,
		m.tripleFailures,
		m.phaseSeconds,
		m.state,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ValuesShared(n int) { m.valuesShared.Add(float64(n)) }

func (m *Metrics) BatchShared() { m.batches.Inc() }

func (m *Metrics) PublicShared(n int) { m.publicValues.Add(float64(n)) }

func (m *Metrics) TripleFailure() { m.tripleFailures.Inc() }

// StateEntered exports s as its ordinal.
func (m *Metrics) StateEntered(s training.State) { m.state.Set(float64(s)) }

// PhaseDone records how long the run stayed in s.
func (m *Metrics) PhaseDone(s training.State, d time.Duration) {
	m.phaseSeconds.WithLabelValues(s.String()).Observe(d.Seconds())
}

var (
	_ training.Observer = (*Metrics)(nil)
	_ input.Recorder    = (*Metrics)(nil)
)
