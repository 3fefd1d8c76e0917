// Package metrics records token throughput and forward step latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "qwenrun"

type Phase string

const (
	PhasePrefill Phase = "prefill"
	PhaseDecode  Phase = "decode"
)

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newHistogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

// Metrics holds the collectors of one process. A nil *Metrics discards
// observations.
type Metrics struct {
	Registry *prometheus.Registry

	tokens *prometheus.CounterVec
	steps  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		tokens:   newCounterVec("", "tokens_total", "Tokens processed by forward steps.", "phase"),
		steps: newHistogramVec("", "step_seconds", "Duration of a single forward step.",
			prometheus.ExponentialBuckets(0.0005, 2, 16), "phase"),
	}

	m.Registry.MustRegister(m.tokens, m.steps)
	return m
}

// ObserveStep records one forward step of phase taking d.
func (m *Metrics) ObserveStep(phase Phase, d time.Duration) {
	if m == nil {
		return
	}

	m.tokens.WithLabelValues(string(phase)).Inc()
	m.steps.WithLabelValues(string(phase)).Observe(d.Seconds())
}

// Summary is the step count and total step time of each phase.
type Summary struct {
	PromptTokens   int
	PromptDuration time.Duration
	EvalTokens     int
	EvalDuration   time.Duration
}

// Summarize reads the step histograms back from the registry.
func (m *Metrics) Summarize() (Summary, error) {
	var s Summary
	if m == nil {
		return s, nil
	}

	families, err := m.Registry.Gather()
	if err != nil {
		return s, err
	}

	for _, family := range families {
		if family.GetName() != namespace+"_step_seconds" {
			continue
		}

		for _, metric := range family.GetMetric() {
			count, sum := histogram(metric)
			switch phaseOf(metric) {
			case PhasePrefill:
				s.PromptTokens, s.PromptDuration = count, sum
			case PhaseDecode:
				s.EvalTokens, s.EvalDuration = count, sum
			}
		}
	}

	return s, nil
}

func phaseOf(m *dto.Metric) Phase {
	for _, label := range m.GetLabel() {
		if label.GetName() == "phase" {
			return Phase(label.GetValue())
		}
	}
	return ""
}

func histogram(m *dto.Metric) (int, time.Duration) {
	h := m.GetHistogram()
	return int(h.GetSampleCount()), time.Duration(h.GetSampleSum() * float64(time.Second))
}

// Rate is tokens per second, or zero when d is zero.
func Rate(tokens int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(tokens) / d.Seconds()
}
