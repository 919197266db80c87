// Package metrics exposes Prometheus instruments for rule evaluation,
// activation and overrides. A nil *Collector is valid and records nothing,
// so services do not need to guard every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
)

// Collector owns the registry and every metric the service records.
type Collector struct {
	registry *prometheus.Registry

	evaluations        *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	ruleHits           *prometheus.CounterVec
	inconclusive       *prometheus.CounterVec
	droppedEvidence    *prometheus.CounterVec
	failClosed         *prometheus.CounterVec
	activations        *prometheus.CounterVec
	overrides          *prometheus.CounterVec
	cacheRefreshes     *prometheus.CounterVec
}

// New creates a collector registered on a fresh registry. Go runtime and
// process collectors are included.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "safety"
	}
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "evaluations_total",
			Help: "Rule-set evaluations by domain and outcome.",
		}, []string{"domain", "outcome"}),
		evaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "evaluation_duration_seconds",
			Help: "Duration of a full evaluate-sanitize-aggregate run.",
			// pure in-memory matching, expected well under 10ms
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
		}, []string{"domain"}),
		ruleHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "rule_hits_total",
			Help: "Findings produced, by rule and severity.",
		}, []string{"rule_id", "severity"}),
		inconclusive: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "rule_inconclusive_total",
			Help: "Rules that errored during evaluation.",
		}, []string{"rule_id"}),
		droppedEvidence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "evidence_dropped_total",
			Help: "Evidence items removed by provenance validation.",
		}, []string{"reason"}),
		failClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "fail_closed_total",
			Help: "Evaluations refused because no rule produced a result.",
		}, []string{"domain"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rules", Name: "activations_total",
			Help: "Rule version activation attempts by outcome.",
		}, []string{"outcome"}),
		overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "intake", Name: "overrides_total",
			Help: "Clinician overrides by target level and computed state.",
		}, []string{"level", "computed_state"}),
		cacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rules", Name: "cache_refreshes_total",
			Help: "Active rule-set cache refreshes by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.evaluations, c.evaluationDuration, c.ruleHits, c.inconclusive,
		c.droppedEvidence, c.failClosed, c.activations, c.overrides, c.cacheRefreshes,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Evaluation describes one completed run for recording.
type Evaluation struct {
	Domain        string
	Outcome       string
	Duration      time.Duration
	Hits          map[string]string // rule id -> severity
	Inconclusive  []string
	DroppedByKind map[string]int
}

// FromOutcome summarises an engine run for RecordEvaluation.
func FromOutcome[S engine.Level](domain, outcome string, d time.Duration, o engine.Outcome[S]) Evaluation {
	e := Evaluation{
		Domain:        domain,
		Outcome:       outcome,
		Duration:      d,
		Hits:          make(map[string]string, len(o.Evaluation.Findings)),
		DroppedByKind: make(map[string]int),
	}
	for _, f := range o.Evaluation.Findings {
		e.Hits[f.RuleID] = f.Severity.String()
	}
	for _, ic := range o.Evaluation.Inconclusive {
		e.Inconclusive = append(e.Inconclusive, ic.RuleID)
	}
	for _, dr := range o.Dropped {
		e.DroppedByKind[string(dr.Reason)]++
	}
	return e
}

// RecordEvaluation records the outcome of one evaluation run.
func (c *Collector) RecordEvaluation(e Evaluation) {
	if c == nil {
		return
	}
	c.evaluations.WithLabelValues(e.Domain, e.Outcome).Inc()
	c.evaluationDuration.WithLabelValues(e.Domain).Observe(e.Duration.Seconds())
	for id, sev := range e.Hits {
		c.ruleHits.WithLabelValues(id, sev).Inc()
	}
	for _, id := range e.Inconclusive {
		c.inconclusive.WithLabelValues(id).Inc()
	}
	for reason, n := range e.DroppedByKind {
		c.droppedEvidence.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordFailClosed counts a refused evaluation.
func (c *Collector) RecordFailClosed(domain string) {
	if c == nil {
		return
	}
	c.failClosed.WithLabelValues(domain).Inc()
}

// RecordActivation counts an activation attempt ("ok", "conflict", "not_draft", "error").
func (c *Collector) RecordActivation(outcome string) {
	if c == nil {
		return
	}
	c.activations.WithLabelValues(outcome).Inc()
}

// RecordOverride counts an override write.
func (c *Collector) RecordOverride(level, computedState string) {
	if c == nil {
		return
	}
	c.overrides.WithLabelValues(level, computedState).Inc()
}

// RecordCacheRefresh counts a cache refresh ("ok" or "error").
func (c *Collector) RecordCacheRefresh(outcome string) {
	if c == nil {
		return
	}
	c.cacheRefreshes.WithLabelValues(outcome).Inc()
}
