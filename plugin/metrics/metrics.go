// Package metrics provides a plugin that exports engine activity as
// Prometheus metrics. Register the Collector with a prometheus.Registerer
// and the plugin with the engine (bastion.WithPlugin).
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/bastion"
	"github.com/xraph/bastion/plugin"
	"github.com/xraph/bastion/rule"
)

const metricsNamespace = "bastion"

// Compile-time interface checks.
var (
	_ plugin.Plugin        = (*Collector)(nil)
	_ plugin.AfterEvaluate = (*Collector)(nil)
	_ plugin.RuleAdded     = (*Collector)(nil)
	_ plugin.RuleRejected  = (*Collector)(nil)
	_ plugin.RulesReloaded = (*Collector)(nil)
	_ prometheus.Collector = (*Collector)(nil)
)

// Collector is both an engine plugin and a prometheus.Collector.
type Collector struct {
	evaluations   *prometheus.CounterVec
	evalDuration  prometheus.Histogram
	rulesAdded    *prometheus.CounterVec
	rulesRejected prometheus.Counter
	rulesLoaded   prometheus.Gauge
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "evaluations_total",
				Help:      "The number of permission evaluations by reason and outcome.",
			}, []string{"reason", "allowed"},
		),
		evalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "evaluation_duration_seconds",
				Help:      "The time taken to resolve a permission.",
				Buckets:   []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 1e-2},
			},
		),
		rulesAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rules_added_total",
				Help:      "The number of rules added by scope and target kind.",
			}, []string{"scope", "target"},
		),
		rulesRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rules_rejected_total",
				Help:      "The number of rule writes rejected by validation, authorization or storage.",
			},
		),
		rulesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "rules_loaded",
				Help:      "The number of rules in the live index.",
			},
		),
	}
}

// Name implements plugin.Plugin.
func (c *Collector) Name() string { return "metrics" }

// OnAfterEvaluate records the outcome and latency of one evaluation.
func (c *Collector) OnAfterEvaluate(_ context.Context, _, decision any) error {
	d, ok := decision.(*bastion.Decision)
	if !ok || d == nil {
		return nil
	}
	allowed := "false"
	if d.Allowed {
		allowed = "true"
	}
	c.evaluations.WithLabelValues(string(d.Reason), allowed).Inc()
	c.evalDuration.Observe(time.Duration(d.EvalTimeNs).Seconds())
	return nil
}

// OnRuleAdded counts the rule and grows the loaded gauge.
func (c *Collector) OnRuleAdded(_ context.Context, r *rule.Rule) error {
	c.rulesAdded.WithLabelValues(string(r.Scope), string(r.Target.Kind)).Inc()
	c.rulesLoaded.Inc()
	return nil
}

// OnRuleRejected counts a refused write.
func (c *Collector) OnRuleRejected(_ context.Context, _ *rule.Rule, _ error) error {
	c.rulesRejected.Inc()
	return nil
}

// OnRulesReloaded resets the loaded gauge to the size of the new index.
func (c *Collector) OnRulesReloaded(_ context.Context, count int) error {
	c.rulesLoaded.Set(float64(count))
	return nil
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.evaluations.Describe(ch)
	c.evalDuration.Describe(ch)
	c.rulesAdded.Describe(ch)
	c.rulesRejected.Describe(ch)
	c.rulesLoaded.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.evaluations.Collect(ch)
	c.evalDuration.Collect(ch)
	c.rulesAdded.Collect(ch)
	c.rulesRejected.Collect(ch)
	c.rulesLoaded.Collect(ch)
}
