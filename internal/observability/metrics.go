package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AutomatorCollector bundles Prometheus metrics for the observing automator
// and exposes them over HTTP.
type AutomatorCollector struct {
	gatherer prometheus.Gatherer

	Notifications   *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	Actions         *prometheus.CounterVec
	ActionDurations *prometheus.HistogramVec

	WatchedInstances  prometheus.Gauge
	TelescopeOnSource prometheus.Gauge
}

// NewAutomatorCollector registers automator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewAutomatorCollector(reg prometheus.Registerer) (*AutomatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	notifications, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automator_notifications_total",
		Help: "Keyspace notifications received, labeled by classification.",
	}, []string{"kind"}), "automator_notifications_total")
	if err != nil {
		return nil, err
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automator_transitions_total",
		Help: "Detected state transitions, labeled by subject (telescope or instance) and states.",
	}, []string{"subject", "from", "to"}), "automator_transitions_total")
	if err != nil {
		return nil, err
	}

	actions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automator_actions_total",
		Help: "External interface calls issued by the automator, labeled by action and result.",
	}, []string{"action", "result"}), "automator_actions_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "automator_action_duration_seconds",
		Help:    "Latency of external interface calls in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"action"}), "automator_action_duration_seconds")
	if err != nil {
		return nil, err
	}

	watched, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automator_watched_instances",
		Help: "Number of instances currently subscribed for recording-state updates.",
	}), "automator_watched_instances")
	if err != nil {
		return nil, err
	}

	onSource, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automator_telescope_on_source",
		Help: "1 when the last known telescope state is on_source, 0 otherwise.",
	}), "automator_telescope_on_source")
	if err != nil {
		return nil, err
	}

	return &AutomatorCollector{
		gatherer:          gatherer,
		Notifications:     notifications,
		Transitions:       transitions,
		Actions:           actions,
		ActionDurations:   durations,
		WatchedInstances:  watched,
		TelescopeOnSource: onSource,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *AutomatorCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// IncNotification counts a received notification by classification.
func (c *AutomatorCollector) IncNotification(kind string) {
	if c == nil || c.Notifications == nil {
		return
	}
	c.Notifications.WithLabelValues(kind).Inc()
}

// ObserveTransition counts a state change.
func (c *AutomatorCollector) ObserveTransition(subject, from, to string) {
	if c == nil || c.Transitions == nil {
		return
	}
	c.Transitions.WithLabelValues(subject, from, to).Inc()
}

// ObserveAction records the outcome and latency of an external call.
func (c *AutomatorCollector) ObserveAction(action string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	if c.Actions != nil {
		c.Actions.WithLabelValues(action, result).Inc()
	}
	if c.ActionDurations != nil {
		c.ActionDurations.WithLabelValues(action).Observe(d.Seconds())
	}
}

// SetWatched updates the watched-instance gauge.
func (c *AutomatorCollector) SetWatched(n int) {
	if c == nil || c.WatchedInstances == nil {
		return
	}
	c.WatchedInstances.Set(float64(n))
}

// SetOnSource updates the telescope gauge.
func (c *AutomatorCollector) SetOnSource(on bool) {
	if c == nil || c.TelescopeOnSource == nil {
		return
	}
	if on {
		c.TelescopeOnSource.Set(1)
		return
	}
	c.TelescopeOnSource.Set(0)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
