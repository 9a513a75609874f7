// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type CounterOpts Opts

func (co CounterOpts) toPrometheus() prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Name:        co.Name,
		Namespace:   co.Namespace,
		Subsystem:   co.Subsystem,
		Help:        co.Help,
		ConstLabels: co.ConstLabels,
	}
}

type Counter interface {
	prometheus.Counter
	WithMetadata

	Get() float64
}

func NewCounter(opts CounterOpts) Counter {
	return &counter{
		Counter: prometheus.NewCounter(opts.toPrometheus()),
		metric: metric{
			enabled: !opts.Disabled,
			opts:    Opts(opts),
		},
	}
}

type counter struct {
	prometheus.Counter
	metric
}

func (c *counter) Collect(metricChan chan<- prometheus.Metric) {
	if c.enabled {
		c.Counter.Collect(metricChan)
	}
}

func (c *counter) Describe(descChan chan<- *prometheus.Desc) {
	if c.Counter != nil {
		c.Counter.Describe(descChan)
	}
}

func (c *counter) Get() float64 {
	if c.Counter == nil {
		return 0
	}
	var pm dto.Metric
	if err := c.Counter.Write(&pm); err == nil {
		return pm.GetCounter().GetValue()
	}
	return 0
}

// Inc increments the counter by 1.
func (c *counter) Inc() {
	if c.enabled {
		c.Counter.Inc()
	}
}

// Add adds the given value to the counter. It panics if the value is < 0.
func (c *counter) Add(val float64) {
	if c.enabled {
		c.Counter.Add(val)
	}
}

func NewCounterVec(opts CounterOpts, labelNames []string) Vec[Counter] {
	return &counterVec{
		CounterVec: prometheus.NewCounterVec(opts.toPrometheus(), labelNames),
		metric: metric{
			enabled: !opts.Disabled,
			opts:    Opts(opts),
		},
	}
}

type counterVec struct {
	*prometheus.CounterVec
	metric
}

func (cv *counterVec) Collect(metricChan chan<- prometheus.Metric) {
	if cv.enabled {
		cv.CounterVec.Collect(metricChan)
	}
}

func (cv *counterVec) WithLabelValues(lvs ...string) Counter {
	if !cv.enabled {
		return &counter{
			metric: metric{enabled: false},
		}
	}

	return &counter{
		Counter: cv.CounterVec.WithLabelValues(lvs...),
		metric:  cv.metric,
	}
}

func (cv *counterVec) SetEnabled(e bool) {
	if !e {
		cv.Reset()
	}
	cv.metric.SetEnabled(e)
}
