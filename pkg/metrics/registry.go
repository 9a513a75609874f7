// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/cilium/hive/cell"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/metrics/metric"
	"github.com/cilium/vbridge/pkg/time"
)

type registryParams struct {
	cell.In

	Logger    *slog.Logger
	Lifecycle cell.Lifecycle
	Config    Config

	Metrics []metric.WithMetadata `group:"hive-metrics"`
}

// Registry is the prometheus registry of the agent. All metrics provided
// through Metric are registered with it at construction.
type Registry struct {
	inner  *prometheus.Registry
	logger *slog.Logger
	server *http.Server
}

func NewRegistry(params registryParams) (*Registry, error) {
	reg := &Registry{
		inner:  prometheus.NewPedanticRegistry(),
		logger: params.Logger,
	}

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}))

	for _, m := range params.Metrics {
		if err := reg.inner.Register(m); err != nil {
			return nil, err
		}
	}

	if params.Config.PrometheusServeAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg.inner, promhttp.HandlerOpts{}))
		reg.server = &http.Server{
			Addr:              params.Config.PrometheusServeAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		params.Lifecycle.Append(cell.Hook{
			OnStart: reg.start,
			OnStop:  reg.stop,
		})
	}

	return reg, nil
}

// MustRegister adds the collector to the registry. It panics on error.
func (r *Registry) MustRegister(c ...prometheus.Collector) {
	r.inner.MustRegister(c...)
}

// Gatherer returns the underlying prometheus gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.inner
}

func (r *Registry) start(cell.HookContext) error {
	ln, err := net.Listen("tcp", r.server.Addr)
	if err != nil {
		return err
	}
	r.logger.Info("Serving prometheus metrics", logfields.Address, ln.Addr().String())
	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("Metrics server stopped", logfields.Error, err)
		}
	}()
	return nil
}

func (r *Registry) stop(ctx cell.HookContext) error {
	return r.server.Shutdown(context.Context(ctx))
}
