// Package metrics exposes the dispatcher's inventory counters as
// Prometheus gauges/counters behind an optional /metrics HTTP endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mucs/internal/inventory"
)

// Exporter owns a private Prometheus registry and the gauges/counters
// derived from a Store. It is safe for concurrent use.
type Exporter struct {
	reg *prometheus.Registry

	hosts         *prometheus.GaugeVec
	cpusAvail     prometheus.Gauge
	cpusAssigned  prometheus.Gauge
	servedTotal   prometheus.Counter
	concurrentMax prometheus.Gauge
}

// New constructs an Exporter and registers its collectors.
func New() *Exporter {
	e := &Exporter{
		reg: prometheus.NewRegistry(),
		hosts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mucs",
			Name:      "hosts",
			Help:      "Number of known hosts by lifecycle state.",
		}, []string{"state"}),
		cpusAvail: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mucs",
			Name:      "cpus_available",
			Help:      "CPU slots currently free across all tiers.",
		}),
		cpusAssigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mucs",
			Name:      "cpus_assigned",
			Help:      "CPU slots currently held by a client connection.",
		}),
		servedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mucs",
			Name:      "cpus_served_total",
			Help:      "Cumulative count of host-request CPU assignments.",
		}),
		concurrentMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mucs",
			Name:      "cpus_concurrent_peak",
			Help:      "Peak concurrently-assigned CPU count in the last stats period.",
		}),
	}
	e.reg.MustRegister(e.hosts, e.cpusAvail, e.cpusAssigned, e.servedTotal, e.concurrentMax)
	return e
}

// ObserveAssignment records one successful host-request CPU assignment.
func (e *Exporter) ObserveAssignment() {
	e.servedTotal.Inc()
}

// Refresh recomputes the gauges from a fresh Store snapshot. Called by
// the Stats Reporter on the same cadence it logs the stats line.
func (e *Exporter) Refresh(byState map[string]int, cpusAvail, cpusAssigned, concurrentPeak int) {
	for _, state := range []string{"available", "unavailable", "overloaded", "silent"} {
		e.hosts.WithLabelValues(state).Set(float64(byState[state]))
	}
	e.cpusAvail.Set(float64(cpusAvail))
	e.cpusAssigned.Set(float64(cpusAssigned))
	e.concurrentMax.Set(float64(concurrentPeak))
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until
// ctx is cancelled, then shuts down.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics: serve %s: %w", addr, err)
		}
		return nil
	}
}

// StateCounts re-keys per-state host counts (as returned by
// Store.CountsByState) by state name, for feeding Refresh. It is a small
// convenience built on the inventory package's
// exported state constants rather than the Store reaching into
// Prometheus types directly.
func StateCounts(counts map[inventory.HostState]int) map[string]int {
	out := make(map[string]int, len(counts))
	for state, n := range counts {
		out[state.String()] = n
	}
	return out
}
