// Package promsink exports check outcomes and request samples as
// Prometheus metrics.
package promsink

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/authstress/internal/checks"
	"github.com/wesleyorama2/authstress/internal/flow"
)

const namespace = "authstress"

// Exporter is a checks.Sink backed by its own registry, so several
// exporters never collide and the process default registry stays clean.
type Exporter struct {
	registry *prometheus.Registry

	checksTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestsFailed  *prometheus.CounterVec
}

// New creates an Exporter. runID is attached to every series as a const label.
func New(runID string) *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"run_id": runID}

	return &Exporter{
		registry: reg,

		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "checks_total",
			Help:        "Number of evaluated response checks.",
			ConstLabels: labels,
		}, []string{"check", "scenario", "result"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_req_duration_seconds",
			Help:        "Duration of HTTP requests to the target service.",
			ConstLabels: labels,
			Buckets:     []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"name", "status"}),

		requestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_reqs_failed_total",
			Help:        "Number of requests that failed or returned an unexpected status.",
			ConstLabels: labels,
		}, []string{"name"}),
	}
}

// RecordCheck counts one check outcome.
func (e *Exporter) RecordCheck(o checks.Outcome) {
	result := "pass"
	if !o.Passed {
		result = "fail"
	}
	e.checksTotal.WithLabelValues(o.Name, o.Scenario, result).Inc()
}

// RecordRequest observes one request. Transport errors carry status "0".
func (e *Exporter) RecordRequest(s flow.RequestSample) {
	e.requestDuration.WithLabelValues(s.Tag, strconv.Itoa(s.StatusCode)).Observe(s.Duration.Seconds())
	if s.Failed() {
		e.requestsFailed.WithLabelValues(s.Tag).Inc()
	}
}

// Registry returns the exporter's registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{DisableCompression: true})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

var _ checks.Sink = (*Exporter)(nil)
