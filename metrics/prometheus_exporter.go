package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter bridges a Registry into a prometheus.Registry and serves it over
// HTTP. Metric names are namespaced and dots become underscores, so
// "prover.runs" is scraped as "xproof_prover_runs".
type Exporter struct {
	namespace string
	source    *Registry
	prom      *prometheus.Registry
}

// NewExporter creates an Exporter for r. Go runtime and process collectors
// are registered alongside.
func NewExporter(namespace string, r *Registry) *Exporter {
	e := &Exporter{
		namespace: namespace,
		source:    r,
		prom:      prometheus.NewRegistry(),
	}
	e.prom.MustRegister(
		e,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

// Gatherer exposes the underlying prometheus registry.
func (e *Exporter) Gatherer() prometheus.Gatherer { return e.prom }

// Describe implements prometheus.Collector. The metric set is dynamic, so
// descriptors are derived from a collection pass.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(e, ch)
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.source.each(
		func(c *Counter) {
			desc := prometheus.NewDesc(e.fqName(c.name), helpOr(c.help, c.name), nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(c.Value()))
		},
		func(g *Gauge) {
			desc := prometheus.NewDesc(e.fqName(g.name), helpOr(g.help, g.name), nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(g.Value()))
		},
		func(h *Histogram) {
			desc := prometheus.NewDesc(e.fqName(h.name), helpOr(h.help, h.name), nil, nil)
			ch <- prometheus.MustNewConstHistogram(desc, h.Count(), h.Sum(), h.Buckets())
		},
	)
}

// Handler returns the /metrics HTTP handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.prom, promhttp.HandlerOpts{})
}

// Serve listens on addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (e *Exporter) fqName(name string) string {
	name = strings.NewReplacer(".", "_", "-", "_").Replace(name)
	if e.namespace == "" {
		return name
	}
	return e.namespace + "_" + name
}

func helpOr(help, name string) string {
	if help != "" {
		return help
	}
	return name
}
