// Package metrics exposes the uploader's Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "motion_uploader"

// shutdownTimeout bounds how long the listener waits for in-flight scrapes.
const shutdownTimeout = 5 * time.Second

// Metrics holds the collectors for one daemon. Each instance owns its own
// registry so tests do not share state.
type Metrics struct {
	registry *prometheus.Registry

	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	uploadDuration prometheus.Histogram
	tokenFailures  prometheus.Counter
	cycles         prometheus.Counter
	pending        prometheus.Gauge
	lastSuccess    prometheus.Gauge
	state          *prometheus.GaugeVec
}

// New creates the collectors, labelled with the camera ID, and registers
// them together with the Go runtime and process collectors.
func New(deviceID string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	labels := prometheus.Labels{"device": deviceID}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "uploads_total",
			Help:        "Upload attempts by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "upload_bytes_total",
			Help:        "Bytes of successfully uploaded files.",
			ConstLabels: labels,
		}),
		uploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "upload_duration_seconds",
			Help:        "Duration of upload attempts.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		tokenFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "token_fetch_failures_total",
			Help:        "Access token acquisitions that exhausted their retries.",
			ConstLabels: labels,
		}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cycles_total",
			Help:        "Completed scan and upload cycles.",
			ConstLabels: labels,
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pending_files",
			Help:        "Settled files waiting for upload at the last scan.",
			ConstLabels: labels,
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time of the last successful upload.",
			ConstLabels: labels,
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "loop_state",
			Help:        "1 for the loop's current state, 0 otherwise.",
			ConstLabels: labels,
		}, []string{"state"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveUpload records one upload attempt.
func (m *Metrics) ObserveUpload(size int64, d time.Duration, err error) {
	m.uploadDuration.Observe(d.Seconds())

	if err != nil {
		m.uploads.WithLabelValues("failure").Inc()

		return
	}

	m.uploads.WithLabelValues("success").Inc()
	m.uploadBytes.Add(float64(size))
	m.lastSuccess.SetToCurrentTime()
}

// TokenFetchFailed counts an exhausted token refresh.
func (m *Metrics) TokenFetchFailed() {
	m.tokenFailures.Inc()
}

// CycleDone counts a finished cycle and the pending count it saw.
func (m *Metrics) CycleDone(pending int) {
	m.cycles.Inc()
	m.pending.Set(float64(pending))
}

// SetState marks current as the active loop state among all.
func (m *Metrics) SetState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}

		m.state.WithLabelValues(s).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve listens on addr and serves /metrics until ctx is canceled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listening on %s: %w", addr, err)
	}

	return m.serve(ctx, ln, logger)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)

	go func() {
		errc <- srv.Serve(ln)
	}()

	logger.Info("metrics endpoint listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics: serving: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics: shutdown: %w", err)
		}

		return nil
	}
}
