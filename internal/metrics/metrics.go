// Package metrics exports oracle progress to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Trials          *prometheus.CounterVec
	CompileOutcomes *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	RepeatCount     *prometheus.GaugeVec
	Ratio           prometheus.Histogram
}

// New registers the oracle metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Trials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perffect",
			Name:      "trials_total",
			Help:      "Finished trials by status.",
		}, []string{"status"}),
		CompileOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perffect",
			Name:      "compile_outcomes_total",
			Help:      "Compilations of generated programs by language and outcome.",
		}, []string{"language", "outcome"}),
		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "perffect",
			Name:      "phase_duration_seconds",
			Help:      "Time spent per trial phase.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"phase", "language"}),
		RepeatCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "perffect",
			Name:      "calibrated_repeat_count",
			Help:      "Last calibrated repeat count by language.",
		}, []string{"language"}),
		Ratio: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "perffect",
			Name:      "execution_ratio",
			Help:      "Candidate over reference wall time.",
			Buckets:   []float64{0.25, 0.5, 0.75, 1, 1.25, 1.5, 2, 3, 5, 10},
		}),
	}
}

func (m *Metrics) ObservePhase(phase, language string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase, language).Observe(d.Seconds())
}

func (m *Metrics) CountTrial(status string) {
	if m == nil {
		return
	}
	m.Trials.WithLabelValues(status).Inc()
}

func (m *Metrics) CountCompile(language, outcome string) {
	if m == nil {
		return
	}
	m.CompileOutcomes.WithLabelValues(language, outcome).Inc()
}

func (m *Metrics) SetRepeatCount(language string, n int64) {
	if m == nil {
		return
	}
	m.RepeatCount.WithLabelValues(language).Set(float64(n))
}

func (m *Metrics) ObserveRatio(r float64) {
	if m == nil {
		return
	}
	m.Ratio.Observe(r)
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
