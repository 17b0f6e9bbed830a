// Package metrics exposes Prometheus counters for the settlement core and
// a small HTTP endpoint serving /metrics and /healthz.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WagersSettled counts settlements by settlement type.
	WagersSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakekeeper_wagers_settled_total",
		Help: "Settled wagers by settlement type.",
	}, []string{"settlement_type"})

	// PenaltiesCreated counts penalties by penalty type.
	PenaltiesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakekeeper_penalties_created_total",
		Help: "Penalties created by type.",
	}, []string{"penalty_type"})

	// BudgetsReset counts budgets reset by the scheduler.
	BudgetsReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakekeeper_budgets_reset_total",
		Help: "Screen-time budgets reset by the daily scheduler.",
	})

	// BatchItemFailures counts per-item failures inside scheduled sweeps.
	BatchItemFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakekeeper_batch_item_failures_total",
		Help: "Items that failed inside a scheduled sweep.",
	}, []string{"sweep"})

	// VersionConflicts counts optimistic-lock retries on budget writes.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakekeeper_budget_version_conflicts_total",
		Help: "Optimistic version conflicts observed on budget writes.",
	})
)

// HealthFunc reports backend health for the /healthz endpoint.
type HealthFunc func(ctx context.Context) error

// StartServer starts a lightweight HTTP server serving /metrics and
// /healthz on the given port. It runs in its own goroutine.
func StartServer(port string, healthFn HealthFunc) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("unhealthy: %v", err)))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		_ = srv.ListenAndServe()
	}()

	return srv
}
