package worker

import (
	"context"
	stderrors "errors"
	"time"

	"sjsage522/estateworker/internal/pipeline"
	"sjsage522/estateworker/logger"
	"sjsage522/estateworker/pkg/errors"
	"sjsage522/estateworker/services/proxy"
)

// Runner performs one harvest run
type Runner interface {
	Run(ctx context.Context) (pipeline.RunSummary, error)
}

// Observer receives run telemetry
type Observer interface {
	ObserveRun(err error, elapsed time.Duration)
	SetProxyStats(healthy, quarantined int)
}

// ProxyStats reports proxy pool health
type ProxyStats interface {
	Stats() proxy.Stats
}

// Worker repeats harvest runs at a fixed interval
type Worker struct {
	runner   Runner
	interval time.Duration
	observer Observer
	proxies  ProxyStats
	log      *logger.Logger
}

// NewWorker creates a new worker. observer and proxies may be nil; an
// interval of zero runs once.
func NewWorker(runner Runner, interval time.Duration, observer Observer, proxies ProxyStats) *Worker {
	return &Worker{
		runner:   runner,
		interval: interval,
		observer: observer,
		proxies:  proxies,
		log:      logger.ForComponent("worker"),
	}
}

// Start runs until ctx is cancelled, or returns after a single run when
// no interval is set. Only configuration errors end the loop early;
// cancellation is a clean exit.
func (w *Worker) Start(ctx context.Context) error {
	for {
		start := time.Now()
		summary, err := w.runner.Run(ctx)
		elapsed := time.Since(start)
		cancelled := ctx.Err() != nil && stderrors.Is(err, ctx.Err())

		w.report(err, cancelled, elapsed)
		if err != nil && !cancelled {
			w.log.Error().Str("run_id", summary.RunID).Err(err).Msg("Harvest run failed")
			if errors.Is(err, errors.ErrorTypeConfiguration) {
				return err
			}
		}

		if w.interval <= 0 {
			if cancelled {
				return nil
			}
			return err
		}
		if cancelled {
			w.log.Info().Msg("Worker stopped")
			return nil
		}

		w.log.Info().Dur("elapsed", elapsed).Dur("next_run_in", w.interval).Msg("Waiting for next run")
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return nil
		case <-time.After(w.interval):
		}
	}
}

func (w *Worker) report(err error, cancelled bool, elapsed time.Duration) {
	if w.observer == nil {
		return
	}
	if cancelled {
		err = nil
	}
	w.observer.ObserveRun(err, elapsed)
	if w.proxies != nil {
		stats := w.proxies.Stats()
		w.observer.SetProxyStats(stats.Healthy, stats.Quarantined)
	}
}
