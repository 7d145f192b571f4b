package engine

import (
	"context"
	"errors"
	"net/http"
	"time"

	"topicsnap/internal/logging"
	"topicsnap/internal/pipeline"
	"topicsnap/internal/transport"
)

type Config struct {
	GRPCPort    int // 0 = no health server
	MetricsPort int // 0 = no /metrics
	JobYml      string
}

type Engine struct {
	transport *transport.Server
	metrics   *http.Server
	runner    *pipeline.Runner
}

func (e *Engine) setRunner(r *pipeline.Runner) {
	e.runner = r
	if e.transport != nil {
		r.SubscribeStatus(e.transport.SetServing)
	}
}

// Run blocks until the job finishes (single run) or ctx ends, then shuts
// everything down.
func (e *Engine) Run(ctx context.Context) error {
	if e.transport != nil {
		go func() {
			if err := e.transport.Serve(); err != nil {
				logging.L().Error("transport: serve stopped", "err", err)
			}
		}()
	}

	err := e.runner.Run(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	return errors.Join(err, e.shutdown())
}

func (e *Engine) shutdown() error {
	var errs []error
	if e.transport != nil {
		e.transport.Stop()
	}
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, e.metrics.Shutdown(ctx))
		cancel()
	}
	if e.runner != nil {
		errs = append(errs, e.runner.Close())
	}
	return errors.Join(errs...)
}
