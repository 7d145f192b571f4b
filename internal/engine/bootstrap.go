package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"topicsnap/internal/pipeline"
	"topicsnap/internal/telemetry"
	"topicsnap/internal/transport"
)

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	e := &Engine{}

	// 1. transport server
	if cfg.GRPCPort > 0 {
		srv, err := transport.StartServer(cfg.GRPCPort)
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		e.transport = srv
	}

	// 2. metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := telemetry.NewMetrics(reg)
	e.metrics = telemetry.Expose(cfg.MetricsPort, reg)

	// 3. job runner
	runner, err := pipeline.Compile(ctx, cfg.JobYml, m)
	if err != nil {
		e.shutdown()
		return nil, fmt.Errorf("job: %w", err)
	}
	e.setRunner(runner)
	return e, nil
}
