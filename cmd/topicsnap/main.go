package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"topicsnap/internal/engine"
	"topicsnap/internal/logging"
)

func main() {
	var cfg engine.Config
	flag.StringVar(&cfg.JobYml, "job", "job.yml", "job definition")
	flag.IntVar(&cfg.GRPCPort, "grpc-port", 7070, "gRPC health port, 0 disables")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", 9100, "prometheus /metrics port, 0 disables")
	flag.Parse()

	logging.InitFromEnv()
	log := logging.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		log.Error("bootstrap failed", "job", cfg.JobYml, "err", err)
		os.Exit(1)
	}

	if err := e.Run(ctx); err != nil {
		log.Error("job failed", "job", cfg.JobYml, "err", err)
		os.Exit(1)
	}
}
