package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume indexing jobs from Kafka",
	Long: `Run worker.concurrency consumers of the jobs topic. Each job is applied
through the batch handler; transient failures are retried with backoff and
jobs still failing after kafka.maxAttempts go to the dead-letter topic.

Prometheus metrics and health checks are served on metrics.port when
metrics are enabled:
  /metrics        Prometheus collectors
  /health/live    liveness
  /health/ready   engine, Postgres and Redis reachability`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(cfg, needDB|needRedis|needKafka)
		if err != nil {
			return err
		}
		defer a.Close()

		w := worker.New(a.handler(), a.tracker, a.dlq, worker.Config{
			MaxAttempts: cfg.Kafka.MaxAttempts,
			JobTimeout:  cfg.Worker.JobTimeout,
		}, a.metrics)
		pool := worker.NewKafkaPool(cfg.Kafka, cfg.Worker.Concurrency, w.HandleMessage)
		defer pool.Close()

		if cfg.Metrics.Enabled {
			checker := health.NewChecker(5 * time.Second)
			checker.Register("engine", a.engine.Health)
			checker.Register("postgres", a.db.Ping)
			checker.Register("redis", a.redis.Ping)
			shutdown := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
				"/health/live":  checker.LiveHandler(),
				"/health/ready": checker.ReadyHandler(),
			})
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					slog.Warn("metrics server shutdown", "error", err)
				}
			}()
		}

		slog.Info("worker ready",
			"topic", cfg.Kafka.Topics.Jobs,
			"group", cfg.Kafka.ConsumerGroup,
			"concurrency", cfg.Worker.Concurrency,
		)
		return pool.Run(ctx)
	},
}
