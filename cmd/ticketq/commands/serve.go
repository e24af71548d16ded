package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"payticket-backend/internal/queue"
	"payticket-backend/internal/queue/redisstore"
	"payticket-backend/internal/queueserver"
	"payticket-backend/internal/worker"
	"payticket-backend/pkg/serviceutil"
	tracing "payticket-backend/pkg/telemetry"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultPort = 3000

var (
	serveStore  *string
	servePort   *int
	serveWorker *string
)

func init() {
	serveStore = serveCmd.Flags().String("store", "", "Where jobs are kept: memory or redis, overrides server.store.")
	servePort = serveCmd.Flags().Int("port", 0, "The port to listen on, overrides server.port.")
	serveWorker = serveCmd.Flags().String("worker", "", "Also run a worker in this process with the given provider (api or page).")
	rootCmd.AddCommand(serveCmd)
}

func openStore(ctx context.Context, kind string) (store queue.Store, closer func() error, err error) {
	switch kind {
	case "", "memory":
		return queue.NewMemoryStore(), func() error { return nil }, nil
	case "redis":
		if cfg.Server.RedisUrl == "" {
			return nil, nil, errors.New("redis store requires server.redis_url or REDIS_URL")
		}
		rs, err := redisstore.Open(ctx, cfg.Server.RedisUrl, redisstore.Options{
			Prefix:       cfg.Server.RedisPrefix,
			CompletedTTL: seconds(cfg.Server.CompletedTtlSeconds),
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q, expected memory or redis", kind)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--store memory|redis] [--port n] [--worker api|page]",
	Short: "Runs the ticket queue server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind := cfg.Server.Store
		if *serveStore != "" {
			kind = *serveStore
		}
		port := cfg.Server.Port
		if *servePort > 0 {
			port = *servePort
		}
		if port <= 0 {
			port = defaultPort
		}

		store, closeStore, err := openStore(ctx, kind)
		if err != nil {
			return err
		}
		defer closeStore()

		clock := newClock()
		tel := newTelemetry()
		svc := queue.NewService(store, clock, tel, queue.Options{
			Lease:         seconds(cfg.Server.LeaseSeconds),
			KeepCompleted: cfg.Server.KeepCompleted,
		})
		server := queueserver.NewServer(svc, tel)

		go server.RunSweeper(ctx, queueserver.DefaultSweepInterval)
		tracing.InstrumentPerfStats(ctx, 15*time.Second)

		if *serveWorker != "" {
			provider, err := newProvider(*serveWorker, nil)
			if err != nil {
				return err
			}
			w, err := worker.NewWorker(provider, worker.Options{
				ServerUrl:    fmt.Sprintf("http://localhost:%d", port),
				PollInterval: seconds(cfg.Worker.PollIntervalSeconds),
			}, clock, tel)
			if err != nil {
				return err
			}
			go func() {
				err := w.Run(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("in-process worker stopped", "err", err)
				}
			}()
			slog.Info("running in-process worker", "client_id", w.ClientId(), "provider", *serveWorker)
		}

		slog.Info("serving ticket queue", "port", port, "store", kind, "lease", svc.Lease().String())
		handler := otelhttp.NewHandler(server.Mux(), "ticket-queue")
		return serviceutil.ServeHttp(ctx, port, handler)
	},
}
