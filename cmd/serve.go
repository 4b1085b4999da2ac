package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/api"
	"github.com/sells-group/lead-ingest/internal/monitoring"
	"github.com/sells-group/lead-ingest/internal/resilience"
	"github.com/sells-group/lead-ingest/internal/trigger"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the storage notification consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initIngest(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		facade, err := initQuery(ctx, cfg, env.Warehouse)
		if err != nil {
			return err
		}

		bus := trigger.NewBus(cfg.Notify.Buffer)
		dead := resilience.NewDeadLetters(cfg.Notify.DeadLetters)
		consumer := trigger.NewConsumer(bus, env.Trigger, dead, trigger.ConsumerConfig{
			Workers:    cfg.Notify.Workers,
			MaxRetries: cfg.Notify.MaxRetries,
		})
		consumer.Start()

		collector := monitoring.NewCollector(env.Warehouse, consumer, dead)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		handler := api.NewRouter(api.Deps{
			Ingest:      env.Trigger,
			Store:       env.Store,
			Query:       facade,
			Stage:       env.Warehouse,
			Bus:         bus,
			Consumer:    consumer,
			DeadLetters: dead,
			Metrics:     collector,
			Prometheus:  monitoring.NewExporter(collector, cfg.Monitoring.LookbackWindowHours).Handler(),
		}, api.Options{
			CORSOrigins:    cfg.Server.CORSOrigins,
			MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
			PresignTTL:     cfg.Blob.PresignTTL(),
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			if err := consumer.Stop(shutdownCtx); err != nil {
				zap.L().Warn("consumer did not drain", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.String("warehouse", cfg.Warehouse.Driver),
			zap.String("blob", cfg.Blob.Driver),
			zap.Bool("monitoring", cfg.Monitoring.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
