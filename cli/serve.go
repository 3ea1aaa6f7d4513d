package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slotkeeper/config"
	"slotkeeper/cron"
	"slotkeeper/handlers"
	"slotkeeper/routes"
	"slotkeeper/utils"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the booking API",
		Long: `Serve the tool-call, event and audit endpoints.

With LOCAL_SCHEDULER=true the reaper and processed-event pruner run inside
this process instead of a separate worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	machine := a.bookingMachine()
	bookingHandler := handlers.NewBookingHandler(a.resolver, machine)
	eventHandler := handlers.NewEventHandler(a.resolver, a.guard, machine)
	auditHandler := handlers.NewAuditHandler(a.audit, nil)

	handlerBundle := &handlers.HandlerBundle{
		Resolver: a.resolver,

		ToolCallHandler: bookingHandler.ToolCall,
		EventsHandler:   eventHandler.Receive,

		TimelineHandler: auditHandler.Timeline,
		AbuseHandler:    auditHandler.Abuse,

		HealthHandler: handlers.Health,
	}

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	routes.RegisterRoutes(router, handlerBundle, logger, a.cfg.MaxRequestsPerMin)

	utils.StartHealthMonitor(ctx, utils.HealthCheckInterval, a.store, []*redis.Client{utils.LockClient, utils.OTPClient})

	if a.cfg.LocalScheduler {
		if _, err := cron.StartLocal(ctx, a.cfg, a.jobs()); err != nil {
			return err
		}
	}

	port := a.cfg.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              "0.0.0.0:" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("Server failed to start", zap.Error(err))
		return err
	case <-ctx.Done():
	}
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
