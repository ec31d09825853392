package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/handler"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the insight scheduler",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Aggregation: a.aggregation,
		Insights:    a.insights,
		Scheduler:   a.scheduler,
		Database:    a.db,
		Metrics:     a.metrics,
		Logger:      logger,
		JWTSecret:   []byte(a.cfg.JWTSecret),
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: a.cfg.AnalysisTimeout + 15*time.Second, // on-demand insights block for one engine run
		IdleTimeout:  60 * time.Second,
	}

	// --- Scheduler ---
	if a.cfg.SchedulerEnabled {
		a.scheduler.Start()
	} else {
		logger.Warn("insight scheduler disabled")
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", a.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("server failed", zap.Error(err))
		return err
	}

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	if a.cfg.SchedulerEnabled {
		if err := a.scheduler.Stop(ctx); err != nil {
			logger.Warn("scheduler did not stop in time", zap.Error(err))
		}
	}

	logger.Info("server stopped")
	return nil
}
