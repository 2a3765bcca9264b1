// Command ledgersim serves an in-memory ledger over the gateway protocol
// spoken by the operator's HTTP backend.
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

	"go.uber.org/zap"

	"github.com/orepool/operator/ledger"
	"github.com/orepool/operator/logging"
)

func populate(l *ledger.InMemory, cfg *config) error {
	if cfg.Pool == nil {
		return nil
	}
	if err := l.CreatePool(*cfg.Pool, cfg.Reservoir); err != nil {
		return err
	}
	if err := l.AddPendingStake(*cfg.Pool, cfg.PendingStake); err != nil {
		return err
	}
	for _, member := range cfg.Members {
		if err := l.OpenMember(*cfg.Pool, member); err != nil {
			return err
		}
	}
	for _, boost := range cfg.Boosts {
		if err := l.CreateBoost(boost); err != nil {
			return err
		}
	}
	return nil
}

func run(cfg *config) error {
	level := zap.InfoLevel
	if cfg.DebugLog {
		level = zap.DebugLevel
	}
	logger := logging.New(level, logging.Rotation{}, false).Named("ledgersim")
	defer logger.Sync() //nolint:errcheck

	l := ledger.NewInMemory()
	if err := populate(l, cfg); err != nil {
		return fmt.Errorf("populating ledger: %w", err)
	}
	if cfg.Pool == nil {
		logger.Warn("no pool configured, every transaction will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           ledger.NewHTTPHandler(l, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server", zap.Error(err))
		}
	}()

	logger.Info("serving ledger gateway",
		zap.String("listen", cfg.Listen),
		zap.Int("members", len(cfg.Members)),
		zap.Int("boosts", len(cfg.Boosts)),
	)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
