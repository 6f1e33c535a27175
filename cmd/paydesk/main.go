// Command paydesk serves a single-driver pay desk: buyers POST an amount to
// /api/pay, receive an x402 challenge, and pay it with a PAYMENT-SIGNATURE
// header. X402_MODE selects the mock provider or a real facilitator.
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

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	x402 "github.com/boorich/naveens"
	x402gin "github.com/boorich/naveens/http/gin"
	"github.com/boorich/naveens/internal/config"
	"github.com/boorich/naveens/metrics"
	"github.com/boorich/naveens/payment"
	"github.com/boorich/naveens/payment/ledger"
)

const (
	settlementCacheTTL = 10 * time.Minute
	shutdownTimeout    = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "paydesk:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, err := metrics.NewPrometheusRecorder(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	registerProviders(cfg, logger, recorder)

	store, closeStore, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	service := payment.NewService(
		payment.WithLedger(store),
		payment.WithServiceLogger(logger),
		payment.WithServiceMetrics(recorder),
	)
	service.Subscribe(func(e payment.Event) {
		if e.Type == payment.EventSettled && e.FirstForResource {
			logger.Info("first settlement for resource",
				zap.String("resource", e.Resource),
				zap.String("payer", e.Payer))
		}
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	x402gin.NewHandler(service, cfg.PaymentConfig(), cfg.PublicConfig(), x402gin.WithHandlerLogger(logger)).Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pay desk listening",
			zap.String("addr", server.Addr),
			zap.String("mode", cfg.Mode),
			zap.String("network", cfg.Network),
			zap.Strings("providers", payment.ListProviders()))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(cfg.ZapLevel())
	return zapConfig.Build()
}

// registerProviders makes every payment mode available by name
func registerProviders(cfg *config.Config, logger *zap.Logger, recorder metrics.Recorder) {
	payment.RegisterProvider(payment.ProviderMock, payment.NewMockProvider(
		payment.WithMockDelays(cfg.MockVerifyDelay, cfg.MockSettleDelay),
		payment.WithMockLogger(logger),
	))

	facilitated := payment.NewX402Provider(
		payment.WithX402Logger(logger),
		payment.WithServerOptions(
			x402.WithMetrics(recorder),
			x402.WithSettlementCache(settlementCacheTTL),
		),
	)
	payment.RegisterProvider(payment.ProviderX402Coinbase, facilitated)
	payment.RegisterProvider(payment.ProviderCoinbase, facilitated)
}

// openLedger uses Postgres when DATABASE_URL is set and process memory otherwise
func openLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("recording settlements in memory")
		return ledger.NewMemoryStore(), func() {}, nil
	}

	store, err := ledger.Open(ctx, "postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	logger.Info("recording settlements in postgres")
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close ledger", zap.Error(err))
		}
	}, nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
