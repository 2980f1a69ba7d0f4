package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	goAudit "github.com/MrEthical07/goAudit"
	"github.com/MrEthical07/goAudit/jwt"
	"github.com/MrEthical07/goAudit/metrics/export/prometheus"
	"github.com/MrEthical07/goAudit/query"
	"github.com/MrEthical07/goAudit/query/httpapi"
	"github.com/MrEthical07/goAudit/store"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trail with its health, metrics and query endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	fs := cmd.Flags()
	fs.String("listen", ":8080", "HTTP listen address")
	fs.String("jwt-secret", "", "HS256 secret for operator tokens; empty disables /v1 routes")
	fs.String("jwt-issuer", "goaudit", "expected operator token issuer")
	fs.Duration("shutdown-timeout", 10*time.Second, "time allowed for the final flush")
	return cmd
}

// trailHandle bundles the pieces serve and loadtest both need.
type trailHandle struct {
	trail   *goAudit.Trail
	store   store.Store
	logger  *zap.Logger
	cleanup func()
}

func openTrail(ctx context.Context, v *viper.Viper) (*trailHandle, error) {
	logger, err := newLogger(v.GetString("log-level"), v.GetString("log-format"))
	if err != nil {
		return nil, err
	}
	cfg, err := trailConfig(v)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Lint() {
		logger.Warn("config lint", zap.String("code", w.Code), zap.String("message", w.Message))
	}

	st, closeStore, err := openStore(ctx, v, logger)
	if err != nil {
		return nil, err
	}

	b := goAudit.New().WithConfig(cfg).WithStore(st).WithLogger(logger).WithLatencyHistograms(true)
	if v.GetBool("mirror-stdout") {
		b = b.WithMirrorSink(goAudit.NewJSONWriterSink(os.Stdout))
	}
	trail, err := b.Build()
	if err != nil {
		closeStore()
		return nil, err
	}
	return &trailHandle{
		trail:  trail,
		store:  st,
		logger: logger,
		cleanup: func() {
			closeStore()
			_ = logger.Sync()
		},
	}, nil
}

func runServe(ctx context.Context, v *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := openTrail(ctx, v)
	if err != nil {
		return err
	}
	defer h.cleanup()

	if err := h.trail.Start(ctx); err != nil {
		return err
	}

	opts := httpapi.Options{
		Health:  h.trail,
		Metrics: prometheus.NewExporter(h.trail).Handler(),
		Logger:  h.logger,
	}
	if secret := v.GetString("jwt-secret"); secret != "" {
		tokens, err := jwt.NewManager(jwt.Config{
			TokenTTL:      time.Hour,
			SigningMethod: jwt.MethodHS256,
			PrivateKey:    []byte(secret),
			Issuer:        v.GetString("jwt-issuer"),
			Leeway:        30 * time.Second,
		})
		if err != nil {
			return err
		}
		opts.Tokens = tokens
		opts.Events = query.New(h.store, h.trail.Config().Partition)
	} else {
		h.logger.Warn("jwt-secret not set, /v1 routes disabled")
	}

	srv := &http.Server{
		Addr:              v.GetString("listen"),
		Handler:           httpapi.NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownTimeout := v.GetDuration("shutdown-timeout")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		h.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := h.trail.Stop(shutdownTimeout); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}
