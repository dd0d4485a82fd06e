package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"predictd/internal/bootstrap"
	"predictd/internal/config"
	"predictd/internal/httpapi"
	"predictd/internal/registry"
	"predictd/internal/session"
	"predictd/internal/session/onnx"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the HTTP server",
		Example: "  predictd serve --config predictd.yaml\n  PREDICTD_MODELS_DIR=/srv/models predictd serve --cors --cors-origins http://localhost:3000",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.Resolve(v)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel, os.Stderr)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ln, err := listener(cfg.Addr)
			if err != nil {
				return err
			}
			rt := onnx.New(onnx.Options{LibraryPath: cfg.ORTLibrary})
			return serve(ctx, cfg, ln, rt, log)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runtimeCloser is a runtime that holds process-wide state to release.
type runtimeCloser interface {
	session.Runtime
	Close() error
}

// serve runs the server on ln until ctx is canceled, then drains requests and
// unloads every model.
func serve(ctx context.Context, cfg config.Config, ln net.Listener, rt runtimeCloser, log zerolog.Logger) error {
	reg := registry.New(registry.Config{
		Logger:  log.With().Str("component", "registry").Logger(),
		Metrics: registry.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err := bootstrap.Register(cfg, rt, reg, log.With().Str("component", "handler").Logger()); err != nil {
		_ = ln.Close()
		return err
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetPredictTimeoutSeconds(int64(cfg.PredictTimeout() / time.Second))
	httpapi.SetStaticDir(cfg.StaticDir)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)

	srv := &http.Server{
		Handler:           httpapi.NewMux(reg, httpapi.WithBaseContext(baseCtx)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("models_dir", cfg.ModelsDir).Strs("models", reg.Names()).Msg("predictd listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify ready failed")
	} else if ok {
		log.Debug().Msg("notified systemd")
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	// Cancels in-flight predictions and closes event streams.
	cancelBase()

	var errs []error
	errs = append(errs, serveErr)
	if err := reg.UnloadAll(); err != nil {
		log.Error().Err(err).Msg("unload on shutdown")
		errs = append(errs, err)
	}
	if err := rt.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// listener prefers a socket passed by systemd socket activation and falls
// back to listening on addr.
func listener(addr string) (net.Listener, error) {
	lns, err := activation.Listeners()
	if err == nil {
		for _, ln := range lns {
			if ln != nil {
				return ln, nil
			}
		}
	}
	return net.Listen("tcp", addr)
}
