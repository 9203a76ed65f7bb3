// Command ranger-probe serves diagnostics about services known to the
// registry: the live nodes of each and the base URL a client would route to.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/labstack/echo/v4"

	"ranger-rpc/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	level.Info(logger).Log("msg", "starting ranger-probe", "backend", cfg.Backend, "namespace", cfg.Namespace, "environment", cfg.Environment)

	reg, closeRegistry, err := cfg.Registry(logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to connect registry", "err", err)
		os.Exit(1)
	}
	defer closeRegistry()

	p := newProbe(cfg, reg, logger)
	defer p.close()
	for _, service := range cfg.Services {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := p.lookup(ctx, service); err != nil {
			level.Warn(logger).Log("msg", "failed to watch service", "service", service, "err", err)
		}
		cancel()
	}

	e := echo.New()
	e.HideBanner = true
	p.register(e)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		level.Info(logger).Log("msg", "starting HTTP server", "addr", cfg.ProbeAddr)
		if err := e.Start(cfg.ProbeAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(logger).Log("msg", "HTTP server error", "err", err)
		}
	}()

	<-quit
	level.Info(logger).Log("msg", "shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		level.Error(logger).Log("msg", "error during server shutdown", "err", err)
	}
}
