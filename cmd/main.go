// Command relay runs a headless chat host: it binds the configured port,
// advertises itself on the local network and logs all traffic until it is
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lanchat/internal/chat"
	"lanchat/internal/config"
	"lanchat/internal/network"
	"lanchat/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to lanchat.yaml")
	port := flag.Int("port", -1, "port to listen on (overrides host.port)")
	flag.Parse()

	if err := run(*configPath, *port); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port >= 0 {
		cfg.Host.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registrar, browser, err := chat.NewBackend(cfg.Discovery, logger)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	session, err := chat.NewSession(cfg, registrar, browser, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logged := make(chan struct{})
	go func() {
		defer close(logged)
		traffic := logger.Named("relay")
		for ev := range session.Events() {
			fields := []zap.Field{zap.Stringer("kind", ev.Kind)}
			if ev.Peer != "" {
				fields = append(fields, zap.String("peer", ev.Peer))
			}
			if ev.Kind == network.EventError {
				traffic.Warn(ev.Text, append(fields, zap.Error(ev.Err))...)
				continue
			}
			traffic.Info(ev.Text, fields...)
		}
	}()

	bound, err := session.Host(ctx, cfg.Host.Port)
	if bound == 0 {
		session.Close(context.Background())
		<-logged
		return err
	}
	if err != nil {
		logger.Warn("relay is not advertised", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = session.Close(shutdownCtx)
	<-logged
	return err
}
