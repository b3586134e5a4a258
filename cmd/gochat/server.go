package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/k0kubun/pp/v3"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/Tyrowin/gochat/internal/logging"
	"github.com/Tyrowin/gochat/internal/server"
)

const shutdownTimeout = 5 * time.Second

func serverCommand(c *cli.Context) error {
	cfg, err := loadServerConfig(c.String("config"))
	if err != nil {
		return err
	}
	applyServerFlags(c, &cfg)
	return runServer(cfg, os.Stdin)
}

// loadServerConfig layers defaults, the optional file and the environment.
func loadServerConfig(filename string) (server.Config, error) {
	cfg := server.NewConfig()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return server.Config{}, err
		}
	}
	cfg.LoadFromEnv()
	return *cfg, nil
}

func applyServerFlags(c *cli.Context, cfg *server.Config) {
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("ws") {
		cfg.WebSocketAddr = c.String("ws")
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}
}

// runServer serves until the listener fails or the process is interrupted.
// The operator console reads from console.
func runServer(cfg server.Config, console io.Reader) error {
	logging.Setup(os.Stdout, cfg.Debug)

	srv := server.New(cfg, os.Stdout)
	if cfg.Debug {
		pp.Println(srv.Config())
	}

	errs := make(chan error, 2)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	if cfg.WebSocketAddr != "" {
		go func() {
			errs <- srv.ListenAndServeWebSocket()
		}()
	}
	go func() {
		if err := srv.RunConsole(console); err != nil {
			log.Warnf("Console stopped: %v", err)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	var runErr error
	select {
	case err := <-errs:
		if !errors.Is(err, server.ErrServerClosed) {
			runErr = err
		}
	case sig := <-signals:
		log.Infof("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("Shutdown: %v", err)
	}
	return runErr
}
