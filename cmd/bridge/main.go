package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saviobatista/nmea-bridge/internal/bridge"
	"github.com/saviobatista/nmea-bridge/internal/broadcast"
	"github.com/saviobatista/nmea-bridge/internal/config"
	"github.com/saviobatista/nmea-bridge/internal/control"
	"github.com/saviobatista/nmea-bridge/internal/mqtt"
	"github.com/saviobatista/nmea-bridge/internal/nats"
	"github.com/saviobatista/nmea-bridge/internal/push"
	"github.com/saviobatista/nmea-bridge/internal/redis"
	"github.com/saviobatista/nmea-bridge/internal/stats"
)

const (
	sinkQueueSize   = 256
	shutdownTimeout = 5 * time.Second
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("Invalid environment", "error", err)
		os.Exit(1)
	}
	logger := env.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runBridge(ctx, env, logger); err != nil {
		logger.Error("Bridge failed", "error", err)
		os.Exit(1)
	}
}

// sink is a broker connection fed by the broadcaster
type sink struct {
	name       string
	subscriber *broadcast.Queue
	close      func()
}

// app holds everything runBridge wires together
type app struct {
	env    *config.Env
	logger *slog.Logger
	cfg    config.Config
	store  *config.Store
	stats  *stats.Stats
	bridge *bridge.Service
	sinks  []sink

	controlLn net.Listener
	pushLn    net.Listener
}

// newApp loads the persisted config and binds both listeners
func newApp(env *config.Env, logger *slog.Logger) (*app, error) {
	a := &app{
		env:    env,
		logger: logger,
		store:  config.NewStore(env.ConfigPath, logger),
		stats:  stats.New(),
	}
	a.cfg = a.store.Load()
	a.bridge = bridge.New(a.cfg.NMEA, bridge.Options{Stats: a.stats, Logger: logger})

	var err error
	a.controlLn, err = net.Listen("tcp", env.ControlAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on control address: %w", err)
	}
	a.pushLn, err = net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.WebSocket.Port)))
	if err != nil {
		_ = a.controlLn.Close()
		return nil, fmt.Errorf("failed to listen on push port: %w", err)
	}
	return a, nil
}

// openSinks connects every configured broker. A broker that cannot be
// reached is logged and skipped.
func (a *app) openSinks() {
	if a.env.NATSURL != "" {
		if client, err := nats.New(a.env.NATSURL, a.env.NATSSubject, a.logger); err != nil {
			a.logger.Error("NATS sink disabled", "error", err)
		} else {
			a.sinks = append(a.sinks, sink{name: "nats", subscriber: client.Subscriber(sinkQueueSize, a.stats), close: client.Close})
		}
	}
	if a.env.RedisAddr != "" {
		if client, err := redis.New(a.env.RedisAddr, a.env.RedisChannel, a.logger); err != nil {
			a.logger.Error("Redis sink disabled", "error", err)
		} else {
			a.sinks = append(a.sinks, sink{name: "redis", subscriber: client.Subscriber(sinkQueueSize, a.stats), close: func() { _ = client.Close() }})
		}
	}
	if a.env.MQTTBroker != "" {
		if client, err := mqtt.New(a.env.MQTTBroker, a.env.MQTTTopic, a.logger); err != nil {
			a.logger.Error("MQTT sink disabled", "error", err)
		} else {
			a.sinks = append(a.sinks, sink{name: "mqtt", subscriber: client.Subscriber(sinkQueueSize, a.stats), close: client.Close})
		}
	}
}

func (a *app) closeSinks() {
	for _, s := range a.sinks {
		_ = s.subscriber.Close()
		s.close()
	}
}

// run serves until ctx is done and everything has shut down
func (a *app) run(ctx context.Context) error {
	a.openSinks()
	defer a.closeSinks()

	pushServer := push.NewServer(a.bridge, a.logger)
	controlSrv := &http.Server{
		Handler:           control.NewHandler(control.NewService(a.cfg, a.store, a.bridge, a.logger), a.stats.Handler(), a.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	pushSrv := &http.Server{
		Handler:           pushServer,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.bridge.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("Control service listening", "address", a.controlLn.Addr().String())
		return serve(controlSrv, a.controlLn)
	})
	g.Go(func() error {
		a.logger.Info("Push channel listening", "address", a.pushLn.Addr().String())
		return serve(pushSrv, a.pushLn)
	})
	g.Go(func() error {
		a.stats.StartReporting(gctx, a.env.StatsInterval, a.logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// hijacked websocket connections are closed by the bridge, not Shutdown
		err := errors.Join(controlSrv.Shutdown(shutdownCtx), pushSrv.Shutdown(shutdownCtx))
		pushServer.Wait()
		return err
	})

	for _, s := range a.sinks {
		if err := a.bridge.Subscribe(gctx, s.subscriber); err != nil {
			a.logger.Error("Failed to attach sink", "sink", s.name, "error", err)
		}
	}
	if a.env.AutoConnect {
		if err := a.bridge.Connect(gctx); err != nil {
			a.logger.Error("Failed to start link", "error", err)
		}
	}

	return g.Wait()
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// runBridge contains the main application logic and can be tested
func runBridge(ctx context.Context, env *config.Env, logger *slog.Logger) error {
	a, err := newApp(env, logger)
	if err != nil {
		return err
	}
	return a.run(ctx)
}
