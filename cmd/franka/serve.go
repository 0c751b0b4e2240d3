package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/teslashibe/go-franka/internal/config"
	"github.com/teslashibe/go-franka/internal/log"
	"github.com/teslashibe/go-franka/pkg/compensate"
	"github.com/teslashibe/go-franka/pkg/compliance"
	"github.com/teslashibe/go-franka/pkg/metrics"
	"github.com/teslashibe/go-franka/pkg/motion"
	"github.com/teslashibe/go-franka/pkg/natsclient"
	"github.com/teslashibe/go-franka/pkg/search"
	"github.com/teslashibe/go-franka/pkg/state"
	"github.com/teslashibe/go-franka/pkg/web"
)

var (
	serveHome            bool
	serveFeedbackTimeout time.Duration
	serveReadyTimeout    time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the goal tracking service",
	Long: `Connect to the arm driver over NATS, wait for feedback and serve goals from
the goal_request subject and the HTTP API.

Examples:
  # Defaults plus FRANKA_* environment overrides
  franka serve

  # With a config file, homing first
  franka serve -c franka.yaml --home`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveHome, "home", false, "run the homing routine after startup")
	serveCmd.Flags().DurationVar(&serveFeedbackTimeout, "feedback-timeout", 30*time.Second, "how long to wait for the first pose sample")
	serveCmd.Flags().DurationVar(&serveReadyTimeout, "ready-timeout", 5*time.Second, "how long to wait for the stiffness channel")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	log.Init(level)
	logger := log.L()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Transport
	client, err := natsclient.New(cfg.Transport, logger)
	if err != nil {
		return err
	}
	if err := client.ConnectWithRetry(ctx); err != nil {
		return err
	}

	mirror := state.NewMirror()
	bridge := natsclient.NewBridge(client, mirror)
	if err := bridge.Start(); err != nil {
		_ = client.Close()
		return err
	}

	readyCtx, cancel := context.WithTimeout(ctx, serveReadyTimeout)
	err = compliance.CheckReady(readyCtx, bridge)
	cancel()
	if err != nil {
		_ = client.Close()
		return err
	}

	logger.Info("waiting for arm feedback", zap.Duration("timeout", serveFeedbackTimeout))
	waitCtx, cancel := context.WithTimeout(ctx, serveFeedbackTimeout)
	err = mirror.WaitForPose(waitCtx)
	cancel()
	if err != nil {
		_ = client.Close()
		return err
	}

	// Metrics
	m := metrics.NewMetrics()
	metrics.RegisterTransport(metrics.TransportFuncs{
		Connected:      client.IsConnected,
		MessagesSent:   func() int64 { return client.Stats().MessagesSent },
		Received:       func() int64 { return client.Stats().MessagesReceived },
		Reconnects:     func() int64 { return client.Stats().ReconnectCount },
		DecodeErrors:   bridge.DecodeErrors,
		GoalsPublished: bridge.GoalsPublished,
	})

	// Motion core
	soft := cfg.Stiffness
	soft.TranslationalZ = compliance.Search().TranslationalZ
	spiral := search.New(cfg.Search, mirror, bridge, bridge,
		search.WithStiffness(cfg.Stiffness, soft),
		search.WithLogger(logger),
	)
	comp := compensate.New(mirror, bridge, cfg.Compensation.Period, logger)

	home, err := cfg.Home.HomeConfig()
	if err != nil {
		_ = client.Close()
		return err
	}
	sup, err := motion.New(motion.Deps{
		Feedback:    mirror,
		Publisher:   bridge,
		Channel:     bridge,
		Searcher:    spiral,
		Compensator: comp,
		Observer:    m,
	},
		motion.WithTuning(cfg.Control),
		motion.WithHome(home),
		motion.WithNominalStiffness(cfg.Stiffness),
		motion.WithLogger(logger),
	)
	if err != nil {
		_ = client.Close()
		return err
	}

	if err := bridge.ServeGoalRequests(ctx, sup.RequestGoal); err != nil {
		return shutdown(logger, nil, sup, client, err)
	}

	srv, err := web.NewServer(cfg.Server, sup, mirror, logger)
	if err != nil {
		return shutdown(logger, nil, sup, client, err)
	}

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, logger, func(c *config.Config) {
				if err := sup.SetTuning(c.Control); err != nil {
					logger.Warn("tuning update rejected", zap.Error(err))
				}
			})
			if err != nil {
				logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	if serveHome {
		go func() {
			if err := sup.Home(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("startup homing failed", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("franka ready",
		zap.String("nats", cfg.Transport.URL),
		zap.String("prefix", cfg.Transport.Prefix),
		zap.String("http", cfg.Server.Addr),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		runErr = fmt.Errorf("http server: %w", runErr)
	}
	return shutdown(logger, srv, sup, client, runErr)
}

// shutdown stops the API, then the supervisor, then the transport.
func shutdown(logger *zap.Logger, srv *web.Server, sup *motion.Supervisor, client *natsclient.Client, err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		err = multierr.Append(err, srv.Shutdown(ctx))
	}
	err = multierr.Append(err, sup.Close(ctx))
	err = multierr.Append(err, client.Close())
	if err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	return err
}
