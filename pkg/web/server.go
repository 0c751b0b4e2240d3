// Package web serves the HTTP control API and the websocket state stream.
package web

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-franka/internal/log"
	"github.com/teslashibe/go-franka/pkg/hub"
	"github.com/teslashibe/go-franka/pkg/motion"
	"github.com/teslashibe/go-franka/pkg/protocol"
	"github.com/teslashibe/go-franka/pkg/state"
)

// Config configures the HTTP server.
type Config struct {
	Addr        string        `koanf:"addr"`
	StatePeriod time.Duration `koanf:"state_period"` // websocket broadcast period
	GoalRate    float64       `koanf:"goal_rate"`    // admitted goal requests per second
	GoalBurst   int           `koanf:"goal_burst"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		StatePeriod: 100 * time.Millisecond,
		GoalRate:    5,
		GoalBurst:   5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("server addr is required")
	}
	if c.StatePeriod <= 0 {
		return errors.New("state_period must be positive")
	}
	if c.GoalRate <= 0 || c.GoalBurst < 1 {
		return errors.New("goal_rate and goal_burst must be positive")
	}
	return nil
}

// Controller is the motion supervisor as seen by the API.
type Controller interface {
	RequestGoal(ctx context.Context, req motion.Request) error
	Home(ctx context.Context) error
	Status() motion.Status
}

// Snapshotter provides feedback snapshots. *state.Mirror implements it.
type Snapshotter interface {
	Snapshot() state.Snapshot
}

// Server is the HTTP API server.
type Server struct {
	app     *fiber.App
	cfg     Config
	ctrl    Controller
	mirror  Snapshotter
	hub     *hub.Hub
	limiter *rate.Limiter
	logger  *zap.Logger

	// set while a homing request started here is running
	homing atomic.Bool

	// base context for background work such as homing
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates the server and registers its routes.
func NewServer(cfg Config, ctrl Controller, mirror Snapshotter, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	logger = log.Or(logger).Named("web")
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		mirror:  mirror,
		hub:     hub.New("state", logger),
		limiter: rate.NewLimiter(rate.Limit(cfg.GoalRate), cfg.GoalBurst),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-franka",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/goal", s.handleGoal)
	api.Post("/home", s.handleHome)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))

	s.app = app
	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the state broadcast hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Start runs the hub and state broadcaster and listens until Shutdown.
func (s *Server) Start() error {
	go s.hub.Run(s.ctx)
	go s.broadcastState(s.ctx)

	s.logger.Info("HTTP API listening", zap.String("addr", s.cfg.Addr))
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown stops background work and the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) stateMessage() (*protocol.Message, error) {
	return protocol.NewStateMessage(s.mirror.Snapshot(), s.ctrl.Status())
}

// broadcastState pushes state messages to websocket clients.
func (s *Server) broadcastState(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			msg, err := s.stateMessage()
			if err != nil {
				s.logger.Warn("state message failed", zap.Error(err))
				continue
			}
			data, err := msg.Bytes()
			if err != nil {
				continue
			}
			s.hub.Broadcast(data)
		}
	}
}
