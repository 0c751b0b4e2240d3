// Package search implements the contact-seeking spiral run when contact force
// exceeds a threshold during trajectory tracking.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/teslashibe/go-franka/internal/log"
	"github.com/teslashibe/go-franka/pkg/compliance"
	"github.com/teslashibe/go-franka/pkg/pacing"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/state"
)

// ErrSearchTimeout is returned when the exit force was not reached within the
// maximum duration. The accompanying Result is still populated.
var ErrSearchTimeout = errors.New("spiral search timed out")

// Feedback is the subset of the state mirror the search reads.
type Feedback interface {
	Pose() (spatial.Pose, bool)
	Force() (state.Force, bool)
}

// GoalPublisher sends equilibrium poses to the compliance controller.
type GoalPublisher interface {
	PublishGoal(ctx context.Context, p spatial.Pose) error
}

// Config holds spiral parameters.
type Config struct {
	Rate               float64       `koanf:"rate"` // Hz
	MaxDuration        time.Duration `koanf:"max_duration"`
	RadiusGrowth       float64       `koanf:"radius_growth"` // m/s
	RotationsPerSecond float64       `koanf:"rotations_per_second"`
	ExitForce          float64       `koanf:"exit_force"` // N
}

// DefaultConfig returns the reference spiral parameters.
func DefaultConfig() Config {
	return Config{
		Rate:               20,
		MaxDuration:        30 * time.Second,
		RadiusGrowth:       0.0005,
		RotationsPerSecond: 1,
		ExitForce:          1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("search rate must be positive, got %v", c.Rate)
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("search max duration must be positive, got %v", c.MaxDuration)
	}
	if c.RadiusGrowth < 0 {
		return fmt.Errorf("search radius growth must be non-negative, got %v", c.RadiusGrowth)
	}
	return nil
}

// Budget returns the number of ticks allowed before the search gives up.
func (c Config) Budget() int {
	return int(c.MaxDuration.Seconds() * c.Rate)
}

// Offset returns the planar spiral offset at elapsed time t seconds.
func (c Config) Offset(t float64) (dx, dy float64) {
	theta := 2 * math.Pi * c.RotationsPerSecond * t
	r := c.RadiusGrowth * t
	return math.Cos(theta) * r, math.Sin(theta) * r
}

// Result is the outcome of one search.
type Result struct {
	Success bool
	// Correction is the planar shift (measured at exit minus the frozen
	// center) to apply to the remaining waypoints. Z is always zero.
	Correction r3.Vec
	Center     r3.Vec
	Final      r3.Vec
	Ticks      int
}

// Spiral runs spiral searches. It owns the caller's goroutine while active.
type Spiral struct {
	cfg       Config
	feedback  Feedback
	publisher GoalPublisher
	channel   compliance.Channel
	nominal   compliance.Stiffness
	soft      compliance.Stiffness
	logger    *zap.Logger
}

// Option configures a Spiral.
type Option func(*Spiral)

// WithStiffness overrides the nominal and search gain sets.
func WithStiffness(nominal, soft compliance.Stiffness) Option {
	return func(s *Spiral) {
		s.nominal = nominal
		s.soft = soft
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Spiral) { s.logger = l }
}

// New creates a Spiral.
func New(cfg Config, fb Feedback, pub GoalPublisher, ch compliance.Channel, opts ...Option) *Spiral {
	s := &Spiral{
		cfg:       cfg,
		feedback:  fb,
		publisher: pub,
		channel:   ch,
		nominal:   compliance.Nominal(),
		soft:      compliance.Search(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.Or(s.logger).Named("search")
	return s
}

// Search spirals around the current measured position at the height and
// orientation of goal until the approach-axis force drops to the exit
// threshold or the time budget runs out.
func (s *Spiral) Search(ctx context.Context, goal spatial.Pose) (Result, error) {
	start, ok := s.feedback.Pose()
	if !ok {
		return Result{}, fmt.Errorf("spiral search: %w", state.ErrNoFeedback)
	}
	res := Result{Center: start.Position, Final: start.Position}

	if err := compliance.Apply(ctx, s.channel, s.soft); err != nil {
		return res, err
	}
	defer func() {
		// Restore even when ctx is already done.
		if err := compliance.Apply(context.WithoutCancel(ctx), s.channel, s.nominal); err != nil {
			s.logger.Warn("restore nominal stiffness failed", zap.Error(err))
		}
	}()

	s.logger.Info("spiral search started",
		zap.Float64("center_x", res.Center.X),
		zap.Float64("center_y", res.Center.Y),
		zap.Int("budget", s.cfg.Budget()))

	rate := pacing.NewRate(pacing.Hz(s.cfg.Rate))
	target := spatial.Pose{Orientation: goal.Orientation}
	target.Position.Z = goal.Position.Z

	for k := 0; k < s.cfg.Budget(); k++ {
		dx, dy := s.cfg.Offset(float64(k) / s.cfg.Rate)
		target.Position.X = res.Center.X + dx
		target.Position.Y = res.Center.Y + dy

		if err := s.publisher.PublishGoal(ctx, target); err != nil {
			return s.finish(res, k), fmt.Errorf("spiral search publish: %w", err)
		}
		res.Ticks = k + 1

		if f, ok := s.feedback.Force(); ok && f.Vector.Z <= s.cfg.ExitForce {
			res.Success = true
			res = s.finish(res, res.Ticks)
			s.logger.Info("spiral search found contact",
				zap.Int("ticks", res.Ticks),
				zap.Float64("dx", res.Correction.X),
				zap.Float64("dy", res.Correction.Y))
			return res, nil
		}

		if err := rate.Sleep(ctx); err != nil {
			return s.finish(res, res.Ticks), err
		}
	}

	res = s.finish(res, res.Ticks)
	s.logger.Warn("spiral search timed out", zap.Int("ticks", res.Ticks))
	return res, ErrSearchTimeout
}

func (s *Spiral) finish(res Result, ticks int) Result {
	res.Ticks = ticks
	if p, ok := s.feedback.Pose(); ok {
		res.Final = p.Position
	}
	res.Correction = r3.Sub(res.Final, res.Center)
	res.Correction.Z = 0
	return res
}
