// Package compensate re-centers the compliance controller's internal goal
// when disturbance has pulled the measured pose away from the intended one.
package compensate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/teslashibe/go-franka/internal/log"
	"github.com/teslashibe/go-franka/pkg/pacing"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/state"
)

// DefaultPeriod is the spacing between compensation iterations.
const DefaultPeriod = 200 * time.Millisecond

// ErrNoGoalEcho is returned when the controller has not acknowledged any goal.
var ErrNoGoalEcho = errors.New("no goal echo received")

// Feedback is the subset of the state mirror the compensator reads.
type Feedback interface {
	Pose() (spatial.Pose, bool)
	GoalEcho() (spatial.Pose, bool)
}

// GoalPublisher sends equilibrium poses to the compliance controller.
type GoalPublisher interface {
	PublishGoal(ctx context.Context, p spatial.Pose) error
}

// Compensator runs fixed-iteration offset compensation.
type Compensator struct {
	feedback  Feedback
	publisher GoalPublisher
	period    time.Duration
	logger    *zap.Logger
}

// New creates a Compensator. A non-positive period selects DefaultPeriod.
func New(fb Feedback, pub GoalPublisher, period time.Duration, logger *zap.Logger) *Compensator {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Compensator{
		feedback:  fb,
		publisher: pub,
		period:    period,
		logger:    log.Or(logger).Named("compensate"),
	}
}

// Step computes one corrected goal from the desired pose, the controller's
// acknowledged goal and the measured pose.
func Step(desired, commanded, measured spatial.Pose) (spatial.Pose, error) {
	delta, err := spatial.Divide(desired.Orientation, measured.Orientation)
	next := spatial.Pose{
		Position:    r3.Add(commanded.Position, r3.Sub(desired.Position, measured.Position)),
		Orientation: spatial.Product(delta, commanded.Orientation),
	}
	return next, err
}

// Compensate publishes iterations corrected goals, one per period. The
// desired pose is the goal echo at the time of the call. The loop does not
// stop early on convergence.
func (c *Compensator) Compensate(ctx context.Context, iterations int) error {
	desired, ok := c.feedback.GoalEcho()
	if !ok {
		return ErrNoGoalEcho
	}

	rate := pacing.NewRate(c.period)
	for i := 0; i < iterations; i++ {
		commanded, ok := c.feedback.GoalEcho()
		if !ok {
			return ErrNoGoalEcho
		}
		measured, ok := c.feedback.Pose()
		if !ok {
			return fmt.Errorf("compensate: %w", state.ErrNoFeedback)
		}

		next, err := Step(desired, commanded, measured)
		if errors.Is(err, spatial.ErrDegenerateQuaternion) {
			c.logger.Warn("degenerate measured orientation, using identity delta",
				zap.Int("iteration", i))
		}

		if err := c.publisher.PublishGoal(ctx, next); err != nil {
			return fmt.Errorf("compensate publish: %w", err)
		}
		if err := rate.Sleep(ctx); err != nil {
			return err
		}
	}
	c.logger.Debug("compensation finished", zap.Int("iterations", iterations))
	return nil
}
