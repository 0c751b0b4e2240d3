package motion

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/teslashibe/go-franka/pkg/compliance"
	"github.com/teslashibe/go-franka/pkg/pacing"
	"github.com/teslashibe/go-franka/pkg/search"
	"github.com/teslashibe/go-franka/pkg/trajectory"
)

// run is the tracking worker for one task.
func (s *Supervisor) run(t *task) {
	logger := s.logger.With(zap.String("task_id", t.id))
	outcome := OutcomeFailed

	defer func() {
		s.mu.Lock()
		if s.task == t {
			s.state = Idle
			if outcome != OutcomeCompleted {
				s.hasLast = false
			}
		}
		s.mu.Unlock()

		elapsed := time.Since(t.started)
		s.deps.Observer.TaskFinished(outcome, elapsed)
		logger.Info("task finished", zap.String("outcome", outcome), zap.Duration("elapsed", elapsed))
		close(t.done)
	}()

	outcome = s.track(s.ctx, t, logger)
}

func (s *Supervisor) track(ctx context.Context, t *task, logger *zap.Logger) string {
	start, ok := s.deps.Feedback.Pose()
	if !ok {
		logger.Error("no measured pose at task start")
		return OutcomeFailed
	}

	traj, err := trajectory.Plan(start, t.req.Target, t.req.LinearStep, t.req.AngularStep)
	if err != nil {
		logger.Error("plan trajectory", zap.Error(err))
		return OutcomeFailed
	}
	logger.Debug("trajectory planned", zap.Int("waypoints", traj.Len()))

	if err := compliance.Apply(ctx, s.deps.Channel, s.nominal); err != nil {
		logger.Warn("apply nominal stiffness", zap.Error(err))
	}

	rate := pacing.NewRate(pacing.Hz(t.tuning.ControlRate))
	defer func() { s.deps.Observer.Overruns(rate.Overruns()) }()

	for {
		if t.stop.Load() {
			return OutcomeCancelled
		}
		wp, ok := traj.Next()
		if !ok {
			break
		}

		if t.req.SpiralSearch {
			if f, ok := s.deps.Feedback.Force(); ok && f.Vector.Z > t.tuning.MaxForce {
				if s.contact(ctx, traj, logger) {
					wp, _ = traj.Current()
				}
				if ctx.Err() != nil {
					return OutcomeCancelled
				}
			}
		}

		if err := s.deps.Publisher.PublishGoal(ctx, wp); err != nil {
			logger.Warn("publish waypoint", zap.Int("index", traj.Index()), zap.Error(err))
		}
		if err := rate.Sleep(ctx); err != nil {
			return OutcomeCancelled
		}
	}

	if err := s.deps.Publisher.PublishGoal(ctx, traj.Goal()); err != nil {
		logger.Warn("publish final goal", zap.Error(err))
	}
	if err := s.deps.Compensator.Compensate(ctx, t.tuning.CompletionIterations); err != nil {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}
		logger.Warn("completion compensation", zap.Error(err))
	}
	return OutcomeCompleted
}

// contact runs a spiral search at the current waypoint and shifts the rest of
// the trajectory when it succeeds. It reports whether a shift was applied.
func (s *Supervisor) contact(ctx context.Context, traj *trajectory.Trajectory, logger *zap.Logger) bool {
	wp, _ := traj.Current()
	began := time.Now()
	res, err := s.deps.Searcher.Search(ctx, wp)
	s.deps.Observer.SearchFinished(res.Success, time.Since(began))

	switch {
	case err == nil && res.Success:
		traj.Shift(res.Correction.X, res.Correction.Y)
		logger.Info("trajectory shifted after contact search",
			zap.Float64("dx", res.Correction.X),
			zap.Float64("dy", res.Correction.Y),
			zap.Int("index", traj.Index()))
		return true
	case errors.Is(err, search.ErrSearchTimeout):
		logger.Warn("contact search timed out, continuing uncorrected", zap.Int("ticks", res.Ticks))
	case err != nil:
		logger.Warn("contact search failed", zap.Error(err))
	}
	return false
}
