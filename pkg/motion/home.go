package motion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teslashibe/go-franka/pkg/compliance"
)

// Home drives to the home pose without contact search, publishes the home
// joint configuration, then compensates with a raised nullspace stiffness
// and lets the arm settle. No other goal is admitted until Home returns.
func (s *Supervisor) Home(ctx context.Context) error {
	s.admit.Lock()
	defer s.admit.Unlock()

	s.setHoming(true)
	defer s.setHoming(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.logger.Info("homing started", zap.Stringer("pose", s.home.Pose))

	if _, err := s.admitLocked(ctx, Request{Target: s.home.Pose}); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	// A duplicate home request still waits for the task already heading there.
	if err := s.Wait(ctx); err != nil {
		return err
	}

	if err := s.deps.Publisher.PublishConfiguration(ctx, s.home.Joints); err != nil {
		return fmt.Errorf("home: publish configuration: %w", err)
	}
	if err := compliance.SetNullspace(ctx, s.deps.Channel, s.home.Nullspace); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	// Always drop the nullspace stiffness again, even when interrupted.
	defer func() {
		if err := compliance.SetNullspace(context.WithoutCancel(ctx), s.deps.Channel, 0); err != nil {
			s.logger.Warn("reset nullspace stiffness", zap.Error(err))
		}
	}()

	if err := s.deps.Compensator.Compensate(ctx, s.home.Iterations); err != nil {
		return fmt.Errorf("home: %w", err)
	}

	timer := time.NewTimer(s.home.Settle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("homing finished")
	return nil
}

func (s *Supervisor) setHoming(v bool) {
	s.mu.Lock()
	s.homing = v
	s.mu.Unlock()
}
