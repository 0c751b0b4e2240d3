// Package motion admits goal requests and runs at most one tracking task at a
// time: interpolate toward the goal at the control rate, react to contact
// force with a spiral search, and re-center the controller on completion.
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teslashibe/go-franka/internal/log"
	"github.com/teslashibe/go-franka/pkg/compliance"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/state"
)

// Supervisor owns goal admission and the tracking worker.
type Supervisor struct {
	deps    Deps
	home    HomeConfig
	nominal compliance.Stiffness
	logger  *zap.Logger

	// ctx bounds every worker; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// admit serializes RequestGoal and Home.
	admit sync.Mutex

	mu      sync.Mutex
	state   State
	tuning  Tuning
	task    *task
	last    spatial.Pose
	hasLast bool
	homing  bool
	closed  bool
}

type task struct {
	id      string
	req     Request
	tuning  Tuning
	stop    atomic.Bool
	done    chan struct{}
	started time.Time
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithTuning sets the initial tuning.
func WithTuning(t Tuning) Option {
	return func(s *Supervisor) { s.tuning = t }
}

// WithHome sets the homing routine parameters.
func WithHome(h HomeConfig) Option {
	return func(s *Supervisor) { s.home = h }
}

// WithNominalStiffness sets the gains applied at the start of every task.
func WithNominalStiffness(k compliance.Stiffness) Option {
	return func(s *Supervisor) { s.nominal = k }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// New creates a Supervisor.
func New(deps Deps, opts ...Option) (*Supervisor, error) {
	switch {
	case deps.Feedback == nil:
		return nil, errors.New("motion: feedback is required")
	case deps.Publisher == nil:
		return nil, errors.New("motion: publisher is required")
	case deps.Channel == nil:
		return nil, compliance.ErrChannelUnavailable
	case deps.Searcher == nil:
		return nil, errors.New("motion: searcher is required")
	case deps.Compensator == nil:
		return nil, errors.New("motion: compensator is required")
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	s := &Supervisor{
		deps:    deps,
		home:    DefaultHome(),
		nominal: compliance.Nominal(),
		tuning:  DefaultTuning(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.tuning.Validate(); err != nil {
		return nil, fmt.Errorf("motion: %w", err)
	}
	s.logger = log.Or(s.logger).Named("motion")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// RequestGoal admits a new goal. A request whose target exactly matches the
// active target is a no-op; a target whose task was cancelled or failed is
// admitted again. Otherwise any running task is cancelled
// and joined before the new one starts; if it does not stop within the
// supersede timeout, ErrSupersedeTimeout is returned and nothing is admitted.
func (s *Supervisor) RequestGoal(ctx context.Context, req Request) error {
	s.admit.Lock()
	defer s.admit.Unlock()

	_, err := s.admitLocked(ctx, req)
	return err
}

// admitLocked returns the started task, or nil when the request was a no-op.
func (s *Supervisor) admitLocked(ctx context.Context, req Request) (*task, error) {
	s.mu.Lock()
	tuning := s.tuning
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	req, err := req.normalize(tuning)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.isActiveTargetLocked(req.Target) {
		s.mu.Unlock()
		s.logger.Debug("duplicate goal ignored", zap.Stringer("target", req.Target))
		return nil, nil
	}
	prev := s.task
	s.mu.Unlock()

	if _, ok := s.deps.Feedback.Pose(); !ok {
		return nil, fmt.Errorf("motion: %w", state.ErrNoFeedback)
	}

	if prev != nil {
		if err := s.supersede(ctx, prev, tuning.SupersedeTimeout); err != nil {
			return nil, err
		}
	}

	t := &task{
		id:      uuid.NewString(),
		req:     req,
		tuning:  tuning,
		done:    make(chan struct{}),
		started: time.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.task = t
	s.last = req.Target
	s.hasLast = true
	s.state = Tracking
	s.mu.Unlock()

	s.logger.Info("goal admitted",
		zap.String("task_id", t.id),
		zap.Stringer("target", req.Target),
		zap.Bool("spiral_search", req.SpiralSearch))

	s.deps.Observer.TaskStarted()
	go s.run(t)
	return t, nil
}

// isActiveTargetLocked reports whether target is the goal the arm is tracking
// or has reached. A task flagged to stop no longer owns its target.
func (s *Supervisor) isActiveTargetLocked(target spatial.Pose) bool {
	if !s.hasLast || !s.last.Equal(target) {
		return false
	}
	return s.task == nil || !s.task.stop.Load()
}

// supersede flags prev for cancellation and waits for its worker to exit.
func (s *Supervisor) supersede(ctx context.Context, prev *task, timeout time.Duration) error {
	select {
	case <-prev.done:
		return nil
	default:
	}

	prev.stop.Store(true)
	s.mu.Lock()
	if s.task == prev {
		s.state = Cancelling
	}
	s.mu.Unlock()

	s.logger.Info("superseding task", zap.String("task_id", prev.id))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-prev.done:
		return nil
	case <-timer.C:
		s.logger.Warn("running task did not stop in time",
			zap.String("task_id", prev.id),
			zap.Duration("timeout", timeout))
		return ErrSupersedeTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state, Homing: s.homing, Tuning: s.tuning}
	if s.task != nil && s.state != Idle {
		st.TaskID = s.task.id
	}
	if s.hasLast {
		target := s.last
		st.Target = &target
	}
	return st
}

// Tuning returns the current tuning.
func (s *Supervisor) Tuning() Tuning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tuning
}

// SetTuning replaces the tuning used by subsequently admitted tasks.
func (s *Supervisor) SetTuning(t Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tuning = t
	s.mu.Unlock()
	s.logger.Info("tuning updated",
		zap.Float64("control_rate", t.ControlRate),
		zap.Float64("max_force", t.MaxForce))
	return nil
}

// Wait blocks until the current task, if any, has stopped.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	t := s.task
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the running task and rejects further requests.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t := s.task
	s.mu.Unlock()

	if t != nil {
		t.stop.Store(true)
	}
	s.cancel()
	return s.Wait(ctx)
}
