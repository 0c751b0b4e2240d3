package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/teslashibe/go-franka/pkg/compliance"
	"github.com/teslashibe/go-franka/pkg/search"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/state"
)

var (
	// ErrInvalidRequest is returned for malformed goal requests.
	ErrInvalidRequest = errors.New("invalid motion request")

	// ErrSupersedeTimeout is returned when the running task did not stop
	// within the supersede bound. The new request is not admitted.
	ErrSupersedeTimeout = errors.New("timed out waiting for running task to stop")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("supervisor closed")
)

// State is the supervisor state.
type State int

const (
	Idle State = iota
	Tracking
	Cancelling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	case Cancelling:
		return "cancelling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request is one goal request.
type Request struct {
	Target       spatial.Pose
	SpiralSearch bool
	LinearStep   float64 // m; zero selects the tuning default
	AngularStep  float64 // rad; zero selects the tuning default
}

func (r Request) normalize(t Tuning) (Request, error) {
	target, err := spatial.NewPose(r.Target.Position, r.Target.Orientation)
	if err != nil {
		return r, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	r.Target = target

	if r.LinearStep == 0 {
		r.LinearStep = t.LinearStep
	}
	if r.AngularStep == 0 {
		r.AngularStep = t.AngularStep
	}
	for _, s := range []float64{r.LinearStep, r.AngularStep} {
		if !(s > 0) || math.IsInf(s, 0) {
			return r, fmt.Errorf("%w: step resolution %v", ErrInvalidRequest, s)
		}
	}
	return r, nil
}

// Tuning holds runtime-adjustable parameters. Changes apply to the next
// admitted task.
type Tuning struct {
	ControlRate          float64       `koanf:"rate" json:"control_rate"` // Hz
	LinearStep           float64       `koanf:"linear_step" json:"linear_step"`
	AngularStep          float64       `koanf:"angular_step" json:"angular_step"`
	MaxForce             float64       `koanf:"max_force" json:"max_force"` // N, approach axis
	CompletionIterations int           `koanf:"completion_iterations" json:"completion_iterations"`
	SupersedeTimeout     time.Duration `koanf:"supersede_timeout" json:"supersede_timeout"`
}

// DefaultTuning returns the reference parameters.
func DefaultTuning() Tuning {
	return Tuning{
		ControlRate:          100,
		LinearStep:           0.001,
		AngularStep:          0.001,
		MaxForce:             2,
		CompletionIterations: 3,
		SupersedeTimeout:     35 * time.Second,
	}
}

// Validate checks the tuning.
func (t Tuning) Validate() error {
	switch {
	case t.ControlRate <= 0:
		return fmt.Errorf("control rate must be positive, got %v", t.ControlRate)
	case t.LinearStep <= 0 || t.AngularStep <= 0:
		return fmt.Errorf("step resolutions must be positive, got %v/%v", t.LinearStep, t.AngularStep)
	case t.MaxForce <= 0:
		return fmt.Errorf("max force must be positive, got %v", t.MaxForce)
	case t.CompletionIterations < 0:
		return fmt.Errorf("completion iterations must be non-negative, got %d", t.CompletionIterations)
	case t.SupersedeTimeout <= 0:
		return fmt.Errorf("supersede timeout must be positive, got %v", t.SupersedeTimeout)
	}
	return nil
}

// HomeConfig describes the homing routine.
type HomeConfig struct {
	Pose       spatial.Pose
	Joints     [state.ArmJoints]float64
	Nullspace  float64
	Iterations int
	Settle     time.Duration
}

// DefaultHome returns the reference home pose and joint configuration.
func DefaultHome() HomeConfig {
	return HomeConfig{
		Pose: spatial.Pose{
			Position:    r3.Vec{X: 0.4, Y: -0.05, Z: 0.25},
			Orientation: spatial.Q(0, 1, 0, 0),
		},
		Joints:     [state.ArmJoints]float64{0, 0, 0, -2.4, 0, 2.4, 0},
		Nullspace:  10,
		Iterations: 10,
		Settle:     5 * time.Second,
	}
}

// Feedback is the subset of the state mirror the supervisor reads.
type Feedback interface {
	Pose() (spatial.Pose, bool)
	Force() (state.Force, bool)
}

// Publisher sends commands to the compliance controller.
type Publisher interface {
	PublishGoal(ctx context.Context, p spatial.Pose) error
	PublishConfiguration(ctx context.Context, joints [state.ArmJoints]float64) error
}

// Searcher runs a contact search. *search.Spiral implements it.
type Searcher interface {
	Search(ctx context.Context, goal spatial.Pose) (search.Result, error)
}

// Compensator runs offset compensation. *compensate.Compensator implements it.
type Compensator interface {
	Compensate(ctx context.Context, iterations int) error
}

// Observer receives task lifecycle events, typically for metrics.
type Observer interface {
	TaskStarted()
	TaskFinished(outcome string, elapsed time.Duration)
	SearchFinished(success bool, elapsed time.Duration)
	Overruns(n int)
}

type nopObserver struct{}

func (nopObserver) TaskStarted()                       {}
func (nopObserver) TaskFinished(string, time.Duration) {}
func (nopObserver) SearchFinished(bool, time.Duration) {}
func (nopObserver) Overruns(int)                       {}

// Task outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Status is a point-in-time view of the supervisor.
type Status struct {
	State  State
	TaskID string
	Target *spatial.Pose
	Homing bool
	Tuning Tuning
}

// Deps are the supervisor's collaborators. Channel and Publisher are required.
type Deps struct {
	Feedback    Feedback
	Publisher   Publisher
	Channel     compliance.Channel
	Searcher    Searcher
	Compensator Compensator
	Observer    Observer
}
