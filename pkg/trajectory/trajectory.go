// Package trajectory generates dense equilibrium-pose sequences between a
// start and a goal pose.
//
// Waypoints are produced on demand rather than materialized up front: a
// contact search part way through the sequence may shift every remaining
// waypoint by a persistent planar offset.
package trajectory

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/teslashibe/go-franka/pkg/spatial"
)

// ErrInvalidStep is returned when a step resolution is not a positive finite
// number or is too fine for the distance to cover.
var ErrInvalidStep = errors.New("step resolution must be positive and finite")

// MaxSteps bounds the waypoint count of a single trajectory. It allows 1 µm
// steps over 10 m.
const MaxSteps = 10_000_000

// Trajectory is a finite, in-order, non-restartable waypoint sequence.
type Trajectory struct {
	start spatial.Pose
	goal  spatial.Pose
	steps int

	index  int    // next waypoint to produce
	offset r3.Vec // persistent planar shift, Z always zero
}

// StepCount returns the number of interpolation steps for a start/goal pair:
// the larger of floor(distance/linearStep) and floor(angle/angularStep).
// Counts above MaxSteps are rejected with ErrInvalidStep.
func StepCount(start, goal spatial.Pose, linearStep, angularStep float64) (int, error) {
	linear := math.Floor(spatial.Distance(start.Position, goal.Position) / linearStep)

	startOri := spatial.Hemisphere(start.Orientation, goal.Orientation)
	polar := math.Floor(spatial.AngularDistance(startOri, goal.Orientation) / angularStep)

	n := math.Max(linear, polar)
	if !(n <= MaxSteps) {
		return 0, fmt.Errorf("%w: %g steps exceeds %d", ErrInvalidStep, n, MaxSteps)
	}
	return int(n), nil
}

// Plan builds the waypoint sequence from start to goal.
func Plan(start, goal spatial.Pose, linearStep, angularStep float64) (*Trajectory, error) {
	for _, s := range []float64{linearStep, angularStep} {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: got %v", ErrInvalidStep, s)
		}
	}
	if err := goal.Validate(); err != nil {
		return nil, fmt.Errorf("goal: %w", err)
	}

	// Start orientation is flipped onto the goal's hemisphere so slerp takes
	// the short arc and the last waypoint lands exactly on the goal.
	start.Orientation = spatial.Hemisphere(start.Orientation, goal.Orientation)

	steps, err := StepCount(start, goal, linearStep, angularStep)
	if err != nil {
		return nil, err
	}
	return &Trajectory{
		start: start,
		goal:  goal,
		steps: steps,
	}, nil
}

// Len returns the total number of waypoints in the sequence.
func (t *Trajectory) Len() int {
	if t.steps <= 1 {
		return 1
	}
	return t.steps
}

// Remaining returns how many waypoints have not been produced yet.
func (t *Trajectory) Remaining() int {
	return t.Len() - t.index
}

// Index returns the 0-based index of the last produced waypoint, or -1.
func (t *Trajectory) Index() int {
	return t.index - 1
}

// Goal returns the goal pose.
func (t *Trajectory) Goal() spatial.Pose {
	return t.goal
}

// Offset returns the accumulated planar shift.
func (t *Trajectory) Offset() r3.Vec {
	return t.offset
}

// Next produces the next waypoint. It returns false once the sequence is
// exhausted.
func (t *Trajectory) Next() (spatial.Pose, bool) {
	if t.index >= t.Len() {
		return spatial.Pose{}, false
	}
	p := t.at(t.index)
	t.index++
	return p, true
}

// Current re-evaluates the most recently produced waypoint, picking up any
// shift applied since it was produced.
func (t *Trajectory) Current() (spatial.Pose, bool) {
	if t.index == 0 {
		return spatial.Pose{}, false
	}
	return t.at(t.index - 1), true
}

// Shift adds a planar offset to the current and every remaining waypoint.
func (t *Trajectory) Shift(dx, dy float64) {
	t.offset.X += dx
	t.offset.Y += dy
}

func (t *Trajectory) at(i int) spatial.Pose {
	var p spatial.Pose
	if t.steps <= 1 || i >= t.steps-1 {
		p = t.goal
	} else {
		// N samples inclusive of both endpoints.
		p.Position = spatial.Lerp(t.start.Position, t.goal.Position, float64(i)/float64(t.steps-1))
		p.Orientation = spatial.Slerp(t.start.Orientation, t.goal.Orientation, float64(i+1)/float64(t.steps))
	}
	p.Position = r3.Add(p.Position, t.offset)
	return p
}
