// Package state mirrors the latest known robot state.
//
// Each field group (measured pose, goal echo, joints, force) is written by
// exactly one feedback source and guarded by its own lock, so a group is
// never observed half-updated. No atomicity across groups is provided.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/teslashibe/go-franka/pkg/spatial"
)

// ArmJoints is the number of arm joints reported ahead of the two gripper
// finger positions in a joint-state sample.
const ArmJoints = 7

// ErrNoFeedback is returned when a field group has not been written yet.
var ErrNoFeedback = errors.New("no feedback received")

// Joints is one joint-state sample.
type Joints struct {
	Positions  [ArmJoints]float64
	Velocities [ArmJoints]float64
	Gripper    float64 // aperture: sum of both finger positions
}

// Force is one force sample.
type Force struct {
	Vector    r3.Vec
	Magnitude float64
}

// cell is a single-writer, multi-reader value with its own lock.
type cell[T any] struct {
	mu      sync.RWMutex
	value   T
	set     bool
	updated time.Time
}

func (c *cell[T]) store(v T) {
	c.mu.Lock()
	c.value = v
	c.set = true
	c.updated = time.Now()
	c.mu.Unlock()
}

func (c *cell[T]) load() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

func (c *cell[T]) age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set {
		return 0
	}
	return time.Since(c.updated)
}

// Mirror holds the latest robot state.
type Mirror struct {
	pose   cell[spatial.Pose]
	goal   cell[spatial.Pose]
	joints cell[Joints]
	force  cell[Force]

	firstPose     chan struct{}
	firstPoseOnce sync.Once
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{firstPose: make(chan struct{})}
}

// UpdatePose records a measured end-effector pose.
func (m *Mirror) UpdatePose(p spatial.Pose) {
	m.pose.store(p)
	m.firstPoseOnce.Do(func() { close(m.firstPose) })
}

// UpdateGoalEcho records the goal the compliance controller currently tracks.
func (m *Mirror) UpdateGoalEcho(p spatial.Pose) {
	m.goal.store(p)
}

// UpdateForce records an external force sample.
func (m *Mirror) UpdateForce(f r3.Vec) {
	m.force.store(Force{Vector: f, Magnitude: r3.Norm(f)})
}

// UpdateJoints records a joint-state sample. positions must carry the seven
// arm joints followed by the two finger positions.
func (m *Mirror) UpdateJoints(positions, velocities []float64) error {
	if len(positions) < ArmJoints+2 {
		return fmt.Errorf("joint state: expected at least %d positions, got %d", ArmJoints+2, len(positions))
	}
	if len(velocities) < ArmJoints {
		return fmt.Errorf("joint state: expected at least %d velocities, got %d", ArmJoints, len(velocities))
	}

	var j Joints
	copy(j.Positions[:], positions[:ArmJoints])
	copy(j.Velocities[:], velocities[:ArmJoints])
	j.Gripper = positions[ArmJoints] + positions[ArmJoints+1]
	m.joints.store(j)
	return nil
}

// Pose returns the measured pose.
func (m *Mirror) Pose() (spatial.Pose, bool) { return m.pose.load() }

// GoalEcho returns the controller's acknowledged goal.
func (m *Mirror) GoalEcho() (spatial.Pose, bool) { return m.goal.load() }

// Force returns the latest force sample.
func (m *Mirror) Force() (Force, bool) { return m.force.load() }

// Joints returns the latest joint sample.
func (m *Mirror) Joints() (Joints, bool) { return m.joints.load() }

// WaitForPose blocks until the first pose sample arrives or ctx ends.
func (m *Mirror) WaitForPose(ctx context.Context) error {
	select {
	case <-m.firstPose:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for pose: %w", ErrNoFeedback, ctx.Err())
	}
}

// Snapshot is a point-in-time copy of every field group.
type Snapshot struct {
	Pose     *spatial.Pose
	GoalEcho *spatial.Pose
	Joints   *Joints
	Force    *Force

	PoseAge  time.Duration
	ForceAge time.Duration
}

// Snapshot copies the current state. Groups never written are nil.
func (m *Mirror) Snapshot() Snapshot {
	var s Snapshot
	if p, ok := m.pose.load(); ok {
		s.Pose = &p
		s.PoseAge = m.pose.age()
	}
	if g, ok := m.goal.load(); ok {
		s.GoalEcho = &g
	}
	if j, ok := m.joints.load(); ok {
		s.Joints = &j
	}
	if f, ok := m.force.load(); ok {
		s.Force = &f
		s.ForceAge = m.force.age()
	}
	return s
}
