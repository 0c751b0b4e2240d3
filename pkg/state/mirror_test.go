package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/teslashibe/go-franka/pkg/spatial"
)

func TestMirror_Empty(t *testing.T) {
	m := NewMirror()

	_, ok := m.Pose()
	assert.False(t, ok)
	_, ok = m.Force()
	assert.False(t, ok)

	s := m.Snapshot()
	assert.Nil(t, s.Pose)
	assert.Nil(t, s.GoalEcho)
	assert.Nil(t, s.Joints)
	assert.Nil(t, s.Force)
}

func TestMirror_Force(t *testing.T) {
	m := NewMirror()
	m.UpdateForce(r3.Vec{X: 3, Y: 0, Z: 4})

	f, ok := m.Force()
	require.True(t, ok)
	assert.Equal(t, 5.0, f.Magnitude)
	assert.Equal(t, 4.0, f.Vector.Z)
}

func TestMirror_Joints(t *testing.T) {
	m := NewMirror()

	err := m.UpdateJoints([]float64{0, 1, 2, 3, 4, 5, 6, 0.02, 0.03}, []float64{0, 0, 0, 0, 0, 0, 0.5, 0, 0})
	require.NoError(t, err)

	j, ok := m.Joints()
	require.True(t, ok)
	assert.Equal(t, 6.0, j.Positions[6])
	assert.Equal(t, 0.5, j.Velocities[6])
	assert.InDelta(t, 0.05, j.Gripper, 1e-12)
}

func TestMirror_JointsTooShort(t *testing.T) {
	m := NewMirror()
	err := m.UpdateJoints([]float64{0, 1, 2, 3, 4, 5, 6}, make([]float64, 7))
	assert.Error(t, err)

	_, ok := m.Joints()
	assert.False(t, ok, "rejected sample must not be stored")
}

func TestMirror_WaitForPose(t *testing.T) {
	m := NewMirror()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitForPose(ctx), ErrNoFeedback)

	go func() {
		time.Sleep(5 * time.Millisecond)
		m.UpdatePose(spatial.Pose{Orientation: spatial.Identity})
	}()

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, m.WaitForPose(ctx2))

	// Further samples must not panic on the closed channel.
	m.UpdatePose(spatial.Pose{Orientation: spatial.Identity})
}

func TestMirror_ConcurrentGroups(t *testing.T) {
	m := NewMirror()
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			v := float64(i)
			m.UpdatePose(spatial.Pose{Position: r3.Vec{X: v, Y: v, Z: v}, Orientation: spatial.Identity})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			m.UpdateForce(r3.Vec{Z: float64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if p, ok := m.Pose(); ok {
				// Position is written as a group; the axes never disagree.
				assert.Equal(t, p.Position.X, p.Position.Y)
				assert.Equal(t, p.Position.Y, p.Position.Z)
			}
			_ = m.Snapshot()
		}
	}()
	wg.Wait()
}
