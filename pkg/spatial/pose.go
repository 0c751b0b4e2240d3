package spatial

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// unitTolerance is how far an incoming orientation norm may drift from 1
// before it is rejected instead of normalized.
const unitTolerance = 1e-2

// ErrInvalidPose is returned for malformed poses: wrong dimensionality,
// non-finite values, or an orientation that is not (close to) unit norm.
var ErrInvalidPose = errors.New("invalid pose")

// Pose is an end-effector position with an orientation.
type Pose struct {
	Position    r3.Vec
	Orientation Quaternion
}

// NewPose validates and builds a pose, normalizing the orientation.
func NewPose(position r3.Vec, orientation Quaternion) (Pose, error) {
	p := Pose{Position: position, Orientation: orientation}
	if err := p.Validate(); err != nil {
		return Pose{}, err
	}
	p.Orientation = orientation.Normalize()
	return p, nil
}

// ParsePoseArray parses [x, y, z, qw, qx, qy, qz].
func ParsePoseArray(v []float64) (Pose, error) {
	if len(v) != 7 {
		return Pose{}, fmt.Errorf("%w: expected 7 values, got %d", ErrInvalidPose, len(v))
	}
	return NewPose(r3.Vec{X: v[0], Y: v[1], Z: v[2]}, Q(v[3], v[4], v[5], v[6]))
}

// Array returns the pose as [x, y, z, qw, qx, qy, qz].
func (p Pose) Array() [7]float64 {
	return [7]float64{
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Orientation.W, p.Orientation.X, p.Orientation.Y, p.Orientation.Z,
	}
}

// Validate checks that every component is finite and the orientation is
// within tolerance of unit norm.
func (p Pose) Validate() error {
	for i, v := range p.Array() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidPose, i)
		}
	}
	if n := p.Orientation.Norm(); math.Abs(n-1) > unitTolerance {
		return fmt.Errorf("%w: orientation norm %.4f is not unit", ErrInvalidPose, n)
	}
	return nil
}

// Equal reports an exact component match of position and orientation.
func (p Pose) Equal(other Pose) bool {
	return p.Position == other.Position && p.Orientation == other.Orientation
}

// Distance returns the euclidean distance between two positions.
func Distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(b, a))
}

// Lerp linearly interpolates between two positions.
func Lerp(a, b r3.Vec, t float64) r3.Vec {
	return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
}

// String implements fmt.Stringer.
func (p Pose) String() string {
	return fmt.Sprintf("pos=(%.4f,%.4f,%.4f) ori=(w=%.4f,x=%.4f,y=%.4f,z=%.4f)",
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Orientation.W, p.Orientation.X, p.Orientation.Y, p.Orientation.Z)
}
