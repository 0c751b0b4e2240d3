// Package compliance describes the stiffness gains of the external impedance
// controller and the channel used to update them at runtime.
package compliance

import (
	"context"
	"errors"
	"fmt"
)

// Parameter keys understood by the compliance parameter node.
const (
	KeyTranslationalX = "translational_stiffness_X"
	KeyTranslationalY = "translational_stiffness_Y"
	KeyTranslationalZ = "translational_stiffness_Z"
	KeyRotationalX    = "rotational_stiffness_X"
	KeyRotationalY    = "rotational_stiffness_Y"
	KeyRotationalZ    = "rotational_stiffness_Z"
	KeyNullspace      = "nullspace_stiffness"
)

// ErrChannelUnavailable is returned when the stiffness parameter channel
// cannot be reached. Every motion depends on it, so startup treats it as fatal.
var ErrChannelUnavailable = errors.New("stiffness channel unavailable")

// Channel accepts named stiffness updates. Updates are fire-and-forget: no
// acknowledgment is awaited.
type Channel interface {
	Update(ctx context.Context, params map[string]float64) error
	Ready(ctx context.Context) error
}

// Stiffness is a full set of compliance gains.
type Stiffness struct {
	TranslationalX float64 `koanf:"translational_x" json:"translational_x"`
	TranslationalY float64 `koanf:"translational_y" json:"translational_y"`
	TranslationalZ float64 `koanf:"translational_z" json:"translational_z"`
	RotationalX    float64 `koanf:"rotational_x" json:"rotational_x"`
	RotationalY    float64 `koanf:"rotational_y" json:"rotational_y"`
	RotationalZ    float64 `koanf:"rotational_z" json:"rotational_z"`
	Nullspace      float64 `koanf:"nullspace" json:"nullspace"`
}

// Nominal returns the gains used while tracking a trajectory.
func Nominal() Stiffness {
	return Stiffness{
		TranslationalX: 4000,
		TranslationalY: 4000,
		TranslationalZ: 4000,
		RotationalX:    50,
		RotationalY:    50,
		RotationalZ:    30,
		Nullspace:      0,
	}
}

// Search returns the gains used during a spiral search: nominal, but
// softer along the approach (z) axis.
func Search() Stiffness {
	s := Nominal()
	s.TranslationalZ = 1000
	return s
}

// Params returns the gains keyed by parameter name.
func (s Stiffness) Params() map[string]float64 {
	return map[string]float64{
		KeyTranslationalX: s.TranslationalX,
		KeyTranslationalY: s.TranslationalY,
		KeyTranslationalZ: s.TranslationalZ,
		KeyRotationalX:    s.RotationalX,
		KeyRotationalY:    s.RotationalY,
		KeyRotationalZ:    s.RotationalZ,
		KeyNullspace:      s.Nullspace,
	}
}

// Validate rejects negative gains.
func (s Stiffness) Validate() error {
	for k, v := range s.Params() {
		if v < 0 {
			return fmt.Errorf("stiffness %s must be non-negative, got %v", k, v)
		}
	}
	return nil
}

// Apply sends a full gain set over ch.
func Apply(ctx context.Context, ch Channel, s Stiffness) error {
	if err := ch.Update(ctx, s.Params()); err != nil {
		return fmt.Errorf("apply stiffness: %w", err)
	}
	return nil
}

// SetNullspace updates only the nullspace stiffness.
func SetNullspace(ctx context.Context, ch Channel, k float64) error {
	if err := ch.Update(ctx, map[string]float64{KeyNullspace: k}); err != nil {
		return fmt.Errorf("set nullspace stiffness: %w", err)
	}
	return nil
}

// CheckReady verifies the channel at startup, wrapping any failure in
// ErrChannelUnavailable.
func CheckReady(ctx context.Context, ch Channel) error {
	if ch == nil {
		return ErrChannelUnavailable
	}
	if err := ch.Ready(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}
	return nil
}
