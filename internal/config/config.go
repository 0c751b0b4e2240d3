// Package config loads go-franka configuration.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FRANKA_TRANSPORT_URL, FRANKA_CONTROL_MAX_FORCE, ...)
//  2. YAML config file
//  3. Defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/teslashibe/go-franka/pkg/compensate"
	"github.com/teslashibe/go-franka/pkg/compliance"
	"github.com/teslashibe/go-franka/pkg/motion"
	"github.com/teslashibe/go-franka/pkg/natsclient"
	"github.com/teslashibe/go-franka/pkg/search"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/state"
	"github.com/teslashibe/go-franka/pkg/web"
)

// Config is the complete service configuration.
type Config struct {
	Transport    natsclient.Config    `koanf:"transport"`
	Control      motion.Tuning        `koanf:"control"`
	Search       search.Config        `koanf:"search"`
	Compensation Compensation         `koanf:"compensation"`
	Stiffness    compliance.Stiffness `koanf:"stiffness"`
	Home         Home                 `koanf:"home"`
	Server       web.Config           `koanf:"server"`
	Log          Log                  `koanf:"log"`
}

// Compensation configures the offset compensator.
type Compensation struct {
	Period time.Duration `koanf:"period"`
}

// Home configures the homing routine. Pose is [x y z qw qx qy qz].
type Home struct {
	Pose       []float64     `koanf:"pose"`
	Joints     []float64     `koanf:"joints"`
	Nullspace  float64       `koanf:"nullspace"`
	Iterations int           `koanf:"iterations"`
	Settle     time.Duration `koanf:"settle"`
}

// Log configures logging.
type Log struct {
	Level string `koanf:"level"`
}

// Default returns the default configuration.
func Default() Config {
	h := motion.DefaultHome()
	pose := h.Pose.Array()
	return Config{
		Transport:    natsclient.DefaultConfig(),
		Control:      motion.DefaultTuning(),
		Search:       search.DefaultConfig(),
		Compensation: Compensation{Period: compensate.DefaultPeriod},
		Stiffness:    compliance.Nominal(),
		Home: Home{
			Pose:       pose[:],
			Joints:     h.Joints[:],
			Nullspace:  h.Nullspace,
			Iterations: h.Iterations,
			Settle:     h.Settle,
		},
		Server: web.DefaultConfig(),
		Log:    Log{Level: "info"},
	}
}

// HomeConfig converts the home section.
func (h Home) HomeConfig() (motion.HomeConfig, error) {
	pose, err := spatial.ParsePoseArray(h.Pose)
	if err != nil {
		return motion.HomeConfig{}, fmt.Errorf("home pose: %w", err)
	}
	if len(h.Joints) != state.ArmJoints {
		return motion.HomeConfig{}, fmt.Errorf("home joints: expected %d values, got %d", state.ArmJoints, len(h.Joints))
	}
	if h.Iterations < 0 || h.Settle < 0 || h.Nullspace < 0 {
		return motion.HomeConfig{}, errors.New("home iterations, settle and nullspace must be non-negative")
	}
	out := motion.HomeConfig{
		Pose:       pose,
		Nullspace:  h.Nullspace,
		Iterations: h.Iterations,
		Settle:     h.Settle,
	}
	copy(out.Joints[:], h.Joints)
	return out, nil
}

// Validate checks every section and reports all failures.
func (c Config) Validate() error {
	var err error
	if e := c.Transport.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("transport: %w", e))
	}
	if e := c.Control.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("control: %w", e))
	}
	if e := c.Search.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("search: %w", e))
	}
	if c.Compensation.Period <= 0 {
		err = multierr.Append(err, errors.New("compensation: period must be positive"))
	}
	if e := c.Stiffness.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("stiffness: %w", e))
	}
	if _, e := c.Home.HomeConfig(); e != nil {
		err = multierr.Append(err, e)
	}
	if e := c.Server.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("server: %w", e))
	}
	return err
}

// NATSURL returns the NATS URL from the NATS_URL env var.
// Falls back to the provided default if not set.
func NATSURL(defaultURL string) string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return defaultURL
}

// APIURL returns the HTTP API base URL from the FRANKA_API env var.
// Falls back to the provided default if not set.
func APIURL(defaultURL string) string {
	if url := os.Getenv("FRANKA_API"); url != "" {
		return url
	}
	return defaultURL
}
