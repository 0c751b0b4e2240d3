package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teslashibe/go-franka/pkg/motion"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nats://localhost:4222", cfg.Transport.URL)
	assert.Equal(t, 2.0, cfg.Control.MaxForce)
	assert.Equal(t, 30*time.Second, cfg.Search.MaxDuration)
	assert.Equal(t, 4000.0, cfg.Stiffness.TranslationalZ)

	home, err := cfg.Home.HomeConfig()
	require.NoError(t, err)
	assert.Equal(t, motion.DefaultHome(), home)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Control, cfg.Control)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "franka.yaml")
	writeConfig(t, path, `
transport:
  url: nats://arm:4222
  prefix: lab
control:
  rate: 200
  max_force: 3.5
search:
  max_duration: 10s
home:
  pose: [0.3, 0, 0.4, 1, 0, 0, 0]
  settle: 1s
server:
  addr: ":9000"
`)
	t.Setenv("FRANKA_CONTROL_MAX_FORCE", "4")
	t.Setenv("FRANKA_SERVER_GOAL_BURST", "9")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://arm:4222", cfg.Transport.URL)
	assert.Equal(t, "lab", cfg.Transport.Prefix)
	assert.Equal(t, 200.0, cfg.Control.ControlRate)
	assert.Equal(t, 4.0, cfg.Control.MaxForce, "env overrides file")
	assert.Equal(t, 0.001, cfg.Control.LinearStep, "unset fields keep defaults")
	assert.Equal(t, 10*time.Second, cfg.Search.MaxDuration)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 9, cfg.Server.GoalBurst)

	home, err := cfg.Home.HomeConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.3, home.Pose.Position.X)
	assert.Equal(t, time.Second, home.Settle)
	assert.Equal(t, -2.4, home.Joints[3])
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "control: [\n"},
		{"negative rate", "control:\n  rate: -1\n"},
		{"short home pose", "home:\n  pose: [0.3, 0, 0.4]\n"},
		{"empty url", "transport:\n  url: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			writeConfig(t, path, tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsAllSections(t *testing.T) {
	cfg := Default()
	cfg.Control.MaxForce = 0
	cfg.Compensation.Period = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control")
	assert.Contains(t, err.Error(), "compensation")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "transport.url", envKey("FRANKA_TRANSPORT_URL"))
	assert.Equal(t, "control.max_force", envKey("FRANKA_CONTROL_MAX_FORCE"))
	assert.Equal(t, "log", envKey("FRANKA_LOG"))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("NATS_URL", "")
	assert.Equal(t, "nats://x:4222", NATSURL("nats://x:4222"))
	t.Setenv("NATS_URL", "nats://y:4222")
	assert.Equal(t, "nats://y:4222", NATSURL("nats://x:4222"))

	t.Setenv("FRANKA_API", "http://arm:8080")
	assert.Equal(t, "http://arm:8080", APIURL("http://localhost:8080"))
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "franka.yaml")
	writeConfig(t, path, "control:\n  max_force: 2\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zaptest.NewLogger(t), func(c *Config) { reloaded <- c })
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, path, "control:\n  max_force: -1\n")
	select {
	case <-reloaded:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(400 * time.Millisecond):
	}

	writeConfig(t, path, "control:\n  max_force: 5\n")
	select {
	case cfg := <-reloaded:
		assert.Equal(t, 5.0, cfg.Control.MaxForce)
	case <-time.After(3 * time.Second):
		t.Fatal("config not reloaded")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_RequiresPath(t *testing.T) {
	assert.Error(t, Watch(context.Background(), "", nil, func(*Config) {}))
}
