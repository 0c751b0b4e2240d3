package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/teslashibe/go-franka/pkg/motion"
	"github.com/teslashibe/go-franka/pkg/protocol"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/state"
)

func TestParsePose(t *testing.T) {
	pose, err := parsePose([]string{"0.5", "0", "0.3", "0", "1", "0", "0"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0, 0.3, 0, 1, 0, 0}, pose)

	_, err = parsePose([]string{"0.5", "x"})
	assert.ErrorContains(t, err, "argument 2")
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws/state", wsURL("http://localhost:8080/"))
	assert.Equal(t, "wss://arm.lab/ws/state", wsURL("https://arm.lab"))
}

func TestFormatState(t *testing.T) {
	m := state.NewMirror()
	m.UpdatePose(spatial.Pose{Position: r3.Vec{X: 0.4, Y: -0.05, Z: 0.25}, Orientation: spatial.Identity})
	m.UpdateForce(r3.Vec{Z: 3})

	msg, err := protocol.NewStateMessage(m.Snapshot(), motion.Status{State: motion.Tracking, Homing: true})
	require.NoError(t, err)
	data, err := msg.Bytes()
	require.NoError(t, err)

	line, err := formatState(data)
	require.NoError(t, err)
	assert.Contains(t, line, "tracking")
	assert.Contains(t, line, "homing")
	assert.Contains(t, line, "pose=(0.4000 -0.0500 0.2500)")
	assert.Contains(t, line, "fz=3.00")

	_, err = formatState([]byte(`{"type":"ping","ts":1}`))
	assert.Error(t, err)
}

func TestFormatMessage_Pong(t *testing.T) {
	msg, err := protocol.NewPongMessage("p1", 1000, 1004)
	require.NoError(t, err)
	data, err := msg.Bytes()
	require.NoError(t, err)

	line, err := formatMessage(data, time.UnixMilli(1012))
	require.NoError(t, err)
	assert.Equal(t, "pong       rtt=12ms", line)

	// Clock going backwards never reports a negative round trip.
	line, err = formatMessage(data, time.UnixMilli(900))
	require.NoError(t, err)
	assert.Contains(t, line, "rtt=0ms")

	_, err = formatMessage([]byte("nope"), time.Now())
	assert.Error(t, err)
}

func TestGoalRequest(t *testing.T) {
	req, err := goalRequest([]string{"0.5", "0", "0.3", "0", "1", "0", "0"}, false, 0.002, 0)
	require.NoError(t, err)
	require.NotNil(t, req.SpiralSearch)
	assert.False(t, *req.SpiralSearch)
	assert.Equal(t, 0.002, req.LinearStep)
	assert.Equal(t, []float64{0.5, 0, 0.3, 0, 1, 0, 0}, req.Pose)

	_, err = goalRequest([]string{"0.5", "0", "0.3", "0", "0", "0", "0"}, true, 0, 0)
	assert.ErrorIs(t, err, spatial.ErrInvalidPose)

	_, err = goalRequest([]string{"0.5", "0", "0.3", "1", "0", "0", "0"}, true, -1, 0)
	assert.Error(t, err)
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "goto", "home", "status", "monitor"} {
		assert.True(t, names[want], want)
	}
}
