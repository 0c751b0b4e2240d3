package natsclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/teslashibe/go-franka/pkg/compliance"
	"github.com/teslashibe/go-franka/pkg/motion"
	"github.com/teslashibe/go-franka/pkg/protocol"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/state"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

type harness struct {
	mirror *state.Mirror
	client *Client
	bridge *Bridge
	driver *nats.Conn
	topics *Topics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	server := startTestNATSServer(t)

	cfg := DefaultConfig()
	cfg.URL = server.ClientURL()
	client, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	mirror := state.NewMirror()
	bridge := NewBridge(client, mirror)
	require.NoError(t, bridge.Start())

	// The driver side of the bus.
	driver, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(driver.Close)

	// Make sure subscriptions are registered before the driver publishes.
	require.NoError(t, client.Flush(context.Background()))

	return &harness{mirror: mirror, client: client, bridge: bridge, driver: driver, topics: client.Topics()}
}

func (h *harness) send(t *testing.T, subject string, msg *protocol.Message, err error) {
	t.Helper()
	require.NoError(t, err)
	data, err := msg.Bytes()
	require.NoError(t, err)
	require.NoError(t, h.driver.Publish(subject, data))
	require.NoError(t, h.driver.Flush())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.URL = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Prefix = ""
	assert.Error(t, cfg.Validate())
}

func TestTopics(t *testing.T) {
	topics := NewTopics("arm1")
	assert.Equal(t, "arm1.cartesian_pose", topics.CartesianPose())
	assert.Equal(t, "arm1.equilibrium_pose", topics.EquilibriumPose())
	assert.Equal(t, "arm1.compliance_params", topics.ComplianceParams())
	assert.Equal(t, "arm1.goal_request", topics.GoalRequest())
}

func TestClient_NotConnected(t *testing.T) {
	client, err := New(DefaultConfig(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, client.Publish("x", nil), ErrNotConnected)
	assert.False(t, client.Stats().Connected)
	assert.ErrorIs(t, NewBridge(client, state.NewMirror()).Ready(context.Background()), ErrNotConnected)
}

func TestBridge_FeedbackUpdatesMirror(t *testing.T) {
	h := newHarness(t)

	p := spatial.Pose{Position: r3.Vec{X: 0.3, Y: 0.1, Z: 0.4}, Orientation: spatial.Q(0, 1, 0, 0)}
	msg, err := protocol.NewPoseMessage(p, 1)
	h.send(t, h.topics.CartesianPose(), msg, err)

	msg, err = protocol.NewWrenchMessage(r3.Vec{Z: 3}, r3.Vec{}, 1)
	h.send(t, h.topics.ForceTorque(), msg, err)

	msg, err = protocol.NewJointStateMessage([]float64{0, 0, 0, -2.4, 0, 2.4, 0, 0.04, 0.04}, make([]float64, 9), 1)
	h.send(t, h.topics.JointStates(), msg, err)

	require.Eventually(t, func() bool {
		s := h.mirror.Snapshot()
		return s.Pose != nil && s.Force != nil && s.Joints != nil
	}, 2*time.Second, 5*time.Millisecond)

	got, _ := h.mirror.Pose()
	assert.True(t, got.Equal(p))
	f, _ := h.mirror.Force()
	assert.Equal(t, 3.0, f.Magnitude)
	j, _ := h.mirror.Joints()
	assert.InDelta(t, 0.08, j.Gripper, 1e-12)
	assert.Equal(t, -2.4, j.Positions[3])
}

func TestBridge_DropsMalformed(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.driver.Publish(h.topics.CartesianPose(), []byte("not json")))
	// Non-unit orientation is rejected at the boundary.
	msg, err := protocol.NewMessage(protocol.TypePose, protocol.PoseStamped{Orientation: protocol.Quaternion{W: 3}})
	h.send(t, h.topics.CartesianPose(), msg, err)
	// Too few joints.
	msg, err = protocol.NewJointStateMessage([]float64{1, 2, 3}, nil, 1)
	h.send(t, h.topics.JointStates(), msg, err)

	require.Eventually(t, func() bool { return h.bridge.DecodeErrors() == 3 }, 2*time.Second, 5*time.Millisecond)
	_, ok := h.mirror.Pose()
	assert.False(t, ok)
}

func TestBridge_PublishGoalEchoes(t *testing.T) {
	h := newHarness(t)

	received := make(chan *nats.Msg, 4)
	_, err := h.driver.ChanSubscribe(h.topics.EquilibriumPose(), received)
	require.NoError(t, err)
	require.NoError(t, h.driver.Flush())

	goal := spatial.Pose{Position: r3.Vec{X: 0.5, Z: 0.2}, Orientation: spatial.Identity}
	require.NoError(t, h.bridge.PublishGoal(context.Background(), goal))

	select {
	case m := <-received:
		parsed, err := protocol.Expect(m.Data, protocol.TypePose)
		require.NoError(t, err)
		ps, err := parsed.GetPose()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), ps.Header.Seq)
		assert.Equal(t, 0.5, ps.Position.X)
	case <-time.After(2 * time.Second):
		t.Fatal("goal not received")
	}

	require.Eventually(t, func() bool {
		echo, ok := h.mirror.GoalEcho()
		return ok && echo.Equal(goal)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), h.bridge.GoalsPublished())
}

func TestBridge_StiffnessAndConfiguration(t *testing.T) {
	h := newHarness(t)

	stiff := make(chan *nats.Msg, 1)
	_, err := h.driver.ChanSubscribe(h.topics.ComplianceParams(), stiff)
	require.NoError(t, err)
	conf := make(chan *nats.Msg, 1)
	_, err = h.driver.ChanSubscribe(h.topics.EquilibriumConfiguration(), conf)
	require.NoError(t, err)
	require.NoError(t, h.driver.Flush())

	ctx := context.Background()
	require.NoError(t, compliance.CheckReady(ctx, h.bridge))
	require.NoError(t, compliance.Apply(ctx, h.bridge, compliance.Search()))
	require.NoError(t, h.bridge.PublishConfiguration(ctx, [state.ArmJoints]float64{0, 0, 0, -2.4, 0, 2.4, 0}))

	select {
	case m := <-stiff:
		parsed, err := protocol.Expect(m.Data, protocol.TypeStiffness)
		require.NoError(t, err)
		upd, err := parsed.GetStiffness()
		require.NoError(t, err)
		assert.Equal(t, 1000.0, upd.Params[compliance.KeyTranslationalZ])
	case <-time.After(2 * time.Second):
		t.Fatal("stiffness update not received")
	}

	select {
	case m := <-conf:
		parsed, err := protocol.Expect(m.Data, protocol.TypeConfiguration)
		require.NoError(t, err)
		c, err := parsed.GetConfiguration()
		require.NoError(t, err)
		assert.Len(t, c.Positions, 7)
	case <-time.After(2 * time.Second):
		t.Fatal("configuration not received")
	}
}

func TestBridge_ServeGoalRequests(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var got []motion.Request
	handler := func(_ context.Context, req motion.Request) error {
		if req.Target.Position.X > 1 {
			return errors.New("out of reach")
		}
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		return nil
	}
	require.NoError(t, h.bridge.ServeGoalRequests(context.Background(), handler))
	require.NoError(t, h.client.Flush(context.Background()))

	request := func(pose []float64) GoalReply {
		msg, err := protocol.NewGoalRequestMessage(protocol.GoalRequest{Pose: pose})
		require.NoError(t, err)
		data, err := msg.Bytes()
		require.NoError(t, err)
		resp, err := h.driver.Request(h.topics.GoalRequest(), data, 2*time.Second)
		require.NoError(t, err)
		var reply GoalReply
		require.NoError(t, json.Unmarshal(resp.Data, &reply))
		return reply
	}

	assert.True(t, request([]float64{0.5, 0, 0.3, 1, 0, 0, 0}).OK)

	bad := request([]float64{0.5, 0, 0.3})
	assert.False(t, bad.OK)
	assert.Contains(t, bad.Error, "invalid pose")

	rejected := request([]float64{2, 0, 0.3, 1, 0, 0, 0})
	assert.False(t, rejected.OK)
	assert.Equal(t, "out of reach", rejected.Error)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.True(t, got[0].SpiralSearch)
	assert.Equal(t, 0.5, got[0].Target.Position.X)
}

func TestRequestGoal(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var got []motion.Request
	handler := func(_ context.Context, req motion.Request) error {
		if req.Target.Position.X > 1 {
			return errors.New("out of reach")
		}
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		return nil
	}
	require.NoError(t, h.bridge.ServeGoalRequests(context.Background(), handler))
	require.NoError(t, h.client.Flush(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	goal := spatial.Pose{Position: r3.Vec{X: 0.4, Z: 0.25}, Orientation: spatial.Q(0, 1, 0, 0)}
	require.NoError(t, RequestGoal(ctx, h.client, protocol.GoalRequestFrom(goal, false)))

	far := spatial.Pose{Position: r3.Vec{X: 2}, Orientation: spatial.Identity}
	err := RequestGoal(ctx, h.client, protocol.GoalRequestFrom(far, true))
	require.ErrorIs(t, err, ErrGoalRejected)
	assert.Contains(t, err.Error(), "out of reach")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.False(t, got[0].SpiralSearch)
	assert.True(t, got[0].Target.Equal(goal))
}

func TestRequestGoal_NoResponder(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := RequestGoal(ctx, h.client, protocol.GoalRequestFrom(spatial.Pose{Orientation: spatial.Identity}, true))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrGoalRejected)

	client, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, RequestGoal(ctx, client, protocol.GoalRequest{}), ErrNotConnected)
}

func TestClient_Stats(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.bridge.PublishGoal(context.Background(), spatial.Pose{Orientation: spatial.Identity}))

	require.Eventually(t, func() bool {
		return h.client.Stats().MessagesReceived >= 1
	}, 2*time.Second, 5*time.Millisecond)

	stats := h.client.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, int64(1), stats.MessagesSent)

	require.NoError(t, h.client.Close())
	assert.False(t, h.client.Stats().Connected)
	assert.ErrorIs(t, h.client.Publish("x", nil), ErrNotConnected)
}
