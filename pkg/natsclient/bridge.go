package natsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/teslashibe/go-franka/pkg/compliance"
	"github.com/teslashibe/go-franka/pkg/motion"
	"github.com/teslashibe/go-franka/pkg/protocol"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/state"
)

// Mirror receives decoded feedback. *state.Mirror implements it.
type Mirror interface {
	UpdatePose(p spatial.Pose)
	UpdateGoalEcho(p spatial.Pose)
	UpdateForce(f r3.Vec)
	UpdateJoints(positions, velocities []float64) error
}

// GoalHandler admits a goal request received over the bus.
type GoalHandler func(ctx context.Context, req motion.Request) error

// ErrGoalRejected is returned by RequestGoal when the service refuses a goal.
var ErrGoalRejected = errors.New("goal rejected")

// GoalReply is sent back to requesters that set a reply subject.
type GoalReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Bridge wires the bus to the state mirror and exposes the publishers the
// motion core needs. It implements motion.Publisher and compliance.Channel.
type Bridge struct {
	client *Client
	mirror Mirror
	logger *zap.Logger

	seq          atomic.Uint64
	decodeErrors atomic.Int64
}

var (
	_ motion.Publisher   = (*Bridge)(nil)
	_ compliance.Channel = (*Bridge)(nil)
	_ Mirror             = (*state.Mirror)(nil)
)

// NewBridge creates a bridge. Call Start to subscribe to feedback.
func NewBridge(client *Client, mirror Mirror) *Bridge {
	return &Bridge{
		client: client,
		mirror: mirror,
		logger: client.logger.Named("bridge"),
	}
}

// Start subscribes to the pose, force, joint and goal echo feeds.
func (b *Bridge) Start() error {
	t := b.client.Topics()
	subs := []struct {
		subject string
		handler func(*nats.Msg)
	}{
		{t.CartesianPose(), b.handlePose},
		{t.ForceTorque(), b.handleWrench},
		{t.JointStates(), b.handleJoints},
		{t.EquilibriumPose(), b.handleGoalEcho},
	}
	for _, s := range subs {
		if _, err := b.client.Subscribe(s.subject, s.handler); err != nil {
			return err
		}
	}
	b.logger.Info("feedback subscriptions started", zap.String("prefix", b.client.cfg.Prefix))
	return nil
}

// ServeGoalRequests subscribes to the goal request subject and hands every
// valid request to fn. ctx is passed through to fn.
func (b *Bridge) ServeGoalRequests(ctx context.Context, fn GoalHandler) error {
	_, err := b.client.Subscribe(b.client.Topics().GoalRequest(), func(msg *nats.Msg) {
		err := b.handleGoalRequest(ctx, msg.Data, fn)
		if err != nil {
			b.logger.Warn("goal request rejected", zap.Error(err))
		}
		if msg.Reply == "" {
			return
		}
		reply := GoalReply{OK: err == nil}
		if err != nil {
			reply.Error = err.Error()
		}
		data, _ := json.Marshal(reply)
		if rerr := msg.Respond(data); rerr != nil {
			b.logger.Debug("goal reply failed", zap.Error(rerr))
		}
	})
	return err
}

// RequestGoal sends a goal request over the bus and waits for the service
// to admit or reject it.
func RequestGoal(ctx context.Context, c *Client, req protocol.GoalRequest) error {
	msg, err := protocol.NewGoalRequestMessage(req)
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	resp, err := c.Request(ctx, c.Topics().GoalRequest(), data)
	if err != nil {
		return err
	}
	var reply GoalReply
	if err := json.Unmarshal(resp, &reply); err != nil {
		return fmt.Errorf("decode goal reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("%w: %s", ErrGoalRejected, reply.Error)
	}
	return nil
}

func (b *Bridge) handleGoalRequest(ctx context.Context, data []byte, fn GoalHandler) error {
	msg, err := protocol.Expect(data, protocol.TypeGoalRequest)
	if err != nil {
		return fmt.Errorf("%w: %w", motion.ErrInvalidRequest, err)
	}
	gr, err := msg.GetGoalRequest()
	if err != nil {
		return fmt.Errorf("%w: %w", motion.ErrInvalidRequest, err)
	}
	req, err := gr.Request()
	if err != nil {
		return err
	}
	return fn(ctx, req)
}

func (b *Bridge) decodeFailed(subject string, err error) {
	b.decodeErrors.Add(1)
	b.logger.Debug("dropping malformed message", zap.String("subject", subject), zap.Error(err))
}

func (b *Bridge) decodePose(msg *nats.Msg) (spatial.Pose, bool) {
	m, err := protocol.Expect(msg.Data, protocol.TypePose)
	if err != nil {
		b.decodeFailed(msg.Subject, err)
		return spatial.Pose{}, false
	}
	ps, err := m.GetPose()
	if err != nil {
		b.decodeFailed(msg.Subject, err)
		return spatial.Pose{}, false
	}
	p, err := ps.Pose()
	if err != nil {
		b.decodeFailed(msg.Subject, err)
		return spatial.Pose{}, false
	}
	return p, true
}

func (b *Bridge) handlePose(msg *nats.Msg) {
	if p, ok := b.decodePose(msg); ok {
		b.mirror.UpdatePose(p)
	}
}

func (b *Bridge) handleGoalEcho(msg *nats.Msg) {
	if p, ok := b.decodePose(msg); ok {
		b.mirror.UpdateGoalEcho(p)
	}
}

func (b *Bridge) handleWrench(msg *nats.Msg) {
	m, err := protocol.Expect(msg.Data, protocol.TypeWrench)
	if err != nil {
		b.decodeFailed(msg.Subject, err)
		return
	}
	w, err := m.GetWrench()
	if err != nil {
		b.decodeFailed(msg.Subject, err)
		return
	}
	b.mirror.UpdateForce(w.Force.Vec())
}

func (b *Bridge) handleJoints(msg *nats.Msg) {
	m, err := protocol.Expect(msg.Data, protocol.TypeJointState)
	if err != nil {
		b.decodeFailed(msg.Subject, err)
		return
	}
	js, err := m.GetJointState()
	if err != nil {
		b.decodeFailed(msg.Subject, err)
		return
	}
	if err := b.mirror.UpdateJoints(js.Position, js.Velocity); err != nil {
		b.decodeFailed(msg.Subject, err)
	}
}

func (b *Bridge) publish(subject string, msg *protocol.Message, err error) error {
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return b.client.Publish(subject, data)
}

// PublishGoal publishes an equilibrium pose.
func (b *Bridge) PublishGoal(_ context.Context, p spatial.Pose) error {
	msg, err := protocol.NewPoseMessage(p, b.seq.Add(1))
	return b.publish(b.client.Topics().EquilibriumPose(), msg, err)
}

// PublishConfiguration publishes the nullspace joint target.
func (b *Bridge) PublishConfiguration(_ context.Context, joints [state.ArmJoints]float64) error {
	msg, err := protocol.NewConfigurationMessage(joints)
	return b.publish(b.client.Topics().EquilibriumConfiguration(), msg, err)
}

// Update publishes a stiffness parameter update without waiting for an
// acknowledgment.
func (b *Bridge) Update(_ context.Context, params map[string]float64) error {
	msg, err := protocol.NewStiffnessMessage(params)
	return b.publish(b.client.Topics().ComplianceParams(), msg, err)
}

// Ready verifies the parameter channel with a server round trip.
func (b *Bridge) Ready(ctx context.Context) error {
	return b.client.Flush(ctx)
}

// DecodeErrors returns the number of dropped malformed messages.
func (b *Bridge) DecodeErrors() int64 {
	return b.decodeErrors.Load()
}

// GoalsPublished returns the number of equilibrium poses published.
func (b *Bridge) GoalsPublished() uint64 {
	return b.seq.Load()
}
