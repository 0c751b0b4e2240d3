package protocol

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/teslashibe/go-franka/pkg/motion"
	"github.com/teslashibe/go-franka/pkg/spatial"
	"github.com/teslashibe/go-franka/pkg/state"
)

// =============================================================================
// Conversions
// =============================================================================

// VectorFrom converts an r3 vector.
func VectorFrom(v r3.Vec) Vector3 {
	return Vector3{X: v.X, Y: v.Y, Z: v.Z}
}

// Vec returns the r3 vector.
func (v Vector3) Vec() r3.Vec {
	return r3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}

// PoseDataFrom converts a pose.
func PoseDataFrom(p spatial.Pose) PoseData {
	o := p.Orientation
	return PoseData{
		Position:    VectorFrom(p.Position),
		Orientation: Quaternion{W: o.W, X: o.X, Y: o.Y, Z: o.Z},
	}
}

// NewPoseStamped stamps p with seq and the current time.
func NewPoseStamped(p spatial.Pose, seq uint64) PoseStamped {
	d := PoseDataFrom(p)
	return PoseStamped{
		Header:      Header{Seq: seq, Stamp: time.Now().UnixNano()},
		Position:    d.Position,
		Orientation: d.Orientation,
	}
}

// Pose validates the message and returns it as a pose with a normalized
// orientation.
func (ps PoseStamped) Pose() (spatial.Pose, error) {
	o := ps.Orientation
	return spatial.NewPose(ps.Position.Vec(), spatial.Q(o.W, o.X, o.Y, o.Z))
}

// Validate checks the request shape. Orientation is checked by Request.
func (g GoalRequest) Validate() error {
	if len(g.Pose) != 7 {
		return fmt.Errorf("%w: pose must have 7 values [x y z qw qx qy qz], got %d", spatial.ErrInvalidPose, len(g.Pose))
	}
	if g.LinearStep < 0 || g.AngularStep < 0 {
		return fmt.Errorf("%w: step resolutions must be non-negative", motion.ErrInvalidRequest)
	}
	return nil
}

// Request converts the goal request into a motion request.
func (g GoalRequest) Request() (motion.Request, error) {
	if err := g.Validate(); err != nil {
		return motion.Request{}, err
	}
	target, err := spatial.ParsePoseArray(g.Pose)
	if err != nil {
		return motion.Request{}, err
	}
	spiral := true
	if g.SpiralSearch != nil {
		spiral = *g.SpiralSearch
	}
	return motion.Request{
		Target:       target,
		SpiralSearch: spiral,
		LinearStep:   g.LinearStep,
		AngularStep:  g.AngularStep,
	}, nil
}

// GoalRequestFrom builds a goal request message body from a pose.
func GoalRequestFrom(p spatial.Pose, spiral bool) GoalRequest {
	a := p.Array()
	return GoalRequest{Pose: a[:], SpiralSearch: &spiral}
}

// NewJointConfiguration converts arm joint targets to the wire precision.
func NewJointConfiguration(joints [state.ArmJoints]float64) JointConfiguration {
	out := make([]float32, len(joints))
	for i, v := range joints {
		out[i] = float32(v)
	}
	return JointConfiguration{Positions: out}
}

// NewStateData flattens a mirror snapshot and supervisor status.
func NewStateData(snap state.Snapshot, st motion.Status) StateData {
	d := StateData{
		State:  st.State.String(),
		TaskID: st.TaskID,
		Homing: st.Homing,
	}
	if st.Target != nil {
		pd := PoseDataFrom(*st.Target)
		d.Target = &pd
	}
	if snap.Pose != nil {
		pd := PoseDataFrom(*snap.Pose)
		d.Pose = &pd
		d.PoseAge = float64(snap.PoseAge) / float64(time.Millisecond)
	}
	if snap.GoalEcho != nil {
		pd := PoseDataFrom(*snap.GoalEcho)
		d.GoalEcho = &pd
	}
	if snap.Force != nil {
		d.Force = &ForceData{Vector3: VectorFrom(snap.Force.Vector), Magnitude: snap.Force.Magnitude}
	}
	if snap.Joints != nil {
		d.Joints = &JointsData{
			Positions:  append([]float64(nil), snap.Joints.Positions[:]...),
			Velocities: append([]float64(nil), snap.Joints.Velocities[:]...),
			Gripper:    snap.Joints.Gripper,
		}
	}
	return d
}

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewPoseMessage creates a stamped pose message
func NewPoseMessage(p spatial.Pose, seq uint64) (*Message, error) {
	return NewMessage(TypePose, NewPoseStamped(p, seq))
}

// NewWrenchMessage creates a wrench message
func NewWrenchMessage(force, torque r3.Vec, seq uint64) (*Message, error) {
	return NewMessage(TypeWrench, WrenchStamped{
		Header: Header{Seq: seq, Stamp: time.Now().UnixNano()},
		Force:  VectorFrom(force),
		Torque: VectorFrom(torque),
	})
}

// NewJointStateMessage creates a joint state message
func NewJointStateMessage(positions, velocities []float64, seq uint64) (*Message, error) {
	return NewMessage(TypeJointState, JointState{
		Header:   Header{Seq: seq, Stamp: time.Now().UnixNano()},
		Position: positions,
		Velocity: velocities,
	})
}

// NewStiffnessMessage creates a compliance parameter update
func NewStiffnessMessage(params map[string]float64) (*Message, error) {
	return NewMessage(TypeStiffness, StiffnessUpdate{Params: params})
}

// NewConfigurationMessage creates a joint configuration message
func NewConfigurationMessage(joints [state.ArmJoints]float64) (*Message, error) {
	return NewMessage(TypeConfiguration, NewJointConfiguration(joints))
}

// NewGoalRequestMessage creates a goal request message
func NewGoalRequestMessage(req GoalRequest) (*Message, error) {
	return NewMessage(TypeGoalRequest, req)
}

// NewStateMessage creates a state snapshot message
func NewStateMessage(snap state.Snapshot, st motion.Status) (*Message, error) {
	return NewMessage(TypeState, NewStateData(snap, st))
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetPose extracts a stamped pose from a message
func (m *Message) GetPose() (*PoseStamped, error) {
	var data PoseStamped
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetWrench extracts a wrench from a message
func (m *Message) GetWrench() (*WrenchStamped, error) {
	var data WrenchStamped
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetJointState extracts a joint state from a message
func (m *Message) GetJointState() (*JointState, error) {
	var data JointState
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStiffness extracts a stiffness update from a message
func (m *Message) GetStiffness() (*StiffnessUpdate, error) {
	var data StiffnessUpdate
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetConfiguration extracts a joint configuration from a message
func (m *Message) GetConfiguration() (*JointConfiguration, error) {
	var data JointConfiguration
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetGoalRequest extracts a goal request from a message
func (m *Message) GetGoalRequest() (*GoalRequest, error) {
	var data GoalRequest
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStateData extracts state data from a message
func (m *Message) GetStateData() (*StateData, error) {
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
