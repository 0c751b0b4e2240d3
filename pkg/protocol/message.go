// Package protocol defines the JSON messages exchanged with the arm driver over
// the message bus and with operators over the WebSocket state stream.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Driver → core feedback
	TypePose       MessageType = "pose"        // Measured or echoed equilibrium pose
	TypeWrench     MessageType = "wrench"      // External force/torque
	TypeJointState MessageType = "joint_state" // Joint positions and velocities

	// Core → driver commands
	TypeStiffness     MessageType = "stiffness"     // Compliance parameter update
	TypeConfiguration MessageType = "configuration" // Nullspace joint configuration

	// Operator ↔ core
	TypeGoalRequest MessageType = "goal_request" // New Cartesian goal
	TypeState       MessageType = "state"        // Mirror and supervisor snapshot

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// Expect parses data and checks the message type.
func Expect(data []byte, want MessageType) (*Message, error) {
	msg, err := ParseMessage(data)
	if err != nil {
		return nil, err
	}
	if msg.Type != want {
		return nil, fmt.Errorf("unexpected message type %q, want %q", msg.Type, want)
	}
	return msg, nil
}

// =============================================================================
// Geometry
// =============================================================================

// Header stamps a sample.
type Header struct {
	Seq     uint64 `json:"seq"`
	Stamp   int64  `json:"stamp"` // Unix nanoseconds
	FrameID string `json:"frame_id,omitempty"`
}

// Vector3 is a 3-vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is an orientation in w, x, y, z order.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PoseStamped is a stamped end-effector pose.
type PoseStamped struct {
	Header      Header     `json:"header"`
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// WrenchStamped is a stamped force/torque sample.
type WrenchStamped struct {
	Header Header  `json:"header"`
	Force  Vector3 `json:"force"`
	Torque Vector3 `json:"torque"`
}

// JointState carries the seven arm joints followed by the two finger joints.
type JointState struct {
	Header   Header    `json:"header"`
	Name     []string  `json:"name,omitempty"`
	Position []float64 `json:"position"`
	Velocity []float64 `json:"velocity"`
	Effort   []float64 `json:"effort,omitempty"`
}

// =============================================================================
// Commands
// =============================================================================

// StiffnessUpdate sets named compliance parameters.
type StiffnessUpdate struct {
	Params map[string]float64 `json:"params"`
}

// JointConfiguration is the nullspace target configuration.
type JointConfiguration struct {
	Positions []float32 `json:"positions"`
}

// GoalRequest asks the core to track a new Cartesian goal.
type GoalRequest struct {
	Pose         []float64 `json:"pose"`                    // [x, y, z, qw, qx, qy, qz]
	SpiralSearch *bool     `json:"spiral_search,omitempty"` // default true
	LinearStep   float64   `json:"linear_step,omitempty"`
	AngularStep  float64   `json:"angular_step,omitempty"`
}

// =============================================================================
// State stream
// =============================================================================

// StateData is one snapshot of mirror and supervisor state.
type StateData struct {
	State    string      `json:"state"`
	TaskID   string      `json:"task_id,omitempty"`
	Homing   bool        `json:"homing"`
	Target   *PoseData   `json:"target,omitempty"`
	Pose     *PoseData   `json:"pose,omitempty"`
	GoalEcho *PoseData   `json:"goal_echo,omitempty"`
	Force    *ForceData  `json:"force,omitempty"`
	Joints   *JointsData `json:"joints,omitempty"`
	PoseAge  float64     `json:"pose_age_ms,omitempty"`
}

// PoseData is a flattened pose.
type PoseData struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// ForceData is a force vector with its magnitude.
type ForceData struct {
	Vector3
	Magnitude float64 `json:"magnitude"`
}

// JointsData is the latest joint sample.
type JointsData struct {
	Positions  []float64 `json:"positions"`
	Velocities []float64 `json:"velocities"`
	Gripper    float64   `json:"gripper"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
