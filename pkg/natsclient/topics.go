package natsclient

// Subject constants for arm driver communication.
// All subjects are prefixed with the configured prefix (default: "franka").

// SubjectCartesianPose is the measured end-effector pose feed.
// Subscribes: pose envelope
const SubjectCartesianPose = "cartesian_pose"

// SubjectForceTorque is the external wrench feed.
// Subscribes: wrench envelope
const SubjectForceTorque = "force_torque_ext"

// SubjectJointStates is the joint state feed, arm joints then fingers.
// Subscribes: joint_state envelope
const SubjectJointStates = "joint_states"

// SubjectEquilibriumPose carries goals to the compliance controller. The core
// also subscribes to it to mirror the goal the controller is tracking.
// Publishes and subscribes: pose envelope
const SubjectEquilibriumPose = "equilibrium_pose"

// SubjectEquilibriumConfiguration is the nullspace joint target.
// Publishes: configuration envelope
const SubjectEquilibriumConfiguration = "equilibrium_configuration"

// SubjectComplianceParams is the stiffness parameter channel.
// Publishes: stiffness envelope
const SubjectComplianceParams = "compliance_params"

// SubjectGoalRequest accepts goals from remote operators.
// Subscribes: goal_request envelope, replies when a reply subject is set
const SubjectGoalRequest = "goal_request"

// Topics is a helper to build fully-qualified subject names.
type Topics struct {
	prefix string
}

// NewTopics creates a Topics helper with the given prefix.
func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

func (t *Topics) subject(name string) string {
	return t.prefix + "." + name
}

// CartesianPose returns the full pose feed subject.
func (t *Topics) CartesianPose() string { return t.subject(SubjectCartesianPose) }

// ForceTorque returns the full wrench feed subject.
func (t *Topics) ForceTorque() string { return t.subject(SubjectForceTorque) }

// JointStates returns the full joint state subject.
func (t *Topics) JointStates() string { return t.subject(SubjectJointStates) }

// EquilibriumPose returns the full goal subject.
func (t *Topics) EquilibriumPose() string { return t.subject(SubjectEquilibriumPose) }

// EquilibriumConfiguration returns the full joint configuration subject.
func (t *Topics) EquilibriumConfiguration() string {
	return t.subject(SubjectEquilibriumConfiguration)
}

// ComplianceParams returns the full stiffness subject.
func (t *Topics) ComplianceParams() string { return t.subject(SubjectComplianceParams) }

// GoalRequest returns the full goal request subject.
func (t *Topics) GoalRequest() string { return t.subject(SubjectGoalRequest) }
