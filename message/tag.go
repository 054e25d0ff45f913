// Package message defines the wire envelope exchanged between agents, the
// environment, and the broker, and the closed set of recognized message tags.
package message

// Tag identifies the kind of a Message. The set is closed and partitioned into
// DGC-DIGCA, DGC-DBFS, DGC-DDFS, DCOP-CoCoA, DCOP-DPOP (shared by C-DPOP), time-step,
// and lifecycle groups.
type Tag string

const (
	// DIGCA
	TagAnnounce               Tag = "ANNOUNCE"
	TagAnnounceResponse       Tag = "ANNOUNCE_RESPONSE_MSG"
	TagAnnounceIgnored        Tag = "ANNOUNCE_IGNORED_MSG"
	TagAddMe                  Tag = "ADD_ME"
	TagChildAdded             Tag = "CHILD_ADDED"
	TagParentAssigned         Tag = "PARENT_ASSIGNED"
	TagAlreadyActive          Tag = "ALREADY_ACTIVE"
	TagPing                   Tag = "PING"
	TagPingResponse           Tag = "PING_RESPONSE"
	TagConstraintChanged      Tag = "CONSTRAINT_CHANGED"
	TagParentAvailable        Tag = "PARENT_AVAILABLE"
	TagParentAlreadyAssigned  Tag = "PARENT_ALREADY_ASSIGNED"
	TagAgentRegistration      Tag = "AGENT_REGISTRATION"

	// DBFS
	TagLevel            Tag = "LEVEL_MESSAGE"
	TagAck              Tag = "ACK_MESSAGE"
	TagLevelIgnored     Tag = "LEVEL_IGNORED_MESSAGE"

	// DDFS
	TagDdfsNeighborData Tag = "DDFS_NEIGHBOR_DATA"
	TagDdfsValue        Tag = "DDFS_VALUE_MSG"
	TagDdfsPosition     Tag = "DDFS_POSITION_MSG"
	TagDdfsChild        Tag = "DDFS_CHILD_MSG"
	TagDdfsPseudoChild  Tag = "DDFS_PSEUDO_CHILD_MSG"

	// DCOP - CoCoA
	TagUpdateState Tag = "UpdateStateMsg"
	TagInquiry     Tag = "InquiryMessage"
	TagCost        Tag = "CostMessage"

	// DCOP - DPOP / C-DPOP
	TagExecutionRequest Tag = "ExecutionRequest"
	TagValue            Tag = "ValueMessage"
	TagUtil             Tag = "UtilMessage"
	TagRequestUtil      Tag = "RequestUtilMessage"

	// Time-step / lifecycle
	TagTimeStep       Tag = "SIM_ENV_CURRENT_TIME_STEP_MSG"
	TagValueSelected  Tag = "VALUE_SELECTED_MSG"
	TagStopAgent      Tag = "STOP_AGENT"
	TagAddGraphEdge   Tag = "ADD_GRAPH_EDGE"
	TagRemoveGraphEdge Tag = "REMOVE_GRAPH_EDGE"
	TagAgentAdded     Tag = "AGENT_ADDED"
	TagAgentRemoved   Tag = "AGENT_REMOVED"

	// Lifecycle events surfaced to the dashboard only; never consumed by DGC/DCOP logic.
	TagAgentDisconnection Tag = "AGENT_DISCONNECTION"
	TagAgentShutdown      Tag = "AGENT_SHUTDOWN"
	TagMetricsSnapshot    Tag = "METRICS_SNAPSHOT"
)

// dgcTags, dcopTags etc. partition the tag set for documentation/validation purposes;
// not exhaustive of every use site but enough to answer "is this a DGC message".
var dgcTags = map[Tag]bool{
	TagAnnounce: true, TagAnnounceResponse: true, TagAnnounceIgnored: true,
	TagAddMe: true, TagChildAdded: true, TagParentAssigned: true,
	TagAlreadyActive: true, TagPing: true, TagPingResponse: true,
	TagConstraintChanged: true,
	TagParentAvailable: true, TagParentAlreadyAssigned: true,
	TagLevel: true, TagAck: true, TagLevelIgnored: true,
	TagDdfsNeighborData: true, TagDdfsValue: true, TagDdfsPosition: true,
	TagDdfsChild: true, TagDdfsPseudoChild: true,
}

var dcopTags = map[Tag]bool{
	TagUpdateState: true, TagInquiry: true, TagCost: true,
	TagExecutionRequest: true, TagValue: true, TagUtil: true, TagRequestUtil: true,
}

// IsDGC reports whether tag belongs to a dynamic-graph-construction protocol.
func (t Tag) IsDGC() bool { return dgcTags[t] }

// IsDCOP reports whether tag belongs to a DCOP protocol.
func (t Tag) IsDCOP() bool { return dcopTags[t] }
