package bus

// Subject layout for the AgentGraph event bus. Agents publish commands
// on the inbound subjects; the service mirrors state changes back out
// on the per-agent and per-task subjects so other agents can follow
// along without polling the HTTP API.
const (
	// StreamName is the JetStream stream capturing all graph events.
	StreamName = "AGENTGRAPH_EVENTS"

	// StreamMaxAge bounds event retention in the stream.
	StreamMaxAge = "720h" // 30 days

	// SubjectAgentHeartbeat matches liveness pings from any agent.
	SubjectAgentHeartbeat = "graph.agent.*.heartbeat"

	// SubjectTaskStart receives task start commands.
	SubjectTaskStart = "graph.task.start"

	// SubjectTaskComplete matches completion commands for any task.
	SubjectTaskComplete = "graph.task.*.complete"

	// SubjectTaskRate matches peer rating commands for any task.
	SubjectTaskRate = "graph.task.*.rate"
)

// StreamSubjects lists the subject spaces captured by the stream.
func StreamSubjects() []string {
	return []string{"graph.agent.>", "graph.task.>", "graph.conflict.>"}
}

func SubjectAgentRegistered(agentID string) string {
	return "graph.agent." + agentID + ".registered"
}

func SubjectAgentUnregistered(agentID string) string {
	return "graph.agent." + agentID + ".unregistered"
}

// SubjectAgentEvents is the delivery subject for context events routed
// to a connected agent.
func SubjectAgentEvents(agentID string) string {
	return "graph.agent." + agentID + ".events"
}

func SubjectTaskStarted(taskID string) string {
	return "graph.task." + taskID + ".started"
}

func SubjectTaskCompleted(taskID string) string {
	return "graph.task." + taskID + ".completed"
}

func SubjectTaskRated(taskID string) string {
	return "graph.task." + taskID + ".rated"
}

func SubjectConflict(entityID string) string {
	return "graph.conflict." + entityID + ".detected"
}
