package schema

// Event type constants for the append-only run trace.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"

	EventStageCompleted = "stage_completed"
	EventStageFailed    = "stage_failed"
	EventSearchDegraded = "search_degraded"
	EventFindingAdded   = "finding_added"
)

// RunStatus represents the lifecycle state of an audit run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ValidRunTransitions defines the allowed lifecycle transitions for runs.
// Terminal states have no outgoing edges.
var ValidRunTransitions = map[RunStatus][]RunStatus{
	RunStatusPending:   {RunStatusActive, RunStatusCancelled},
	RunStatusActive:    {RunStatusCompleted, RunStatusFailed, RunStatusCancelled},
	RunStatusCompleted: {},
	RunStatusFailed:    {},
	RunStatusCancelled: {},
}

// RunEventType maps a target run status to the event emitted on transition.
func RunEventType(to RunStatus) string {
	switch to {
	case RunStatusActive:
		return EventRunStarted
	case RunStatusCompleted:
		return EventRunCompleted
	case RunStatusFailed:
		return EventRunFailed
	case RunStatusCancelled:
		return EventRunCancelled
	default:
		return ""
	}
}
