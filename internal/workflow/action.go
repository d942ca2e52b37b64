package workflow

// ActionType tags the single next outbound step for a case.
type ActionType string

const (
	ActionNone                   ActionType = "none"
	ActionSendInitialRequest     ActionType = "send_initial_request"
	ActionSendFollowup           ActionType = "send_followup"
	ActionSendCompletion         ActionType = "send_completion_confirmation"
	ActionSendClarification      ActionType = "send_clarification"
)

// Action is ephemeral: produced by the decision engine and consumed by the
// executor within one orchestration pass, never persisted.
type Action struct {
	Type      ActionType
	Milestone int

	// MissingFields is set for followups, in registry order.
	MissingFields []string
	// Field is set for clarification requests.
	Field string
}

func NoAction() Action { return Action{Type: ActionNone} }
