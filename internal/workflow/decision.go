package workflow

import "github.com/caseflowai/caseflow/internal/cases"

// Engine maps a case snapshot to the single next action. It is a pure
// function of its input: no I/O, no hidden state, so identical snapshots
// always yield identical actions.
type Engine struct {
	registry *Registry
}

func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// NextAction evaluates the priority rules for the case's current milestone:
// nothing collected yet wins first, then completeness, then a followup for
// whatever is still missing. A case advanced past the last defined
// milestone is terminal.
func (e *Engine) NextAction(c cases.Case) Action {
	milestone := c.CurrentMilestone
	if milestone < 1 || milestone > e.registry.MilestoneCount() {
		return NoAction()
	}

	ms, ok := c.Milestone(milestone)
	if !ok {
		ms = cases.NewMilestoneState(e.registry.FieldNames(milestone))
	}

	if e.registry.AllUnset(milestone, ms) {
		return Action{Type: ActionSendInitialRequest, Milestone: milestone}
	}

	if e.registry.IsComplete(milestone, ms) {
		return Action{Type: ActionSendCompletion, Milestone: milestone}
	}

	return Action{
		Type:          ActionSendFollowup,
		Milestone:     milestone,
		MissingFields: e.registry.MissingFields(milestone, ms),
	}
}
