package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caseflowai/caseflow/internal/cases"
	"github.com/caseflowai/caseflow/internal/mail"
	"github.com/caseflowai/caseflow/internal/templates"
	"github.com/caseflowai/caseflow/internal/workflow"
)

// ChannelEmployee is the thread-link channel for the counterparty the
// workflow collects data from.
const ChannelEmployee = "employee"

// Executor carries a decided action out: render the email, send it
// threaded into the case's conversation, and record the consequences on
// the case. Milestone advancement happens here and only after a
// completion confirmation actually went out.
type Executor struct {
	store    cases.Store
	registry *workflow.Registry
	renderer *templates.Renderer
	sender   mail.Sender
	log      *slog.Logger
}

func NewExecutor(store cases.Store, registry *workflow.Registry, renderer *templates.Renderer, sender mail.Sender, log *slog.Logger) *Executor {
	return &Executor{
		store:    store,
		registry: registry,
		renderer: renderer,
		sender:   sender,
		log:      log.With(slog.String("component", "executor")),
	}
}

// Execute sends the email for act on behalf of case c and returns the
// updated case. A send failure leaves the case untouched so the next
// message or poll retries from the same state.
func (e *Executor) Execute(ctx context.Context, c cases.Case, act workflow.Action) (cases.Case, error) {
	if act.Type == workflow.ActionNone {
		return c, nil
	}

	msg, err := e.renderer.Render(act)
	if err != nil {
		return c, fmt.Errorf("render %s: %w", act.Type, err)
	}

	receipt, err := e.sender.Send(ctx, mail.OutboundMessage{
		To:       []string{c.ID},
		Subject:  msg.Subject,
		Body:     msg.Body,
		ThreadID: c.ThreadLink(ChannelEmployee),
	})
	if err != nil {
		return c, fmt.Errorf("send %s: %w", act.Type, err)
	}

	e.log.Info("email sent",
		slog.String("case_id", c.ID),
		slog.String("action", string(act.Type)),
		slog.String("message_id", receipt.MessageID),
		slog.String("thread_id", receipt.ThreadID))

	updated, err := e.store.Update(ctx, c.ID, func(cs *cases.Case) error {
		if receipt.ThreadID != "" {
			if replaced := cs.LinkThread(ChannelEmployee, receipt.ThreadID); replaced {
				e.log.Warn("thread link replaced after send",
					slog.String("case_id", cs.ID),
					slog.String("thread_id", receipt.ThreadID))
			}
		}
		e.recordAction(cs, act)
		return nil
	})
	if err != nil {
		// The email is out; the state write failing must not claim the
		// send failed. Surface it and hand back the last known state.
		return c, fmt.Errorf("record %s after send: %w", act.Type, err)
	}
	return updated, nil
}

func (e *Executor) recordAction(cs *cases.Case, act workflow.Action) {
	ms, ok := cs.Milestone(cs.CurrentMilestone)
	if !ok {
		ms = cases.NewMilestoneState(e.registry.FieldNames(cs.CurrentMilestone))
	}

	switch act.Type {
	case workflow.ActionSendInitialRequest, workflow.ActionSendFollowup, workflow.ActionSendClarification:
		ms.PendingActions = []string{"waiting_for_details"}
		cs.SetMilestone(cs.CurrentMilestone, ms)

	case workflow.ActionSendCompletion:
		// Re-check before advancing: the decision was made on a snapshot
		// and the milestone must still be complete now.
		if !e.registry.IsComplete(cs.CurrentMilestone, ms) {
			e.log.Warn("milestone no longer complete after confirmation send, not advancing",
				slog.String("case_id", cs.ID),
				slog.Int("milestone", cs.CurrentMilestone))
			return
		}
		ms.Status = cases.StatusCompleted
		ms.PendingActions = nil
		cs.SetMilestone(cs.CurrentMilestone, ms)
		cs.CurrentMilestone++
		e.log.Info("milestone completed",
			slog.String("case_id", cs.ID),
			slog.Int("next_milestone", cs.CurrentMilestone))
	}
}
