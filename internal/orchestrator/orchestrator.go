// Package orchestrator runs the email intake pipeline: admit an inbound
// message, attribute it to a case, extract what it answers, and send
// whatever the workflow decides comes next. Work on one case is
// serialized; distinct cases proceed concurrently.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caseflowai/caseflow/internal/cases"
	"github.com/caseflowai/caseflow/internal/extract"
	"github.com/caseflowai/caseflow/internal/mail"
	"github.com/caseflowai/caseflow/internal/workflow"
)

// Status summarizes what happened to one inbound message.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusDuplicate Status = "duplicate"
	StatusStale     Status = "stale"
	StatusIgnored   Status = "ignored"
)

// Result reports the pipeline outcome for one message.
type Result struct {
	Status Status              `json:"status"`
	CaseID string              `json:"case_id,omitempty"`
	Action workflow.ActionType `json:"action,omitempty"`
	Reason string              `json:"reason,omitempty"`
}

// Deps bundles the collaborators the pipeline needs.
type Deps struct {
	Store     cases.Store
	Registry  *workflow.Registry
	Engine    *workflow.Engine
	Executor  *Executor
	Extractor extract.Extractor
	Tracker   *Tracker

	// SelfAddress is the agent's own address; mail from it is ignored.
	SelfAddress string
	// Allowlist restricts which senders are processed. Empty means all.
	Allowlist []string
}

type Orchestrator struct {
	store     cases.Store
	registry  *workflow.Registry
	engine    *workflow.Engine
	executor  *Executor
	extractor extract.Extractor
	tracker   *Tracker
	locks     *cases.KeyedMutex
	self      string
	allowlist []string
	log       *slog.Logger
}

func New(log *slog.Logger, d Deps) *Orchestrator {
	return &Orchestrator{
		store:     d.Store,
		registry:  d.Registry,
		engine:    d.Engine,
		executor:  d.Executor,
		extractor: d.Extractor,
		tracker:   d.Tracker,
		locks:     cases.NewKeyedMutex(),
		self:      d.SelfAddress,
		allowlist: d.Allowlist,
		log:       log.With(slog.String("component", "orchestrator")),
	}
}

// ProcessMessage is the single entry point for inbound mail, shared by
// the poll loop, the webhook, and the HTTP process endpoint. It is
// idempotent for a given message: duplicates and out-of-date thread
// messages are dropped before any state changes.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg mail.InboundMessage) (Result, error) {
	sender, err := mail.BareAddress(msg.From)
	if err != nil {
		o.tracker.CountIgnored()
		return Result{Status: StatusIgnored, Reason: "unparseable sender"}, nil
	}

	if o.self != "" && mail.SameAddress(sender, o.self) {
		o.tracker.CountIgnored()
		return Result{Status: StatusIgnored, Reason: "own message"}, nil
	}

	if !o.senderAllowed(sender) {
		o.log.Info("sender not on allowlist", slog.String("from", sender))
		o.tracker.CountIgnored()
		o.tracker.MarkProcessed(msg.ID)
		return Result{Status: StatusIgnored, Reason: "sender not allowed"}, nil
	}

	if ok, reason := o.tracker.Admit(ctx, msg); !ok {
		o.log.Debug("message not admitted",
			slog.String("message_id", msg.ID),
			slog.String("reason", reason))
		if reason == "stale" {
			return Result{Status: StatusStale, Reason: reason}, nil
		}
		return Result{Status: StatusDuplicate, Reason: reason}, nil
	}

	caseID, fresh, err := o.resolveCase(ctx, sender, msg)
	if err != nil {
		o.tracker.Release(msg.ID)
		o.tracker.CountFailure()
		return Result{}, err
	}
	if caseID == "" {
		// Nothing to do with this message; remember it so the next poll
		// does not re-classify it.
		o.tracker.CountIgnored()
		o.tracker.MarkProcessed(msg.ID)
		return Result{Status: StatusIgnored, Reason: "unrelated"}, nil
	}

	unlock := o.locks.Lock(caseID)
	defer unlock()

	result, err := o.handleCaseMessage(ctx, caseID, fresh, msg)
	if err != nil {
		o.tracker.Release(msg.ID)
		o.tracker.CountFailure()
		return Result{}, err
	}

	o.tracker.MarkProcessed(msg.ID)
	o.tracker.CountProcessed()
	return result, nil
}

// resolveCase maps a message to the case it belongs to, creating one for
// initiation requests. An empty case id means the message is unrelated.
// For an initiation sent on the employee's behalf, the case is keyed by
// the employee's address found in the message body, not the sender's.
func (o *Orchestrator) resolveCase(ctx context.Context, sender string, msg mail.InboundMessage) (string, bool, error) {
	if _, ok, err := o.store.Get(ctx, sender); err != nil {
		return "", false, fmt.Errorf("look up case %s: %w", sender, err)
	} else if ok {
		return sender, false, nil
	}

	text := msg.Subject + "\n\n" + msg.Body
	isInit, err := o.extractor.IsInitiation(ctx, text)
	if err != nil {
		return "", false, fmt.Errorf("initiation check: %w", err)
	}
	if !isInit {
		return "", false, nil
	}

	caseID := sender
	exclude := append([]string{o.self}, sender)
	if employee, ok := extract.CounterpartyAddress(msg.Body, exclude); ok {
		caseID = strings.ToLower(employee)
	}

	if _, err := o.store.Create(ctx, caseID); err != nil {
		return "", false, fmt.Errorf("create case %s: %w", caseID, err)
	}
	o.log.Info("case created",
		slog.String("case_id", caseID),
		slog.String("initiated_by", sender))
	return caseID, true, nil
}

func (o *Orchestrator) handleCaseMessage(ctx context.Context, caseID string, fresh bool, msg mail.InboundMessage) (Result, error) {
	c, ok, err := o.store.Get(ctx, caseID)
	if err != nil {
		return Result{}, fmt.Errorf("load case %s: %w", caseID, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("case %s vanished mid-pipeline", caseID)
	}

	// A message from the case's counterparty pins the conversation. An
	// id change means the counterparty replied from deeper in the chain;
	// the newest message wins so future sends land where they reply.
	if msg.ThreadID != "" && mail.SameAddress(msg.From, caseID) {
		c, err = o.store.Update(ctx, caseID, func(cs *cases.Case) error {
			if replaced := cs.LinkThread(ChannelEmployee, msg.ThreadID); replaced {
				o.log.Warn("thread link moved",
					slog.String("case_id", caseID),
					slog.String("thread_id", msg.ThreadID))
			}
			return nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("link thread for %s: %w", caseID, err)
		}
	}

	// Fresh cases have nothing to extract from the initiation email
	// itself; the initial request goes straight out.
	if !fresh {
		if err := o.mergeFromMessage(ctx, &c, msg); err != nil {
			return Result{}, err
		}
	}

	act := o.engine.NextAction(c)
	if act.Type == workflow.ActionNone {
		return Result{Status: StatusProcessed, CaseID: caseID, Action: workflow.ActionNone}, nil
	}

	if _, err := o.executor.Execute(ctx, c, act); err != nil {
		return Result{}, fmt.Errorf("execute for %s: %w", caseID, err)
	}
	return Result{Status: StatusProcessed, CaseID: caseID, Action: act.Type}, nil
}

// mergeFromMessage extracts milestone data from an answer and merges it
// into the case. Non-answers change nothing; unknown extractions never
// overwrite known values.
func (o *Orchestrator) mergeFromMessage(ctx context.Context, c *cases.Case, msg mail.InboundMessage) error {
	intent, err := o.extractor.ClassifyIntent(ctx, msg.Body)
	if err != nil {
		// No merge on a failed classification; the message still counts
		// as handled so the poll loop does not thrash on it.
		o.log.Warn("intent classification failed, treating as unrelated",
			slog.String("case_id", c.ID),
			slog.Any("error", err))
		intent = extract.IntentUnrelated
	}
	o.log.Info("message classified",
		slog.String("case_id", c.ID),
		slog.String("intent", string(intent)))

	if intent != extract.IntentAnswer {
		return nil
	}

	specs := o.registry.RequiredFields(c.CurrentMilestone)
	if len(specs) == 0 {
		return nil
	}

	values, err := o.extractor.ExtractFields(ctx, specs, msg.Body)
	if err != nil {
		o.log.Warn("field extraction failed, continuing without updates",
			slog.String("case_id", c.ID),
			slog.Any("error", err))
		return nil
	}
	if len(values) == 0 {
		return nil
	}

	milestone := c.CurrentMilestone
	updated, err := o.store.Update(ctx, c.ID, func(cs *cases.Case) error {
		ms, ok := cs.Milestone(milestone)
		if !ok {
			ms = cases.NewMilestoneState(o.registry.FieldNames(milestone))
		}
		applied := ms.Merge(values)
		cs.SetMilestone(milestone, ms)
		if len(applied) > 0 {
			o.log.Info("milestone data updated",
				slog.String("case_id", cs.ID),
				slog.Int("milestone", milestone),
				slog.Any("fields", applied))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge data for %s: %w", c.ID, err)
	}
	*c = updated
	return nil
}

// Initiate starts a case directly, without an inbound trigger: create it
// if needed and send the initial request. Re-initiating an existing case
// just re-runs the decision, so a completed case sends nothing new.
func (o *Orchestrator) Initiate(ctx context.Context, address string) (Result, error) {
	addr, err := mail.BareAddress(address)
	if err != nil {
		return Result{}, fmt.Errorf("initiate: %w", err)
	}

	unlock := o.locks.Lock(addr)
	defer unlock()

	c, err := o.store.Create(ctx, addr)
	if err != nil {
		return Result{}, fmt.Errorf("initiate case %s: %w", addr, err)
	}

	act := o.engine.NextAction(c)
	if act.Type == workflow.ActionNone {
		return Result{Status: StatusProcessed, CaseID: addr, Action: workflow.ActionNone}, nil
	}
	if _, err := o.executor.Execute(ctx, c, act); err != nil {
		return Result{}, fmt.Errorf("initiate send for %s: %w", addr, err)
	}
	return Result{Status: StatusProcessed, CaseID: addr, Action: act.Type}, nil
}

// Counters exposes the intake totals for the health endpoint.
func (o *Orchestrator) Counters() Counters { return o.tracker.Snapshot() }

func (o *Orchestrator) senderAllowed(sender string) bool {
	if len(o.allowlist) == 0 {
		return true
	}
	for _, a := range o.allowlist {
		if mail.SameAddress(sender, a) {
			return true
		}
	}
	return false
}
