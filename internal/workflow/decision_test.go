package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflowai/caseflow/internal/cases"
	"github.com/caseflowai/caseflow/internal/workflow"
)

func TestNewCaseSeedsEveryFieldUnknown(t *testing.T) {
	registry := workflow.NewRegistry()
	c := registry.NewCase("jane@acme.com")

	assert.Equal(t, 1, c.CurrentMilestone)
	ms, ok := c.Milestone(1)
	require.True(t, ok)
	assert.Equal(t, cases.StatusInProgress, ms.Status)
	assert.Equal(t, []string{"waiting_for_details"}, ms.PendingActions)

	names := registry.FieldNames(1)
	require.Len(t, ms.Data, len(names))
	for _, name := range names {
		v, present := ms.Data[name]
		assert.True(t, present, "field %s must be present", name)
		assert.False(t, v.Known(), "field %s must start unknown", name)
	}
}

func TestFieldOrderIsStable(t *testing.T) {
	registry := workflow.NewRegistry()
	assert.Equal(t, []string{
		workflow.FieldPickupAddress,
		workflow.FieldPickupDate,
		workflow.FieldDeliveryAddress,
		workflow.FieldNeedsBox,
		workflow.FieldNeedsPackingHelp,
		workflow.FieldInsuranceOptedIn,
	}, registry.FieldNames(1))
}

func TestFieldLookup(t *testing.T) {
	registry := workflow.NewRegistry()

	spec, ok := registry.Field(1, workflow.FieldNeedsBox)
	require.True(t, ok)
	assert.Equal(t, workflow.KindFlag, spec.Kind)
	assert.NotEmpty(t, spec.Question)

	_, ok = registry.Field(1, "made_up")
	assert.False(t, ok)
	_, ok = registry.Field(2, workflow.FieldNeedsBox)
	assert.False(t, ok)
}

func TestNextActionPriority(t *testing.T) {
	registry := workflow.NewRegistry()
	engine := workflow.NewEngine(registry)

	c := registry.NewCase("jane@acme.com")
	act := engine.NextAction(c)
	assert.Equal(t, workflow.ActionSendInitialRequest, act.Type)
	assert.Equal(t, 1, act.Milestone)

	// One answer in: followup listing the rest, in registry order.
	ms, _ := c.Milestone(1)
	ms.Merge(map[string]cases.FieldValue{
		workflow.FieldPickupDate: cases.TextValue("2026-09-15"),
	})
	c.SetMilestone(1, ms)
	act = engine.NextAction(c)
	require.Equal(t, workflow.ActionSendFollowup, act.Type)
	assert.Equal(t, []string{
		workflow.FieldPickupAddress,
		workflow.FieldDeliveryAddress,
		workflow.FieldNeedsBox,
		workflow.FieldNeedsPackingHelp,
		workflow.FieldInsuranceOptedIn,
	}, act.MissingFields)

	// Everything known: completion wins over followup.
	ms.Merge(map[string]cases.FieldValue{
		workflow.FieldPickupAddress:    cases.TextValue("12 North St"),
		workflow.FieldDeliveryAddress:  cases.TextValue("9 South Ave"),
		workflow.FieldNeedsBox:         cases.FlagValue(true),
		workflow.FieldNeedsPackingHelp: cases.FlagValue(false),
		workflow.FieldInsuranceOptedIn: cases.FlagValue(true),
	})
	c.SetMilestone(1, ms)
	act = engine.NextAction(c)
	assert.Equal(t, workflow.ActionSendCompletion, act.Type)
}

func TestNextActionAddressesOnlyAsksForTheRest(t *testing.T) {
	registry := workflow.NewRegistry()
	engine := workflow.NewEngine(registry)

	c := registry.NewCase("jane@acme.com")
	ms, _ := c.Milestone(1)
	ms.Merge(map[string]cases.FieldValue{
		workflow.FieldPickupAddress:   cases.TextValue("12 North St"),
		workflow.FieldDeliveryAddress: cases.TextValue("9 South Ave"),
	})
	c.SetMilestone(1, ms)

	act := engine.NextAction(c)
	require.Equal(t, workflow.ActionSendFollowup, act.Type)
	assert.Equal(t, []string{
		workflow.FieldPickupDate,
		workflow.FieldNeedsBox,
		workflow.FieldNeedsPackingHelp,
		workflow.FieldInsuranceOptedIn,
	}, act.MissingFields)
}

func TestNextActionRepeatsOnSameSnapshot(t *testing.T) {
	registry := workflow.NewRegistry()
	engine := workflow.NewEngine(registry)

	c := registry.NewCase("jane@acme.com")
	ms, _ := c.Milestone(1)
	ms.Merge(map[string]cases.FieldValue{
		workflow.FieldPickupDate: cases.TextValue("2026-09-15"),
	})
	c.SetMilestone(1, ms)

	first := engine.NextAction(c)
	second := engine.NextAction(c)
	assert.Equal(t, first, second, "the same case snapshot must yield the same action")
}

func TestNextActionNoFlagRegressesToInitial(t *testing.T) {
	registry := workflow.NewRegistry()
	engine := workflow.NewEngine(registry)

	// A collected "no" answer still counts as collected.
	c := registry.NewCase("jane@acme.com")
	ms, _ := c.Milestone(1)
	ms.Merge(map[string]cases.FieldValue{
		workflow.FieldNeedsBox: cases.FlagValue(false),
	})
	c.SetMilestone(1, ms)

	act := engine.NextAction(c)
	assert.Equal(t, workflow.ActionSendFollowup, act.Type)
	assert.NotContains(t, act.MissingFields, workflow.FieldNeedsBox)
}

func TestNextActionPastLastMilestone(t *testing.T) {
	registry := workflow.NewRegistry()
	engine := workflow.NewEngine(registry)

	c := registry.NewCase("jane@acme.com")
	c.CurrentMilestone = registry.MilestoneCount() + 1
	assert.Equal(t, workflow.ActionNone, engine.NextAction(c).Type)

	c.CurrentMilestone = 0
	assert.Equal(t, workflow.ActionNone, engine.NextAction(c).Type)
}

func TestNextActionMissingStateGetsInitialRequest(t *testing.T) {
	registry := workflow.NewRegistry()
	engine := workflow.NewEngine(registry)

	// A case whose milestone map lost its entry behaves like a fresh one.
	c := cases.Case{ID: "jane@acme.com", CurrentMilestone: 1}
	act := engine.NextAction(c)
	assert.Equal(t, workflow.ActionSendInitialRequest, act.Type)
}
