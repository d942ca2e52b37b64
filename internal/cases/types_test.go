package cases_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflowai/caseflow/internal/cases"
)

func TestFieldValueStates(t *testing.T) {
	unknown := cases.UnknownValue()
	assert.False(t, unknown.Known())
	assert.Equal(t, "unknown", unknown.String())

	text := cases.TextValue("742 Evergreen Terrace")
	assert.True(t, text.Known())
	assert.Equal(t, "742 Evergreen Terrace", text.Text())
	assert.Equal(t, "742 Evergreen Terrace", text.String())

	yes := cases.FlagValue(true)
	assert.True(t, yes.Known())
	assert.True(t, yes.Flag())
	assert.Equal(t, "yes", yes.String())
	assert.Equal(t, "no", cases.FlagValue(false).String())
}

func TestFieldValueJSON(t *testing.T) {
	in := map[string]cases.FieldValue{
		"pickup_address": cases.TextValue("12 North St"),
		"needs_box":      cases.FlagValue(true),
		"pickup_date":    cases.UnknownValue(),
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"pickup_date":null`)

	var out map[string]cases.FieldValue
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "12 North St", out["pickup_address"].Text())
	assert.True(t, out["needs_box"].Flag())
	assert.False(t, out["pickup_date"].Known())

	var bad cases.FieldValue
	assert.Error(t, json.Unmarshal([]byte(`{"nested":"object"}`), &bad))
}

func TestMergeSkipsUnknown(t *testing.T) {
	ms := cases.NewMilestoneState([]string{"pickup_address", "pickup_date"})
	changed := ms.Merge(map[string]cases.FieldValue{
		"pickup_address": cases.TextValue("12 North St"),
		"pickup_date":    cases.UnknownValue(),
	})
	assert.Equal(t, []string{"pickup_address"}, changed)
	assert.True(t, ms.Data["pickup_address"].Known())
	assert.False(t, ms.Data["pickup_date"].Known(), "an extraction gap must not erase the slot")

	// A later gap never regresses a collected value.
	changed = ms.Merge(map[string]cases.FieldValue{
		"pickup_address": cases.UnknownValue(),
	})
	assert.Empty(t, changed)
	assert.Equal(t, "12 North St", ms.Data["pickup_address"].Text())
}

func TestLinkThread(t *testing.T) {
	var c cases.Case

	assert.False(t, c.LinkThread("employee", ""))
	assert.Empty(t, c.ThreadLink("employee"))

	assert.False(t, c.LinkThread("employee", "thread-1"))
	assert.Equal(t, "thread-1", c.ThreadLink("employee"))

	// Same id again is not a replacement.
	assert.False(t, c.LinkThread("employee", "thread-1"))

	assert.True(t, c.LinkThread("employee", "thread-2"))
	assert.Equal(t, "thread-2", c.ThreadLink("employee"))
}

func TestCloneIsDeep(t *testing.T) {
	orig := cases.Case{
		ID:               "jane@acme.com",
		CurrentMilestone: 1,
		ThreadLinks:      map[string]string{"employee": "thread-1"},
	}
	orig.SetMilestone(1, cases.NewMilestoneState([]string{"pickup_address"}))

	dup := orig.Clone()
	ms, ok := dup.Milestone(1)
	require.True(t, ok)
	ms.Merge(map[string]cases.FieldValue{"pickup_address": cases.TextValue("elsewhere")})
	dup.SetMilestone(1, ms)
	dup.ThreadLinks["employee"] = "thread-9"

	origMS, _ := orig.Milestone(1)
	assert.False(t, origMS.Data["pickup_address"].Known())
	assert.Equal(t, "thread-1", orig.ThreadLink("employee"))
}
