package cases

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MilestoneStatus is the lifecycle state of a single milestone.
type MilestoneStatus string

const (
	StatusInProgress MilestoneStatus = "in_progress"
	StatusCompleted  MilestoneStatus = "completed"
)

// FieldValue is an explicit optional value for a collected field. A field
// that has not been answered yet is present with an unknown value, never
// absent from the data map; this is what the completeness check relies on.
type FieldValue struct {
	known  bool
	isFlag bool
	text   string
	flag   bool
}

// UnknownValue returns the not-yet-collected value.
func UnknownValue() FieldValue { return FieldValue{} }

// TextValue wraps a collected string (address, date).
func TextValue(s string) FieldValue { return FieldValue{known: true, text: s} }

// FlagValue wraps a collected yes/no answer.
func FlagValue(b bool) FieldValue { return FieldValue{known: true, isFlag: true, flag: b} }

// Known reports whether the field has been collected.
func (v FieldValue) Known() bool { return v.known }

// Text returns the string value; empty when unknown or a flag.
func (v FieldValue) Text() string { return v.text }

// Flag returns the boolean value; false when unknown or textual.
func (v FieldValue) Flag() bool { return v.flag }

// String renders the value for logs and summaries.
func (v FieldValue) String() string {
	if !v.known {
		return "unknown"
	}
	if v.isFlag {
		if v.flag {
			return "yes"
		}
		return "no"
	}
	return v.text
}

var nullJSON = []byte("null")

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if !v.known {
		return nullJSON, nil
	}
	if v.isFlag {
		return json.Marshal(v.flag)
	}
	return json.Marshal(v.text)
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), nullJSON) {
		*v = FieldValue{}
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = FlagValue(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = TextValue(s)
		return nil
	}
	return fmt.Errorf("field value must be null, bool or string: %s", data)
}

// MilestoneState holds the collected data for one milestone.
type MilestoneState struct {
	Status         MilestoneStatus       `json:"status"`
	Data           map[string]FieldValue `json:"data"`
	PendingActions []string              `json:"pending_actions"`
}

// NewMilestoneState seeds a milestone with every required field explicitly
// unknown.
func NewMilestoneState(fields []string) MilestoneState {
	data := make(map[string]FieldValue, len(fields))
	for _, f := range fields {
		data[f] = UnknownValue()
	}
	return MilestoneState{
		Status:         StatusInProgress,
		Data:           data,
		PendingActions: []string{},
	}
}

// Merge applies extracted values to the milestone data. Unknown values are
// skipped so an extraction gap never regresses a previously collected field.
// It returns the names of fields that changed.
func (m *MilestoneState) Merge(updates map[string]FieldValue) []string {
	if m.Data == nil {
		m.Data = make(map[string]FieldValue, len(updates))
	}
	var changed []string
	for name, v := range updates {
		if !v.Known() {
			continue
		}
		m.Data[name] = v
		changed = append(changed, name)
	}
	return changed
}

// Case is the persistent workflow state for one counterparty, keyed by
// address.
type Case struct {
	ID               string                 `json:"id"`
	CurrentMilestone int                    `json:"current_milestone"`
	Milestones       map[int]MilestoneState `json:"milestones"`
	ThreadLinks      map[string]string      `json:"thread_links"`
	CreatedAt        time.Time              `json:"created_at"`
	LastUpdated      time.Time              `json:"last_updated"`
}

// Factory builds a fresh Case for an unseen address. The workflow registry
// supplies one so the store does not need to know milestone definitions.
type Factory func(id string) Case

// Milestone returns the state for the given milestone number.
func (c *Case) Milestone(n int) (MilestoneState, bool) {
	ms, ok := c.Milestones[n]
	return ms, ok
}

// SetMilestone replaces the state for the given milestone number.
func (c *Case) SetMilestone(n int, ms MilestoneState) {
	if c.Milestones == nil {
		c.Milestones = make(map[int]MilestoneState)
	}
	c.Milestones[n] = ms
}

// ThreadLink returns the recorded thread id for a logical channel.
func (c *Case) ThreadLink(channel string) string {
	return c.ThreadLinks[channel]
}

// LinkThread records a thread id for a channel. It reports whether the call
// replaced a different previously recorded id, so callers can log the
// anomaly; links are corrected in place but never cleared.
func (c *Case) LinkThread(channel, threadID string) (replaced bool) {
	if threadID == "" {
		return false
	}
	if c.ThreadLinks == nil {
		c.ThreadLinks = make(map[string]string)
	}
	prev, ok := c.ThreadLinks[channel]
	c.ThreadLinks[channel] = threadID
	return ok && prev != "" && prev != threadID
}

// Clone returns a deep copy, so mutators never alias store-held state.
func (c Case) Clone() Case {
	out := c
	out.Milestones = make(map[int]MilestoneState, len(c.Milestones))
	for n, ms := range c.Milestones {
		data := make(map[string]FieldValue, len(ms.Data))
		for k, v := range ms.Data {
			data[k] = v
		}
		actions := make([]string, len(ms.PendingActions))
		copy(actions, ms.PendingActions)
		out.Milestones[n] = MilestoneState{Status: ms.Status, Data: data, PendingActions: actions}
	}
	out.ThreadLinks = make(map[string]string, len(c.ThreadLinks))
	for k, v := range c.ThreadLinks {
		out.ThreadLinks[k] = v
	}
	return out
}
