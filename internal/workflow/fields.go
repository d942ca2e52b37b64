package workflow

import (
	"time"

	"github.com/caseflowai/caseflow/internal/cases"
)

// FieldKind drives both extraction prompting and value typing.
type FieldKind string

const (
	KindAddress FieldKind = "address"
	KindDate    FieldKind = "date"
	KindFlag    FieldKind = "flag"
)

// FieldSpec describes one required data item of a milestone.
type FieldSpec struct {
	Name        string
	Kind        FieldKind
	Label       string   // short heading for the initial request list
	Description string   // human phrasing for followup emails
	Question    string   // the question asked in the initial request
	Keywords    []string // context keywords for heuristic flag extraction
}

// Milestone 1 field names.
const (
	FieldPickupAddress    = "pickup_address"
	FieldPickupDate       = "pickup_date"
	FieldDeliveryAddress  = "delivery_address"
	FieldNeedsBox         = "needs_box"
	FieldNeedsPackingHelp = "needs_packing_help"
	FieldInsuranceOptedIn = "insurance_opted_in"
)

var milestone1Fields = []FieldSpec{
	{
		Name:        FieldPickupAddress,
		Kind:        KindAddress,
		Label:       "Pickup Address",
		Description: "pickup address",
		Question:    "Where should we pick up your belongings?",
	},
	{
		Name:        FieldPickupDate,
		Kind:        KindDate,
		Label:       "Pickup Date",
		Description: "pickup date",
		Question:    "When should we pick up your belongings?",
	},
	{
		Name:        FieldDeliveryAddress,
		Kind:        KindAddress,
		Label:       "Delivery Address",
		Description: "delivery address",
		Question:    "Where should we deliver your belongings?",
	},
	{
		Name:        FieldNeedsBox,
		Kind:        KindFlag,
		Label:       "Boxes",
		Description: "whether you need boxes",
		Question:    "Do you need moving boxes?",
		Keywords:    []string{"box", "boxes", "packing box"},
	},
	{
		Name:        FieldNeedsPackingHelp,
		Kind:        KindFlag,
		Label:       "Packing Help",
		Description: "whether you need help with packing",
		Question:    "Do you need help with packing?",
		Keywords:    []string{"packing", "help packing", "packing help"},
	},
	{
		Name:        FieldInsuranceOptedIn,
		Kind:        KindFlag,
		Label:       "Insurance",
		Description: "whether you want to opt-in for insurance",
		Question:    "Would you like to opt-in for moving insurance?",
		Keywords:    []string{"insurance", "insure", "coverage"},
	},
}

// Registry is the static milestone definition table. Milestones are
// numbered from 1; the slice is ordered and the field order within a
// milestone is the order followups list missing items in.
type Registry struct {
	milestones [][]FieldSpec
}

func NewRegistry() *Registry {
	return &Registry{milestones: [][]FieldSpec{milestone1Fields}}
}

// MilestoneCount returns the number of defined milestones.
func (r *Registry) MilestoneCount() int { return len(r.milestones) }

// RequiredFields returns the ordered field specs for a milestone, or nil
// for an unknown milestone number.
func (r *Registry) RequiredFields(milestone int) []FieldSpec {
	if milestone < 1 || milestone > len(r.milestones) {
		return nil
	}
	return r.milestones[milestone-1]
}

// Field looks up a single field spec by name within a milestone.
func (r *Registry) Field(milestone int, name string) (FieldSpec, bool) {
	for _, s := range r.RequiredFields(milestone) {
		if s.Name == name {
			return s, true
		}
	}
	return FieldSpec{}, false
}

// FieldNames returns the ordered required field names for a milestone.
func (r *Registry) FieldNames(milestone int) []string {
	specs := r.RequiredFields(milestone)
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}

// IsComplete reports whether every required field of the milestone has a
// known value.
func (r *Registry) IsComplete(milestone int, ms cases.MilestoneState) bool {
	specs := r.RequiredFields(milestone)
	if len(specs) == 0 {
		return false
	}
	for _, s := range specs {
		if !ms.Data[s.Name].Known() {
			return false
		}
	}
	return true
}

// MissingFields returns the required fields still unknown, in registry
// order.
func (r *Registry) MissingFields(milestone int, ms cases.MilestoneState) []string {
	var missing []string
	for _, s := range r.RequiredFields(milestone) {
		if !ms.Data[s.Name].Known() {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

// AllUnset reports whether no required field has been collected yet, which
// marks a case that still needs the initial request.
func (r *Registry) AllUnset(milestone int, ms cases.MilestoneState) bool {
	for _, s := range r.RequiredFields(milestone) {
		if ms.Data[s.Name].Known() {
			return false
		}
	}
	return true
}

// NewCase is the cases.Factory: milestone 1 is seeded with every required
// field explicitly unknown.
func (r *Registry) NewCase(id string) cases.Case {
	now := time.Now().UTC()
	ms := cases.NewMilestoneState(r.FieldNames(1))
	ms.PendingActions = []string{"waiting_for_details"}
	return cases.Case{
		ID:               id,
		CurrentMilestone: 1,
		Milestones:       map[int]cases.MilestoneState{1: ms},
		ThreadLinks:      map[string]string{},
		CreatedAt:        now,
		LastUpdated:      now,
	}
}
