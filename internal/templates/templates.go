// Package templates renders the outbound email for each workflow action.
// Subjects and bodies are plain text; rendering is deterministic so the
// same action on the same case state always produces the same message.
package templates

import (
	"fmt"
	"strings"

	"github.com/caseflowai/caseflow/internal/workflow"
)

const signature = "Casey"

// Message is a rendered subject/body pair ready to hand to a mail sender.
type Message struct {
	Subject string
	Body    string
}

// Renderer turns workflow actions into email content using the field
// registry for labels, questions, and followup phrasing.
type Renderer struct {
	registry *workflow.Registry
}

func NewRenderer(registry *workflow.Registry) *Renderer {
	return &Renderer{registry: registry}
}

// Render produces the message for an action. ActionNone has no message
// and returns an error so callers never send an empty email by accident.
func (r *Renderer) Render(act workflow.Action) (Message, error) {
	switch act.Type {
	case workflow.ActionSendInitialRequest:
		return r.initialRequest(act.Milestone), nil
	case workflow.ActionSendFollowup:
		return r.followup(act.Milestone, act.MissingFields), nil
	case workflow.ActionSendCompletion:
		return r.completionConfirmation(), nil
	case workflow.ActionSendClarification:
		return r.clarification(act.Milestone, act.Field), nil
	default:
		return Message{}, fmt.Errorf("no template for action %q", act.Type)
	}
}

func (r *Renderer) initialRequest(milestone int) Message {
	var b strings.Builder
	b.WriteString("Hello!\n\n")
	b.WriteString("I'm " + signature + ", your moving service assistant. To help you with your move, I need to collect some information:\n\n")
	for i, spec := range r.registry.RequiredFields(milestone) {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, spec.Label, spec.Question)
	}
	b.WriteString("\nPlease reply to this email with all the information above. You can provide it in any format that's convenient for you.\n\n")
	b.WriteString("Thank you!\n" + signature)

	return Message{
		Subject: "Moving Service Request - Information Needed",
		Body:    b.String(),
	}
}

func (r *Renderer) followup(milestone int, missing []string) Message {
	items := make([]string, 0, len(missing))
	for _, name := range missing {
		if spec, ok := r.registry.Field(milestone, name); ok {
			items = append(items, spec.Description)
		} else {
			items = append(items, name)
		}
	}

	body := fmt.Sprintf(`Hello!

Thank you for your response! I still need a bit more information to proceed:

I'm missing: %s

Please reply with this information and I'll be able to move forward with your request.

Thank you!
%s`, humanizeList(items), signature)

	return Message{
		Subject: "Moving Service Request - Additional Information Needed",
		Body:    body,
	}
}

func (r *Renderer) completionConfirmation() Message {
	body := `Hello!

Perfect! I've received all the information I need for your moving service request.

I'll now proceed to coordinate with our moving vendors to get you a quote. You'll hear from me soon with the next steps.

Thank you for providing all the details!
` + signature

	return Message{
		Subject: "Moving Service Request - Information Received",
		Body:    body,
	}
}

func (r *Renderer) clarification(milestone int, field string) Message {
	phrase := field
	if spec, ok := r.registry.Field(milestone, field); ok {
		if spec.Kind == workflow.KindFlag {
			phrase = spec.Description + " (yes or no)"
		} else {
			phrase = "your " + spec.Description
		}
	}

	body := fmt.Sprintf(`Hello!

I received your message, but I need a bit of clarification:

Could you please provide %s?

A simple yes/no or the specific information would be great!

Thank you!
%s`, phrase, signature)

	return Message{
		Subject: "Moving Service Request - Need Clarification",
		Body:    body,
	}
}

// humanizeList joins items as "a", "a and b", or "a, b, and c".
func humanizeList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}
