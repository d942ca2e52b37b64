package extract

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflowai/caseflow/internal/workflow"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(_ context.Context, _, _ string, _ bool) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func milestone1Specs(t *testing.T) []workflow.FieldSpec {
	t.Helper()
	return workflow.NewRegistry().RequiredFields(1)
}

func TestExtractFieldsFromModelJSON(t *testing.T) {
	completer := &fakeCompleter{reply: `{
		"pickup_address": "123 Main St, Austin, TX 78701",
		"pickup_date": "June 15th",
		"delivery_address": null,
		"needs_box": true,
		"needs_packing_help": "no",
		"insurance_opted_in": null
	}`}
	ex := NewLLM(completer, slog.Default())

	got, err := ex.ExtractFields(context.Background(), milestone1Specs(t), "some email body")
	require.NoError(t, err)

	assert.Equal(t, "123 Main St, Austin, TX 78701", got[workflow.FieldPickupAddress].Text())
	assert.Equal(t, "June 15th", got[workflow.FieldPickupDate].Text())
	assert.True(t, got[workflow.FieldNeedsBox].Flag())
	assert.False(t, got[workflow.FieldNeedsPackingHelp].Flag())
	_, hasDelivery := got[workflow.FieldDeliveryAddress]
	assert.False(t, hasDelivery, "null values must not appear in the result")
	_, hasInsurance := got[workflow.FieldInsuranceOptedIn]
	assert.False(t, hasInsurance)
}

func TestExtractFieldsStripsCodeFences(t *testing.T) {
	completer := &fakeCompleter{reply: "```json\n{\"pickup_date\": \"tomorrow\"}\n```"}
	ex := NewLLM(completer, slog.Default())

	got, err := ex.ExtractFields(context.Background(), milestone1Specs(t), "body")
	require.NoError(t, err)
	assert.Equal(t, "tomorrow", got[workflow.FieldPickupDate].Text())
}

func TestExtractFieldsHeuristicBackfill(t *testing.T) {
	// Model leaves the flags null; the regex pass reads them from context.
	completer := &fakeCompleter{reply: `{}`}
	ex := NewLLM(completer, slog.Default())

	body := "Yes I need boxes please. No packing help required. Insurance is unnecessary."
	got, err := ex.ExtractFields(context.Background(), milestone1Specs(t), body)
	require.NoError(t, err)

	assert.True(t, got[workflow.FieldNeedsBox].Flag())
	require.Contains(t, got, workflow.FieldNeedsPackingHelp)
	assert.False(t, got[workflow.FieldNeedsPackingHelp].Flag())
	require.Contains(t, got, workflow.FieldInsuranceOptedIn)
	assert.False(t, got[workflow.FieldInsuranceOptedIn].Flag())
}

func TestExtractFieldsModelOutageStillRunsHeuristics(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("connection refused")}
	ex := NewLLM(completer, slog.Default())

	got, err := ex.ExtractFields(context.Background(), milestone1Specs(t), "No boxes needed, thanks.")
	require.NoError(t, err)
	require.Contains(t, got, workflow.FieldNeedsBox)
	assert.False(t, got[workflow.FieldNeedsBox].Flag())
}

func TestExtractFieldsOutageWithNothingToSalvage(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("connection refused")}
	ex := NewLLM(completer, slog.Default())

	_, err := ex.ExtractFields(context.Background(), milestone1Specs(t), "see attachment")
	require.Error(t, err)
}

func TestExtractFieldsEmptyBody(t *testing.T) {
	completer := &fakeCompleter{}
	ex := NewLLM(completer, slog.Default())

	got, err := ex.ExtractFields(context.Background(), milestone1Specs(t), "   ")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, completer.calls, "blank bodies must not cost a model call")
}

func TestClassifyIntent(t *testing.T) {
	for reply, want := range map[string]Intent{
		"answer":            IntentAnswer,
		"Question":          IntentQuestion,
		"greeting":          IntentGreeting,
		"something strange": IntentUnrelated,
	} {
		ex := NewLLM(&fakeCompleter{reply: reply}, slog.Default())
		got, err := ex.ClassifyIntent(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, want, got, "reply %q", reply)
	}
}

func TestClassifyIntentError(t *testing.T) {
	ex := NewLLM(&fakeCompleter{err: fmt.Errorf("timeout")}, slog.Default())
	got, err := ex.ClassifyIntent(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, IntentUnknown, got)
}

func TestIsInitiationKeywordFallback(t *testing.T) {
	ex := NewLLM(&fakeCompleter{err: fmt.Errorf("timeout")}, slog.Default())

	got, err := ex.IsInitiation(context.Background(), "We need to relocate our engineer to Denver")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = ex.IsInitiation(context.Background(), "Lunch on Friday?")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestCounterpartyAddress(t *testing.T) {
	text := "Please help agent@caseflow.example move jane.doe@acme.com, cc ops@caseflow.example"

	addr, ok := CounterpartyAddress(text, []string{"caseflow.example"})
	require.True(t, ok)
	assert.Equal(t, "jane.doe@acme.com", addr)

	_, ok = CounterpartyAddress("no addresses here", nil)
	assert.False(t, ok)

	_, ok = CounterpartyAddress("only agent@caseflow.example", []string{"agent@caseflow.example"})
	assert.False(t, ok)
}

func TestYesNoHeuristic(t *testing.T) {
	v, ok := yesNoHeuristic("Yes, definitely")
	require.True(t, ok)
	assert.True(t, v)

	v, ok = yesNoHeuristic("nope, not needed")
	require.True(t, ok)
	assert.False(t, v)

	// Affirmative wins when both appear in one answer.
	v, ok = yesNoHeuristic("yes but not the big ones")
	require.True(t, ok)
	assert.True(t, v)

	_, ok = yesNoHeuristic("maybe later")
	assert.False(t, ok)
}

func TestContextWindow(t *testing.T) {
	text := "We move June 1st. Boxes would be great, thanks! Insurance sounds expensive."

	got := contextWindow(text, []string{"box", "boxes"})
	assert.Contains(t, got, "Boxes would be great")
	assert.NotContains(t, got, "Insurance")

	assert.Empty(t, contextWindow(text, []string{"piano"}))
}
