package mailgun

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, signingKey string) *Adapter {
	t.Helper()
	a, err := New(slog.Default(), Config{
		Domain:            "mg.example.com",
		APIKey:            "key-test",
		WebhookSigningKey: signingKey,
	})
	require.NoError(t, err)
	return a
}

func webhookRequest(t *testing.T, form url.Values) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "/webhooks/mailgun", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func sign(key, timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleWebhook(t *testing.T) {
	a := newTestAdapter(t, "whsec")

	form := url.Values{}
	form.Set("timestamp", "1700000000")
	form.Set("token", "tok123")
	form.Set("signature", sign("whsec", "1700000000", "tok123"))
	form.Set("sender", "jane@acme.com")
	form.Set("recipient", "agent@mg.example.com, ops@mg.example.com")
	form.Set("subject", "Re: Moving Service Request - Information Needed")
	form.Set("stripped-text", "Pickup is 123 Main St.")
	form.Set("Message-Id", "<reply-1@acme.com>")
	form.Set("References", "<root-1@mg.example.com> <followup-2@mg.example.com>")

	msg, err := a.HandleWebhook(context.Background(), webhookRequest(t, form))
	require.NoError(t, err)

	assert.Equal(t, "reply-1@acme.com", msg.ID)
	assert.Equal(t, "root-1@mg.example.com", msg.ThreadID, "thread id is the first reference, the conversation root")
	assert.Equal(t, "jane@acme.com", msg.From)
	assert.Equal(t, []string{"agent@mg.example.com", "ops@mg.example.com"}, msg.To)
	assert.Equal(t, "Pickup is 123 Main St.", msg.Body)
}

func TestHandleWebhookBadSignature(t *testing.T) {
	a := newTestAdapter(t, "whsec")

	form := url.Values{}
	form.Set("timestamp", "1700000000")
	form.Set("token", "tok123")
	form.Set("signature", "deadbeef")
	form.Set("sender", "jane@acme.com")

	_, err := a.HandleWebhook(context.Background(), webhookRequest(t, form))
	require.Error(t, err)
}

func TestHandleWebhookUnsignedWhenNoKey(t *testing.T) {
	a := newTestAdapter(t, "")

	form := url.Values{}
	form.Set("sender", "jane@acme.com")
	form.Set("Message-Id", "<standalone@acme.com>")
	form.Set("body-plain", "We need to relocate an employee.")

	msg, err := a.HandleWebhook(context.Background(), webhookRequest(t, form))
	require.NoError(t, err)
	assert.Equal(t, "standalone@acme.com", msg.ThreadID, "a message with no references roots its own thread")
	assert.Equal(t, "We need to relocate an employee.", msg.Body)
}

func TestHandleWebhookInReplyToFallback(t *testing.T) {
	a := newTestAdapter(t, "")

	form := url.Values{}
	form.Set("sender", "jane@acme.com")
	form.Set("Message-Id", "<reply-2@acme.com>")
	form.Set("In-Reply-To", "<root-9@mg.example.com>")

	msg, err := a.HandleWebhook(context.Background(), webhookRequest(t, form))
	require.NoError(t, err)
	assert.Equal(t, "root-9@mg.example.com", msg.ThreadID)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(slog.Default(), Config{Domain: "mg.example.com"})
	require.Error(t, err)

	_, err = New(slog.Default(), Config{APIKey: "key"})
	require.Error(t, err)
}
