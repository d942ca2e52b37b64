// Package mailgun is the Mailgun API mail transport. Inbound mail
// arrives through signed route-forward webhooks; there is no mailbox to
// query, so the adapter implements no thread lookup.
package mailgun

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/caseflowai/caseflow/internal/mail"
)

const Name mail.AdapterName = "mailgun"

// Config carries the Mailgun account settings. WebhookSigningKey is
// required when the webhook route is exposed; an empty key skips
// signature verification.
type Config struct {
	Domain            string
	APIKey            string
	Region            string // us or eu
	WebhookSigningKey string
	From              string
}

type Adapter struct {
	logger *slog.Logger
	cfg    Config
	client *mg.Client
}

func New(log *slog.Logger, cfg Config) (*Adapter, error) {
	for key, v := range map[string]string{
		"domain":  cfg.Domain,
		"api_key": cfg.APIKey,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("mailgun: %s is required", key)
		}
	}
	if cfg.From == "" {
		cfg.From = fmt.Sprintf("noreply@%s", cfg.Domain)
	}

	client := mg.NewMailgun(cfg.APIKey)
	if cfg.Region == "eu" {
		client.SetAPIBase(mg.APIBaseEU)
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", string(Name))),
		cfg:    cfg,
		client: client,
	}, nil
}

func (a *Adapter) Name() mail.AdapterName { return Name }

// ---- Sender ----

func (a *Adapter) Send(ctx context.Context, msg mail.OutboundMessage) (mail.Receipt, error) {
	m := mg.NewMessage(a.cfg.Domain, a.cfg.From, msg.Subject, msg.Body, msg.To...)
	if msg.ThreadID != "" {
		replyTo := msg.InReplyTo
		if replyTo == "" {
			replyTo = msg.ThreadID
		}
		m.AddHeader("In-Reply-To", angled(replyTo))
		refs := angled(msg.ThreadID)
		if replyTo != msg.ThreadID {
			refs += " " + angled(replyTo)
		}
		m.AddHeader("References", refs)
	}

	resp, err := a.client.Send(ctx, m)
	if err != nil {
		return mail.Receipt{}, fmt.Errorf("mailgun send: %w", err)
	}

	messageID := canonicalID(resp.ID)
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = messageID
	}
	return mail.Receipt{MessageID: messageID, ThreadID: threadID}, nil
}

// ---- WebhookReceiver ----

// HandleWebhook parses a Mailgun route-forward POST. The signature is
// HMAC-SHA256 over timestamp+token with the webhook signing key.
func (a *Adapter) HandleWebhook(_ context.Context, r *http.Request) (*mail.InboundMessage, error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		if err2 := r.ParseForm(); err2 != nil {
			return nil, fmt.Errorf("parse form: %w", err2)
		}
	}

	timestamp := r.FormValue("timestamp")
	token := r.FormValue("token")
	signature := r.FormValue("signature")
	if a.cfg.WebhookSigningKey != "" {
		mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSigningKey))
		mac.Write([]byte(timestamp + token))
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(signature)) {
			return nil, fmt.Errorf("webhook signature verification failed")
		}
	}

	toAddrs := strings.Split(r.FormValue("recipient"), ",")
	for i := range toAddrs {
		toAddrs[i] = strings.TrimSpace(toAddrs[i])
	}

	messageID := canonicalID(r.FormValue("Message-Id"))
	threadID := ""
	if refs := strings.Fields(r.FormValue("References")); len(refs) > 0 {
		threadID = canonicalID(refs[0])
	} else if irt := r.FormValue("In-Reply-To"); irt != "" {
		threadID = canonicalID(irt)
	}
	if threadID == "" {
		threadID = messageID
	}

	body := r.FormValue("stripped-text")
	if body == "" {
		body = r.FormValue("body-plain")
	}

	return &mail.InboundMessage{
		ID:         messageID,
		From:       r.FormValue("sender"),
		To:         toAddrs,
		Subject:    r.FormValue("subject"),
		Body:       body,
		Snippet:    snippet(body),
		ThreadID:   threadID,
		ReceivedAt: time.Now(),
	}, nil
}

func snippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

func canonicalID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func angled(id string) string {
	id = canonicalID(id)
	if id == "" {
		return ""
	}
	return "<" + id + ">"
}

var (
	_ mail.Adapter         = (*Adapter)(nil)
	_ mail.Sender          = (*Adapter)(nil)
	_ mail.WebhookReceiver = (*Adapter)(nil)
)
