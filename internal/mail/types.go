// Package mail defines the transport-neutral email surface the
// orchestrator works against. Concrete transports live under adapters/
// and register themselves by name; callers discover capabilities through
// interface assertions on the registry.
package mail

import (
	"context"
	"fmt"
	"net/http"
	netmail "net/mail"
	"strings"
	"time"
)

// AdapterName identifies a registered transport.
type AdapterName string

// InboundMessage is a received email normalized across transports.
// ThreadID is the opaque conversation key; for header-threaded
// transports it is the root Message-ID of the reply chain, empty for a
// message that starts its own conversation.
type InboundMessage struct {
	ID         string
	From       string
	To         []string
	Subject    string
	Body       string
	Snippet    string
	ThreadID   string
	ReceivedAt time.Time
}

// OutboundMessage is an email to send. A non-empty ThreadID threads the
// message into an existing conversation; InReplyTo is the specific
// message being answered when the caller knows it.
type OutboundMessage struct {
	To        []string
	Subject   string
	Body      string
	ThreadID  string
	InReplyTo string
}

// Receipt reports what a send produced. ThreadID is the conversation the
// message now belongs to, which for a fresh conversation is minted from
// the sent message itself.
type Receipt struct {
	MessageID string
	ThreadID  string
}

// InboundHandler consumes received messages. Returning an error tells
// the adapter delivery failed; adapters log it and keep going.
type InboundHandler func(ctx context.Context, msg InboundMessage) error

// Adapter is the base capability every transport has.
type Adapter interface {
	Name() AdapterName
}

// Sender delivers outbound messages.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (Receipt, error)
}

// Fetcher pulls recent inbox messages on demand, newest last. max caps
// the result size.
type Fetcher interface {
	FetchRecent(ctx context.Context, max int) ([]InboundMessage, error)
}

// ThreadReader looks up the messages of one conversation. Transports
// that cannot enumerate a thread simply do not implement this.
type ThreadReader interface {
	ThreadMessages(ctx context.Context, threadID string) ([]InboundMessage, error)
}

// MessageReader looks a single inbox message up by its id, for
// processing one named event on demand. Nil result means not found.
type MessageReader interface {
	MessageByID(ctx context.Context, id string) (*InboundMessage, error)
}

// Receiver pushes inbound messages to a handler until stopped.
type Receiver interface {
	StartReceiving(ctx context.Context, handler InboundHandler) (Stopper, error)
}

// Stopper tears down a receiving connection.
type Stopper interface {
	Stop(ctx context.Context) error
}

// WebhookReceiver parses a transport's inbound webhook request.
type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, r *http.Request) (*InboundMessage, error)
}

// BareAddress extracts the address part of "Name <addr>" forms, lowered
// for comparison.
func BareAddress(s string) (string, error) {
	parsed, err := netmail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", s, err)
	}
	return strings.ToLower(parsed.Address), nil
}

// SameAddress compares two addresses ignoring display names and case.
// Unparseable input never matches.
func SameAddress(a, b string) bool {
	pa, err := BareAddress(a)
	if err != nil {
		return false
	}
	pb, err := BareAddress(b)
	if err != nil {
		return false
	}
	return pa == pb
}
