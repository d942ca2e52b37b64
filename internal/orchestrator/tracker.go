package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/caseflowai/caseflow/internal/mail"
)

// Counters are the intake totals surfaced on the health endpoint.
type Counters struct {
	Processed  uint64 `json:"processed"`
	Duplicates uint64 `json:"duplicates"`
	Stale      uint64 `json:"stale"`
	Ignored    uint64 `json:"ignored"`
	Failures   uint64 `json:"failures"`
}

// Tracker decides whether an inbound message should enter the pipeline.
// It remembers processed message IDs for the life of the process and,
// when the transport can enumerate threads, rejects messages that are no
// longer the newest in their conversation. A restart forgets the ledger;
// replays are then caught by the merge rules downstream, which never
// regress known data.
type Tracker struct {
	mu        sync.Mutex
	processed map[string]struct{}
	inflight  map[string]struct{}
	threads   mail.ThreadReader // nil when the transport has no mailbox
	log       *slog.Logger
	counters  Counters
}

func NewTracker(threads mail.ThreadReader, log *slog.Logger) *Tracker {
	return &Tracker{
		processed: make(map[string]struct{}),
		inflight:  make(map[string]struct{}),
		threads:   threads,
		log:       log.With(slog.String("component", "tracker")),
	}
}

// Admit reports whether the message should be processed. A false return
// carries the reason ("duplicate" or "stale"). Admission reserves the
// id, so the same message arriving again while the first delivery is
// still in flight is a duplicate; the reservation resolves through
// MarkProcessed on success or Release on failure. Thread lookups that
// fail admit the message; dropping mail on a flaky mailbox loses data,
// while admitting at worst reprocesses it.
func (t *Tracker) Admit(ctx context.Context, msg mail.InboundMessage) (bool, string) {
	t.mu.Lock()
	_, seen := t.processed[msg.ID]
	if !seen {
		_, seen = t.inflight[msg.ID]
	}
	if !seen {
		t.inflight[msg.ID] = struct{}{}
	}
	t.mu.Unlock()
	if seen {
		t.count(func(c *Counters) { c.Duplicates++ })
		return false, "duplicate"
	}

	if t.threads != nil && msg.ThreadID != "" && !msg.ReceivedAt.IsZero() {
		history, err := t.threads.ThreadMessages(ctx, msg.ThreadID)
		if err != nil {
			t.log.Warn("thread lookup failed, admitting message",
				slog.String("thread_id", msg.ThreadID),
				slog.Any("error", err))
		} else {
			for _, m := range history {
				if m.ID != msg.ID && m.ReceivedAt.After(msg.ReceivedAt) {
					t.Release(msg.ID)
					t.count(func(c *Counters) { c.Stale++ })
					return false, "stale"
				}
			}
		}
	}

	return true, ""
}

// MarkProcessed records a message so later polls skip it. Failed
// messages are deliberately not marked, which retries them on the next
// poll.
func (t *Tracker) MarkProcessed(id string) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.processed[id] = struct{}{}
	t.mu.Unlock()
}

// Release drops an admission reservation without marking the message
// processed, so a failed delivery stays retryable.
func (t *Tracker) Release(id string) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.mu.Unlock()
}

// Seen reports whether a message id is already in the ledger.
func (t *Tracker) Seen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.processed[id]
	return ok
}

func (t *Tracker) count(fn func(*Counters)) {
	t.mu.Lock()
	fn(&t.counters)
	t.mu.Unlock()
}

// CountProcessed, CountIgnored, and CountFailure let the pipeline record
// outcomes the tracker cannot see itself.
func (t *Tracker) CountProcessed() { t.count(func(c *Counters) { c.Processed++ }) }
func (t *Tracker) CountIgnored()   { t.count(func(c *Counters) { c.Ignored++ }) }
func (t *Tracker) CountFailure()   { t.count(func(c *Counters) { c.Failures++ }) }

// Snapshot returns a copy of the intake counters.
func (t *Tracker) Snapshot() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}
