package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/caseflowai/caseflow/internal/mail"
)

// Poller drives the pipeline from a mailbox on a fixed schedule. Runs
// never overlap: a tick that fires while the previous poll is still
// going is skipped.
type Poller struct {
	fetcher    mail.Fetcher
	orch       *Orchestrator
	interval   time.Duration
	maxPerPoll int
	cron       *cron.Cron
	running    atomic.Bool
	log        *slog.Logger
}

func NewPoller(log *slog.Logger, fetcher mail.Fetcher, orch *Orchestrator, interval time.Duration, maxPerPoll int) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxPerPoll <= 0 {
		maxPerPoll = 5
	}
	return &Poller{
		fetcher:    fetcher,
		orch:       orch,
		interval:   interval,
		maxPerPoll: maxPerPoll,
		cron:       cron.New(),
		log:        log.With(slog.String("component", "poller")),
	}
}

// Start schedules the poll loop. The first poll happens one interval
// after Start, matching mailbox semantics where old mail is history, not
// work.
func (p *Poller) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %ds", int(p.interval.Seconds()))
	if _, err := p.cron.AddFunc(spec, func() { p.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	p.cron.Start()
	p.log.Info("poll loop started",
		slog.Duration("interval", p.interval),
		slog.Int("max_per_poll", p.maxPerPoll))
	return nil
}

// Stop halts the schedule and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
	p.log.Info("poll loop stopped")
}

func (p *Poller) tick(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Warn("previous poll still running, skipping tick")
		return
	}
	defer p.running.Store(false)

	if _, err := p.PollOnce(ctx); err != nil {
		p.log.Error("poll failed", slog.Any("error", err))
	}
}

// PollOnce fetches the most recent mailbox messages and runs each
// through the pipeline. It returns how many messages were newly
// processed. One message failing does not stop the rest; the first
// error is reported after the batch.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	msgs, err := p.fetcher.FetchRecent(ctx, p.maxPerPoll)
	if err != nil {
		return 0, fmt.Errorf("fetch recent: %w", err)
	}
	if len(msgs) == 0 {
		p.log.Debug("mailbox empty")
		return 0, nil
	}

	var processed int
	var firstErr error
	for _, msg := range msgs {
		if p.orch.tracker.Seen(msg.ID) {
			continue
		}
		res, err := p.orch.ProcessMessage(ctx, msg)
		if err != nil {
			p.log.Error("message processing failed",
				slog.String("message_id", msg.ID),
				slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.log.Info("message handled",
			slog.String("message_id", msg.ID),
			slog.String("status", string(res.Status)),
			slog.String("case_id", res.CaseID),
			slog.String("action", string(res.Action)))
		if res.Status == StatusProcessed {
			processed++
		}
	}
	return processed, firstErr
}
