package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflowai/caseflow/internal/cases"
	"github.com/caseflowai/caseflow/internal/config"
	"github.com/caseflowai/caseflow/internal/extract"
	"github.com/caseflowai/caseflow/internal/logger"
	"github.com/caseflowai/caseflow/internal/mail"
	genericmail "github.com/caseflowai/caseflow/internal/mail/adapters/generic"
	mailgunmail "github.com/caseflowai/caseflow/internal/mail/adapters/mailgun"
	"github.com/caseflowai/caseflow/internal/orchestrator"
	"github.com/caseflowai/caseflow/internal/templates"
	"github.com/caseflowai/caseflow/internal/workflow"
)

// runtime assembles the full intake pipeline outside of fx, for the
// one-shot commands. Close releases the store backend.
type runtime struct {
	cfg     config.Config
	log     *slog.Logger
	store   cases.Store
	mailReg *mail.Registry
	orch    *orchestrator.Orchestrator
	poller  *orchestrator.Poller
	cleanup func()
}

func (rt *runtime) Close() {
	if rt.cleanup != nil {
		rt.cleanup()
	}
}

func buildRuntime(ctx context.Context, cfgPath string) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log := logger.L

	wfReg := workflow.NewRegistry()
	store, cleanup, err := openStore(ctx, log, cfg, wfReg.NewCase)
	if err != nil {
		return nil, err
	}
	mailReg, err := buildMailRegistry(log, cfg)
	if err != nil {
		cleanup()
		return nil, err
	}
	orch, err := buildOrchestrator(log, cfg, wfReg, store, mailReg)
	if err != nil {
		cleanup()
		return nil, err
	}
	return &runtime{
		cfg:     cfg,
		log:     log,
		store:   store,
		mailReg: mailReg,
		orch:    orch,
		poller:  buildPoller(log, cfg, mailReg, orch),
		cleanup: cleanup,
	}, nil
}

func openStore(ctx context.Context, log *slog.Logger, cfg config.Config, factory cases.Factory) (cases.Store, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return cases.NewMemoryStore(factory), func() {}, nil
	case "", "file":
		return cases.NewFileStore(log, cfg.Store.Path, factory), func() {}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		store, err := cases.NewPGStore(ctx, log, pool, factory)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// buildMailRegistry registers every adapter whose credentials are
// present. The configured primary adapter must construct; the other is
// best effort so, for example, the Mailgun webhook route can stay live
// alongside an SMTP/IMAP primary.
func buildMailRegistry(log *slog.Logger, cfg config.Config) (*mail.Registry, error) {
	reg := mail.NewRegistry()

	gen, err := genericmail.New(log, genericConfig(cfg))
	if err == nil {
		reg.Register(gen)
	} else if cfg.Mail.Adapter == string(genericmail.Name) {
		return nil, err
	}

	mgn, err := mailgunmail.New(log, mailgunConfig(cfg))
	if err == nil {
		reg.Register(mgn)
	} else if cfg.Mail.Adapter == string(mailgunmail.Name) {
		return nil, err
	}

	if _, ok := reg.Get(mail.AdapterName(cfg.Mail.Adapter)); !ok {
		return nil, fmt.Errorf("mail adapter %q is not configured", cfg.Mail.Adapter)
	}
	return reg, nil
}

func genericConfig(cfg config.Config) genericmail.Config {
	g := cfg.Mail.Generic
	return genericmail.Config{
		Username:     g.Username,
		Password:     g.Password,
		SMTPHost:     g.SMTPHost,
		SMTPPort:     g.SMTPPort,
		SMTPSecurity: g.SMTPSecurity,
		IMAPHost:     g.IMAPHost,
		IMAPPort:     g.IMAPPort,
		IMAPSecurity: g.IMAPSecurity,
		PollInterval: cfg.Orchestrator.PollInterval(),
	}
}

func mailgunConfig(cfg config.Config) mailgunmail.Config {
	m := cfg.Mail.Mailgun
	return mailgunmail.Config{
		Domain:            m.Domain,
		APIKey:            m.APIKey,
		Region:            m.Region,
		WebhookSigningKey: m.WebhookSigningKey,
		From:              m.From,
	}
}

// selfAddress is the agent's own sending address, used to drop echoes
// of its outbound mail from the intake pipeline.
func selfAddress(cfg config.Config) string {
	if cfg.Mail.Adapter == string(mailgunmail.Name) {
		if cfg.Mail.Mailgun.From != "" {
			return cfg.Mail.Mailgun.From
		}
		if cfg.Mail.Mailgun.Domain != "" {
			return fmt.Sprintf("noreply@%s", cfg.Mail.Mailgun.Domain)
		}
		return ""
	}
	return cfg.Mail.Generic.Username
}

func buildExtractor(log *slog.Logger, cfg config.Config) extract.Extractor {
	client := extract.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout())
	return extract.NewLLM(client, log)
}

func buildOrchestrator(log *slog.Logger, cfg config.Config, wfReg *workflow.Registry, store cases.Store, mailReg *mail.Registry) (*orchestrator.Orchestrator, error) {
	adapter := mail.AdapterName(cfg.Mail.Adapter)
	sender, err := mailReg.Sender(adapter)
	if err != nil {
		return nil, err
	}
	threads, _ := mailReg.ThreadReader(adapter)

	executor := orchestrator.NewExecutor(store, wfReg, templates.NewRenderer(wfReg), sender, log)
	return orchestrator.New(log, orchestrator.Deps{
		Store:       store,
		Registry:    wfReg,
		Engine:      workflow.NewEngine(wfReg),
		Executor:    executor,
		Extractor:   buildExtractor(log, cfg),
		Tracker:     orchestrator.NewTracker(threads, log),
		SelfAddress: selfAddress(cfg),
		Allowlist:   cfg.Orchestrator.Allowlist,
	}), nil
}

// buildPoller returns nil when the configured adapter cannot fetch
// from a mailbox (webhook-only transports).
func buildPoller(log *slog.Logger, cfg config.Config, mailReg *mail.Registry, orch *orchestrator.Orchestrator) *orchestrator.Poller {
	fetcher, err := mailReg.Fetcher(mail.AdapterName(cfg.Mail.Adapter))
	if err != nil {
		log.Info("mailbox polling disabled", slog.Any("reason", err))
		return nil
	}
	return orchestrator.NewPoller(log, fetcher, orch, cfg.Orchestrator.PollInterval(), cfg.Orchestrator.MaxPerPoll)
}
