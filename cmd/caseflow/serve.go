package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/caseflowai/caseflow/internal/cases"
	"github.com/caseflowai/caseflow/internal/config"
	"github.com/caseflowai/caseflow/internal/extract"
	"github.com/caseflowai/caseflow/internal/handlers"
	"github.com/caseflowai/caseflow/internal/logger"
	"github.com/caseflowai/caseflow/internal/mail"
	"github.com/caseflowai/caseflow/internal/orchestrator"
	"github.com/caseflowai/caseflow/internal/server"
	"github.com/caseflowai/caseflow/internal/templates"
	"github.com/caseflowai/caseflow/internal/workflow"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and mail intake loops",
		Run: func(*cobra.Command, []string) {
			runServe()
		},
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			workflow.NewRegistry,
			workflow.NewEngine,
			templates.NewRenderer,
			provideStore,
			provideMailRegistry,
			provideSender,
			provideThreadReader,
			provideMessageReader,
			provideExtractor,
			orchestrator.NewTracker,
			orchestrator.NewExecutor,
			provideOrchestrator,
			providePoller,
			provideServerHandler(provideHealthHandler),
			provideServerHandler(handlers.NewCasesHandler),
			provideServerHandler(handlers.NewWebhookHandler),
			provideServer,
		),
		fx.Invoke(
			startReceiver,
			startPoller,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, wfReg *workflow.Registry) (cases.Store, error) {
	store, cleanup, err := openStore(context.Background(), log, cfg, wfReg.NewCase)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { cleanup(); return nil }})
	return store, nil
}

func provideMailRegistry(log *slog.Logger, cfg config.Config) (*mail.Registry, error) {
	return buildMailRegistry(log, cfg)
}

func provideSender(mailReg *mail.Registry, cfg config.Config) (mail.Sender, error) {
	return mailReg.Sender(mail.AdapterName(cfg.Mail.Adapter))
}

func provideThreadReader(mailReg *mail.Registry, cfg config.Config) mail.ThreadReader {
	threads, _ := mailReg.ThreadReader(mail.AdapterName(cfg.Mail.Adapter))
	return threads
}

func provideMessageReader(mailReg *mail.Registry, cfg config.Config) mail.MessageReader {
	messages, _ := mailReg.MessageReader(mail.AdapterName(cfg.Mail.Adapter))
	return messages
}

func provideExtractor(log *slog.Logger, cfg config.Config) extract.Extractor {
	return buildExtractor(log, cfg)
}

func provideOrchestrator(log *slog.Logger, cfg config.Config, store cases.Store, wfReg *workflow.Registry, engine *workflow.Engine, executor *orchestrator.Executor, extractor extract.Extractor, tracker *orchestrator.Tracker) *orchestrator.Orchestrator {
	return orchestrator.New(log, orchestrator.Deps{
		Store:       store,
		Registry:    wfReg,
		Engine:      engine,
		Executor:    executor,
		Extractor:   extractor,
		Tracker:     tracker,
		SelfAddress: selfAddress(cfg),
		Allowlist:   cfg.Orchestrator.Allowlist,
	})
}

func providePoller(log *slog.Logger, cfg config.Config, mailReg *mail.Registry, orch *orchestrator.Orchestrator) *orchestrator.Poller {
	return buildPoller(log, cfg, mailReg, orch)
}

func provideHealthHandler(log *slog.Logger, orch *orchestrator.Orchestrator, cfg config.Config) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log, orch, cfg.Orchestrator.PollInterval(), cfg.Orchestrator.MaxPerPoll)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	addr := params.Config.Server.Addr
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	return server.New(params.Logger, addr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

// startReceiver hooks the push channel of the configured adapter into
// the pipeline. Transports without one (webhook based) are skipped.
func startReceiver(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, mailReg *mail.Registry, orch *orchestrator.Orchestrator) {
	recv, ok := mailReg.Receiver(mail.AdapterName(cfg.Mail.Adapter))
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	var stopper mail.Stopper
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s, err := recv.StartReceiving(ctx, func(ctx context.Context, msg mail.InboundMessage) error {
				_, err := orch.ProcessMessage(ctx, msg)
				return err
			})
			if err != nil {
				return fmt.Errorf("start mail receiver: %w", err)
			}
			stopper = s
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if stopper != nil {
				return stopper.Stop(stopCtx)
			}
			return nil
		},
	})
}

func startPoller(lc fx.Lifecycle, log *slog.Logger, poller *orchestrator.Poller) {
	if poller == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return poller.Start(ctx) },
		OnStop:  func(context.Context) error { cancel(); poller.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
