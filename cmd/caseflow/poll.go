package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newPollCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Sweep the mailbox for new messages and process them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, resolveConfigPath())
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.poller == nil {
				return fmt.Errorf("mail adapter %q cannot fetch from a mailbox", rt.cfg.Mail.Adapter)
			}

			if !watch {
				processed, err := rt.poller.PollOnce(ctx)
				if err != nil {
					return err
				}
				rt.log.Info("poll complete", slog.Int("processed", processed))
				return nil
			}

			ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := rt.poller.Start(ctx); err != nil {
				return err
			}
			rt.log.Info("polling mailbox",
				slog.Duration("interval", rt.cfg.Orchestrator.PollInterval()),
				slog.Int("max_per_poll", rt.cfg.Orchestrator.MaxPerPoll))
			<-ctx.Done()
			rt.poller.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep polling on the configured interval until interrupted")
	return cmd
}
