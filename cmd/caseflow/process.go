package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caseflowai/caseflow/internal/mail"
)

func newProcessCmd() *cobra.Command {
	var messageID string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process the most recent inbox message, or one named by id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, resolveConfigPath())
			if err != nil {
				return err
			}
			defer rt.Close()

			adapter := mail.AdapterName(rt.cfg.Mail.Adapter)

			var msg *mail.InboundMessage
			if messageID != "" {
				reader, ok := rt.mailReg.MessageReader(adapter)
				if !ok {
					return fmt.Errorf("mail adapter %q cannot look messages up by id", adapter)
				}
				msg, err = reader.MessageByID(ctx, messageID)
				if err != nil {
					return err
				}
				if msg == nil {
					return fmt.Errorf("message %q not found", messageID)
				}
			} else {
				fetcher, err := rt.mailReg.Fetcher(adapter)
				if err != nil {
					return err
				}
				recent, err := fetcher.FetchRecent(ctx, 1)
				if err != nil {
					return err
				}
				if len(recent) == 0 {
					fmt.Println("inbox is empty")
					return nil
				}
				msg = &recent[len(recent)-1]
			}

			res, err := rt.orch.ProcessMessage(ctx, *msg)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&messageID, "message-id", "", "process a specific message instead of the newest one")
	return cmd
}
