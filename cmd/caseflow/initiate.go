package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newInitiateCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "initiate",
		Short: "Open a case by sending the first information request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime(cmd.Context(), resolveConfigPath())
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.orch.Initiate(cmd.Context(), email)
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
	cmd.Flags().StringVar(&email, "email", "", "employee email address to contact")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
