// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/streamkeeper/internal/persistence/sqlite"
)

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Maintain the embedded recording journal",
	}
	cmd.AddCommand(newJournalVerifyCmd())
	return cmd
}

func newJournalVerifyCmd() *cobra.Command {
	var (
		path string
		mode string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the sqlite journal for corruption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode != "quick" && mode != "full" {
				return fmt.Errorf("unknown mode %q (want quick or full)", mode)
			}
			issues, err := sqlite.VerifyIntegrity(path, mode)
			if err != nil {
				return err
			}
			if len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", issue)
				}
				return errors.New("journal integrity check failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", path, mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "path to the sqlite journal")
	cmd.Flags().StringVar(&mode, "mode", "quick", "check mode: quick or full")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}
