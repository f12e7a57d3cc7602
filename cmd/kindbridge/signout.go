// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSignoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Purge the persisted session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := wireApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Engine.SignOut(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "signed out: all session keys purged")
			return nil
		},
	}
}
