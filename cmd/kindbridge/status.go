// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Restore the persisted session and print the engine state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := wireApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Engine.Initialize(cmd.Context()); err != nil {
				return err
			}

			snap := app.Engine.Snapshot()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "authenticated: %v\n", snap.IsAuthenticated)
			fmt.Fprintf(out, "guest mode:    %v\n", snap.IsGuestMode)
			fmt.Fprintf(out, "auth mode:     %s\n", snap.Mode)
			fmt.Fprintf(out, "role:          %s\n", snap.Role)
			if snap.Principal != nil {
				fmt.Fprintf(out, "principal:     %s <%s>\n", snap.Principal.Name, snap.Principal.Email)
			}
			return nil
		},
	}
}
