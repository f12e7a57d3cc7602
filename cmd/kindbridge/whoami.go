// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 KindBridge Contributors

package main

import (
	"encoding/json"
	"fmt"

	kberr "github.com/kindbridge/kindbridge/pkg/errors"
	"github.com/spf13/cobra"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the restored principal as JSON",
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
			if snap.Principal == nil {
				return kberr.New(kberr.CodeSessionNotReady, "no session: not signed in")
			}

			raw, err := json.MarshalIndent(snap.Principal, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}
}
