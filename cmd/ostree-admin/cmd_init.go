package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/repo"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var modeFlag string
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}

			m, err := mode.Parse(modeFlag)
			if err != nil {
				return err
			}

			r, err := repo.Create(abs, m)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s repository at %s\n", r.Mode, r.Dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", "bare", "storage mode: bare, bare-user, bare-user-only, archive-z2")
	return cmd
}
