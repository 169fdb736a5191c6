package main

import (
	"fmt"

	"github.com/opentree-fs/ostree-core/pkg/repo"
	"github.com/spf13/cobra"
)

func newSummaryCmd() *cobra.Command {
	var repoFlag string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Regenerate the repository's summary file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := repoDir(repoFlag)
			if err != nil {
				return err
			}
			r, err := repo.Open(dir)
			if err != nil {
				return err
			}

			lock, err := r.Lock()
			if err != nil {
				return err
			}
			defer lock.Unlock()

			s, err := r.RegenerateSummary()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote summary: %d refs, %d static deltas\n", len(s.Refs), len(s.StaticDeltas))
			return nil
		},
	}
	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository path")
	return cmd
}
