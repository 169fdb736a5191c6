package main

import (
	"fmt"
	"sort"

	"github.com/opentree-fs/ostree-core/pkg/repo"
	"github.com/spf13/cobra"
)

func newLsObjectsCmd() *cobra.Command {
	var repoFlag string
	var noParent bool
	cmd := &cobra.Command{
		Use:   "ls-objects",
		Short: "List every loose object in the repository",
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

			objs, err := r.ListObjects(repo.ListObjectsOptions{NoParent: noParent})
			if err != nil {
				return err
			}

			lines := make([]string, 0, len(objs))
			for key := range objs {
				lines = append(lines, fmt.Sprintf("%s.%s", key.Sum, key.Type))
			}
			sort.Strings(lines)
			for _, line := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository path")
	cmd.Flags().BoolVar(&noParent, "no-parent", false, "don't recurse into the parent repository")
	return cmd
}
