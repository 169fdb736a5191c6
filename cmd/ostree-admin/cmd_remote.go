package main

import (
	"fmt"

	"github.com/opentree-fs/ostree-core/pkg/repo"
	"github.com/spf13/cobra"
)

func newRemoteCmd() *cobra.Command {
	var repoFlag string
	root := &cobra.Command{
		Use:   "remote",
		Short: "Manage configured remotes",
	}
	root.PersistentFlags().StringVar(&repoFlag, "repo", "", "repository path")

	root.AddCommand(newRemoteAddCmd(&repoFlag))
	root.AddCommand(newRemoteDeleteCmd(&repoFlag))
	root.AddCommand(newRemoteListCmd(&repoFlag))
	return root
}

func newRemoteAddCmd(repoFlag *string) *cobra.Command {
	var ifNotExists bool
	var noGPGVerify bool
	cmd := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add a remote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := repoDir(*repoFlag)
			if err != nil {
				return err
			}
			r, err := repo.Open(dir)
			if err != nil {
				return err
			}
			opts := repo.AddRemoteOptions{IfNotExists: ifNotExists, Options: map[string]string{}}
			if noGPGVerify {
				opts.Options["gpg-verify"] = "false"
			}
			return r.AddRemote(args[0], args[1], opts)
		},
	}
	cmd.Flags().BoolVar(&ifNotExists, "if-not-exists", false, "do not fail if the remote already exists")
	cmd.Flags().BoolVar(&noGPGVerify, "no-gpg-verify", false, "disable signature verification for this remote")
	return cmd
}

func newRemoteDeleteCmd(repoFlag *string) *cobra.Command {
	var ifExists bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := repoDir(*repoFlag)
			if err != nil {
				return err
			}
			r, err := repo.Open(dir)
			if err != nil {
				return err
			}
			return r.DeleteRemote(args[0], repo.DeleteRemoteOptions{IfExists: ifExists})
		},
	}
	cmd.Flags().BoolVar(&ifExists, "if-exists", false, "do not fail if the remote does not exist")
	return cmd
}

func newRemoteListCmd(repoFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := repoDir(*repoFlag)
			if err != nil {
				return err
			}
			r, err := repo.Open(dir)
			if err != nil {
				return err
			}
			for _, name := range r.ListRemotes() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
