package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "ostree-admin",
		Short: "Administer a local content-addressed object store repository",
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newCatObjectCmd())
	root.AddCommand(newLsObjectsCmd())
	root.AddCommand(newRemoteCmd())
	root.AddCommand(newSummaryCmd())
	root.AddCommand(newGpgSignCmd())
	root.AddCommand(newGpgVerifyCmd())
	root.AddCommand(newFsckCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ostree-admin 0.1.0-dev")
		},
	}
}

// repoDir resolves the repository directory per spec.md §6's default repo
// discovery: explicit flag, else cwd if it looks like a repo, else
// $OSTREE_REPO, else "<sysroot>/ostree/repo".
func repoDir(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if looksLikeRepo(".") {
		return ".", nil
	}
	if v := os.Getenv("OSTREE_REPO"); v != "" {
		return v, nil
	}
	sysroot := os.Getenv("OSTREE_SYSROOT")
	if sysroot == "" {
		sysroot = "/"
	}
	return sysroot + "/ostree/repo", nil
}

func looksLikeRepo(dir string) bool {
	_, errObjects := os.Stat(dir + "/objects")
	_, errConfig := os.Stat(dir + "/config")
	return errObjects == nil && errConfig == nil
}
