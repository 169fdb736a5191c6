package main

import (
	"fmt"
	"io"

	"github.com/opentree-fs/ostree-core/pkg/checksum"
	"github.com/opentree-fs/ostree-core/pkg/object"
	"github.com/opentree-fs/ostree-core/pkg/repo"
	"github.com/spf13/cobra"
)

func newCatObjectCmd() *cobra.Command {
	var repoFlag string
	cmd := &cobra.Command{
		Use:   "cat-object <type> <checksum>",
		Short: "Dump a loose object's decoded form",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := repoDir(repoFlag)
			if err != nil {
				return err
			}
			r, err := repo.Open(dir)
			if err != nil {
				return err
			}

			objType, ok := parseObjectTypeArg(args[0])
			if !ok {
				return fmt.Errorf("unknown object type %q", args[0])
			}
			sum, err := checksum.Parse(args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch objType {
			case object.TypeCommit:
				c, err := r.LoadCommit(sum)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "root-tree %s\nroot-meta %s\nparent %s\nsubject %s\ntimestamp %d\n",
					c.RootTree, c.RootMeta, c.Parent, c.Subject, c.Timestamp)
				for k, v := range c.Metadata {
					fmt.Fprintf(out, "metadata %s %s\n", k, v)
				}
			case object.TypeCommitMeta:
				m, err := r.LoadCommitMeta(sum)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "gpgsigs %d\n", len(m.GpgSigs))
				for k, v := range m.Extra {
					fmt.Fprintf(out, "extra %s %s\n", k, v)
				}
			case object.TypeDirTree:
				dt, err := r.LoadDirTree(sum)
				if err != nil {
					return err
				}
				for _, e := range dt.Entries {
					if e.IsDir {
						fmt.Fprintf(out, "dir  %s tree=%s meta=%s\n", e.Name, e.TreeSum, e.DirMetaSum)
					} else {
						fmt.Fprintf(out, "file %s sum=%s\n", e.Name, e.FileSum)
					}
				}
			case object.TypeDirMeta:
				dm, err := r.LoadDirMeta(sum)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "uid %d\ngid %d\nmode %o\nxattrs %d\n", dm.UID, dm.GID, dm.Mode, len(dm.Xattrs))
			case object.TypeFile:
				content, meta, err := r.LoadFile(sum)
				if err != nil {
					return err
				}
				defer content.Close()
				if meta.IsLink {
					fmt.Fprintf(out, "symlink -> %s\nuid %d\ngid %d\n", meta.LinkTo, meta.UID, meta.GID)
					return nil
				}
				fmt.Fprintf(out, "uid %d\ngid %d\nmode %o\nxattrs %d\n", meta.UID, meta.GID, meta.Mode, len(meta.Xattrs))
				_, err = io.Copy(out, content)
				return err
			default:
				return fmt.Errorf("cat-object: unsupported type %q", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository path")
	return cmd
}

// parseObjectTypeArg maps the CLI's object-type argument to an object.Type.
func parseObjectTypeArg(s string) (object.Type, bool) {
	switch s {
	case "file":
		return object.TypeFile, true
	case "dirtree":
		return object.TypeDirTree, true
	case "dirmeta":
		return object.TypeDirMeta, true
	case "commit":
		return object.TypeCommit, true
	case "commitmeta":
		return object.TypeCommitMeta, true
	case "tombstone-commit":
		return object.TypeTombstoneCommit, true
	default:
		return "", false
	}
}
