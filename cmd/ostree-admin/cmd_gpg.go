package main

import (
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/opentree-fs/ostree-core/pkg/checksum"
	"github.com/opentree-fs/ostree-core/pkg/repo"
	"github.com/spf13/cobra"
)

func newGpgSignCmd() *cobra.Command {
	var repoFlag, keyFile, passphrase string
	cmd := &cobra.Command{
		Use:   "gpg-sign <checksum>",
		Short: "Attach a detached OpenPGP signature to a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := repoDir(repoFlag)
			if err != nil {
				return err
			}
			r, err := repo.Open(dir)
			if err != nil {
				return err
			}
			sum, err := checksum.Parse(args[0])
			if err != nil {
				return err
			}

			signer, err := loadSigningKey(keyFile, passphrase)
			if err != nil {
				return err
			}

			return r.SignCommit(sum, signer)
		},
	}
	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository path")
	cmd.Flags().StringVar(&keyFile, "key", "", "path to an armored private key")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase protecting the private key, if any")
	return cmd
}

func newGpgVerifyCmd() *cobra.Command {
	var repoFlag, remoteName, keyringFile string
	cmd := &cobra.Command{
		Use:   "gpg-verify <checksum>",
		Short: "Verify a commit's detached signatures against a remote's keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := repoDir(repoFlag)
			if err != nil {
				return err
			}
			r, err := repo.Open(dir)
			if err != nil {
				return err
			}
			sum, err := checksum.Parse(args[0])
			if err != nil {
				return err
			}

			keyring, err := r.LoadKeyring(remoteName, keyringFile)
			if err != nil {
				return err
			}
			if err := r.VerifyCommit(sum, keyring); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signature OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository path")
	cmd.Flags().StringVar(&remoteName, "remote", "*", `remote whose keyring to verify against ("*" for the union of all)`)
	cmd.Flags().StringVar(&keyringFile, "keyring", "", "extra keyring file to include")
	return cmd
}

// loadSigningKey reads an armored private key file and returns its first
// entity, decrypting the private key if it is passphrase-protected.
func loadSigningKey(path, passphrase string) (*openpgp.Entity, error) {
	if path == "" {
		return nil, fmt.Errorf("gpg-sign: --key is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gpg-sign: open key file: %w", err)
	}
	defer f.Close()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("gpg-sign: parse key file: %w", err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("gpg-sign: key file contains no entities")
	}
	signer := entities[0]

	if signer.PrivateKey != nil && signer.PrivateKey.Encrypted {
		if passphrase == "" {
			return nil, fmt.Errorf("gpg-sign: private key is passphrase-protected, pass --passphrase")
		}
		if err := signer.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return nil, fmt.Errorf("gpg-sign: decrypt private key: %w", err)
		}
	}
	return signer, nil
}
