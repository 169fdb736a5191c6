package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// signatureEngine wraps the process-wide OpenPGP state behind a lazy,
// once-initialized handle, replacing the "ambient global state" of a C
// library's one-time init with an explicit guarded value (Design Notes).
type signatureEngine struct {
	mu          sync.Mutex
	signingKeys openpgp.EntityList
}

// signatureEngineOnce guards the process-wide lazy init the teacher's
// GPG-equivalent subsystem would otherwise perform implicitly on first use.
var (
	signatureEngineOnce sync.Once
	globalSignatureInit error
)

func initSignatureEngine() {
	signatureEngineOnce.Do(func() {
		// No process-wide state to set up for go-crypto/openpgp beyond this
		// guard itself; the hook exists so a future global keyring cache or
		// entropy source has one place to initialize exactly once.
	})
}

// LoadKeyring is the exported entry point to loadKeyring, for callers
// outside the package (e.g. the admin CLI's gpg-verify command) that need
// to assemble a verification keyring without reaching into repo internals.
func (r *Repo) LoadKeyring(remoteName, extraKeyringFile string) (openpgp.EntityList, error) {
	return r.loadKeyring(remoteName, extraKeyringFile)
}

// loadKeyring builds the composed keyring used to verify a remote's
// signatures: the per-remote keyring file (repo, then remotes drop-in dir,
// then parent repo), an optional gpgkeypath option, the global keyring dir
// named by $OSTREE_GPG_HOME, and an optional single extra keyring file. No
// separate override keyring directory is consulted. The sentinel remote
// name "*" requests the union of every remote's keyring.
func (r *Repo) loadKeyring(remoteName string, extraKeyringFile string) (openpgp.EntityList, error) {
	initSignatureEngine()
	if globalSignatureInit != nil {
		return nil, globalSignatureInit
	}

	var keyring openpgp.EntityList

	names := []string{remoteName}
	if remoteName == "*" {
		names = r.ListRemotes()
	}
	for _, name := range names {
		entities, err := r.loadRemoteKeyringFile(name)
		if err != nil {
			return nil, err
		}
		keyring = append(keyring, entities...)
	}

	if gpgKeyPath := r.RemoteGetString(remoteName, "gpgkeypath", ""); gpgKeyPath != "" {
		entities, err := readKeyringFile(gpgKeyPath)
		if err != nil {
			return nil, err
		}
		keyring = append(keyring, entities...)
	}

	if globalDir := os.Getenv("OSTREE_GPG_HOME"); globalDir != "" {
		entities, err := readKeyringDir(globalDir)
		if err != nil {
			return nil, err
		}
		keyring = append(keyring, entities...)
	}

	if extraKeyringFile != "" {
		entities, err := readKeyringFile(extraKeyringFile)
		if err != nil {
			return nil, err
		}
		keyring = append(keyring, entities...)
	}

	return keyring, nil
}

// loadRemoteKeyringFile searches the repo, the remotes drop-in dir, then
// the parent repo for name's keyring file.
func (r *Repo) loadRemoteKeyringFile(name string) (openpgp.EntityList, error) {
	candidates := []string{
		filepath.Join(r.Dir, name+".trustedkeys.gpg"),
		filepath.Join(r.dropinDir(), name+".trustedkeys.gpg"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return readKeyringFile(path)
		}
	}
	if r.Parent != nil {
		return r.Parent.loadRemoteKeyringFile(name)
	}
	return nil, nil
}

func readKeyringFile(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo: open keyring %s: %w", path, err)
	}
	defer f.Close()
	entities, err := openpgp.ReadKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("repo: parse keyring %s: %w", path, err)
	}
	return entities, nil
}

func readKeyringDir(dir string) (openpgp.EntityList, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: read keyring dir %s: %w", dir, err)
	}
	var out openpgp.EntityList
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		entities, err := readKeyringFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, entities...)
	}
	return out, nil
}
