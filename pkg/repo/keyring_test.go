package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opentree-fs/ostree-core/pkg/mode"
)

func TestLoadKeyringFromRemoteFile(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.AddRemote("origin", "https://example.invalid/repo", AddRemoteOptions{}); err != nil {
		t.Fatalf("AddRemote: %v", err)
	}

	signer := newTestEntity(t)
	f, err := os.Create(filepath.Join(dir, "origin.trustedkeys.gpg"))
	if err != nil {
		t.Fatalf("create keyring file: %v", err)
	}
	if err := signer.Serialize(f); err != nil {
		f.Close()
		t.Fatalf("serialize entity: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close keyring file: %v", err)
	}

	keyring, err := r.LoadKeyring("origin", "")
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	if len(keyring) != 1 {
		t.Fatalf("LoadKeyring returned %d entities, want 1", len(keyring))
	}
}

func TestLoadKeyringUnionSentinel(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if err := r.AddRemote(name, "https://example.invalid/"+name, AddRemoteOptions{}); err != nil {
			t.Fatalf("AddRemote(%s): %v", name, err)
		}
		signer := newTestEntity(t)
		f, err := os.Create(filepath.Join(dir, name+".trustedkeys.gpg"))
		if err != nil {
			t.Fatalf("create keyring file: %v", err)
		}
		if err := signer.Serialize(f); err != nil {
			f.Close()
			t.Fatalf("serialize entity: %v", err)
		}
		f.Close()
	}

	keyring, err := r.LoadKeyring("*", "")
	if err != nil {
		t.Fatalf("LoadKeyring(*): %v", err)
	}
	if len(keyring) != 2 {
		t.Fatalf("LoadKeyring(*) returned %d entities, want 2", len(keyring))
	}
}

func TestLoadKeyringMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.AddRemote("origin", "https://example.invalid/repo", AddRemoteOptions{}); err != nil {
		t.Fatalf("AddRemote: %v", err)
	}
	keyring, err := r.LoadKeyring("origin", "")
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	if len(keyring) != 0 {
		t.Fatalf("LoadKeyring with no keyring file = %d entities, want 0", len(keyring))
	}
}
