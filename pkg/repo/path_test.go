package repo

import (
	"testing"

	"github.com/opentree-fs/ostree-core/pkg/checksum"
	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/object"
)

func TestLoosePathFanout(t *testing.T) {
	sum := checksum.Sum([]byte("content"))
	path, err := LoosePath("/repo/objects", sum, object.TypeCommit, mode.Bare)
	if err != nil {
		t.Fatalf("LoosePath: %v", err)
	}
	want := "/repo/objects/" + sum.FanoutDir() + "/" + sum.FanoutRest() + ".commit"
	if path != want {
		t.Fatalf("LoosePath = %q, want %q", path, want)
	}
}

func TestLoosePathFileExtensionByMode(t *testing.T) {
	sum := checksum.Sum([]byte("content"))
	bare, err := LoosePath("/repo/objects", sum, object.TypeFile, mode.Bare)
	if err != nil {
		t.Fatalf("LoosePath(bare): %v", err)
	}
	if got := bare[len(bare)-4:]; got != "file" {
		t.Fatalf("bare extension = %q, want file", got)
	}

	archive, err := LoosePath("/repo/objects", sum, object.TypeFile, mode.Archive)
	if err != nil {
		t.Fatalf("LoosePath(archive): %v", err)
	}
	if got := archive[len(archive)-5:]; got != "filez" {
		t.Fatalf("archive extension = %q, want filez", got)
	}
}

func TestEnumeratePrefixesCovers256(t *testing.T) {
	prefixes := EnumeratePrefixes()
	if len(prefixes) != 256 {
		t.Fatalf("EnumeratePrefixes() has %d entries, want 256", len(prefixes))
	}
}
