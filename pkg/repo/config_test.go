package repo

import (
	"strings"
	"testing"

	"github.com/opentree-fs/ostree-core/pkg/mode"
)

func TestParseConfigRoundTrip(t *testing.T) {
	text := `[core]
repo_version=1
mode=archive-z2

[remote "origin"]
url=https://example.invalid/repo
gpg-verify=true
`
	cfg, err := parseConfig([]byte(text))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if got := cfg.GetString("core", "mode", ""); got != "archive-z2" {
		t.Fatalf("core.mode = %q, want archive-z2", got)
	}
	names := cfg.remoteNames()
	if len(names) != 1 || names[0] != "origin" {
		t.Fatalf("remoteNames() = %v, want [origin]", names)
	}

	serialized := serializeConfig(cfg)
	reparsed, err := parseConfig(serialized)
	if err != nil {
		t.Fatalf("reparse serialized config: %v", err)
	}
	if got := reparsed.GetBool("remote \"origin\"", "gpg-verify", false); !got {
		t.Fatal("round-tripped gpg-verify = false, want true")
	}
}

func TestParseConfigQuotedSubsection(t *testing.T) {
	cfg, err := parseConfig([]byte(`[remote "my remote"]
url=file:///tmp/x
`))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	names := cfg.remoteNames()
	if len(names) != 1 || names[0] != "my remote" {
		t.Fatalf("remoteNames() = %v, want [\"my remote\"]", names)
	}
}

func TestParseConfigRejectsLineOutsideSection(t *testing.T) {
	if _, err := parseConfig([]byte("key=value\n")); err == nil {
		t.Fatal("parseConfig with no section header = nil error, want error")
	}
}

func TestDeriveSettingsRejectsObsoleteArchive(t *testing.T) {
	cfg, err := parseConfig([]byte("[core]\narchive=true\nrepo_version=1\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if _, err := deriveSettings(cfg); err != ErrObsoleteArchiveConfig {
		t.Fatalf("deriveSettings error = %v, want ErrObsoleteArchiveConfig", err)
	}
}

func TestDeriveSettingsRejectsWrongRepoVersion(t *testing.T) {
	cfg, err := parseConfig([]byte("[core]\nrepo_version=2\nmode=bare\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if _, err := deriveSettings(cfg); err == nil {
		t.Fatal("deriveSettings with repo_version=2 = nil error, want error")
	}
}

func TestDeriveSettingsRejectsExcessiveMinFreeSpace(t *testing.T) {
	cfg, err := parseConfig([]byte("[core]\nrepo_version=1\nmode=bare\nmin-free-space-percent=100\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if _, err := deriveSettings(cfg); err == nil {
		t.Fatal("deriveSettings with min-free-space-percent=100 = nil error, want error")
	}
}

func TestDeriveSettingsDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte("[core]\nrepo_version=1\nmode=bare-user\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	settings, err := deriveSettings(cfg)
	if err != nil {
		t.Fatalf("deriveSettings: %v", err)
	}
	if settings.Mode != mode.BareUser {
		t.Fatalf("Mode = %v, want BareUser", settings.Mode)
	}
	if !settings.Fsync {
		t.Fatal("Fsync default = false, want true")
	}
	if settings.ZlibLevel != 6 {
		t.Fatalf("ZlibLevel default = %d, want 6", settings.ZlibLevel)
	}
}

func TestClampZlibLevel(t *testing.T) {
	if got := clampZlibLevel(0); got != 1 {
		t.Fatalf("clampZlibLevel(0) = %d, want 1", got)
	}
	if got := clampZlibLevel(20); got != 9 {
		t.Fatalf("clampZlibLevel(20) = %d, want 9", got)
	}
	if got := clampZlibLevel(5); got != 5 {
		t.Fatalf("clampZlibLevel(5) = %d, want 5", got)
	}
}

func TestWriteConfigFileAtomic(t *testing.T) {
	dir := t.TempDir()
	cfg := newConfig()
	cfg.SetString("core", "repo_version", "1")
	if err := writeConfigFile(dir, cfg); err != nil {
		t.Fatalf("writeConfigFile: %v", err)
	}
	reloaded, err := loadConfigFile(dir)
	if err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if got := reloaded.GetString("core", "repo_version", ""); got != "1" {
		t.Fatalf("repo_version = %q, want 1", got)
	}
}

func TestParseRemoteSectionName(t *testing.T) {
	name, ok := parseRemoteSectionName(`remote "origin"`)
	if !ok || name != "origin" {
		t.Fatalf("parseRemoteSectionName = (%q, %v), want (origin, true)", name, ok)
	}
	if _, ok := parseRemoteSectionName("core"); ok {
		t.Fatal("parseRemoteSectionName(\"core\") = true, want false")
	}
}

func TestSerializeConfigProducesParsableIni(t *testing.T) {
	cfg := newConfig()
	cfg.SetString("core", "mode", "bare")
	data := serializeConfig(cfg)
	if !strings.Contains(string(data), "[core]") {
		t.Fatalf("serialized config missing [core] header: %q", data)
	}
}
