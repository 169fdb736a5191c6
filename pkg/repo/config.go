package repo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/repoerr"
)

// Config is the parsed repository config file: an ordered list of sections
// (each either "core" or `remote "name"`), each holding an ordered list of
// key/value pairs. This is deliberately hand-rolled rather than a TOML
// parser: the on-disk format is git/ostree-style INI ("[core]",
// `[remote "origin"]`), a grammar TOML does not accept (quoted subsection
// names, '#'/';' comments, bare unquoted values).
type Config struct {
	sections []*configSection
}

type configSection struct {
	name    string // "core" or `remote "origin"`
	entries []configEntry
}

type configEntry struct {
	key   string
	value string
}

func newConfig() *Config {
	return &Config{}
}

func (c *Config) section(name string) *configSection {
	for _, s := range c.sections {
		if s.name == name {
			return s
		}
	}
	return nil
}

func (c *Config) ensureSection(name string) *configSection {
	if s := c.section(name); s != nil {
		return s
	}
	s := &configSection{name: name}
	c.sections = append(c.sections, s)
	return s
}

func (s *configSection) getOK(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].key == key {
			return s.entries[i].value, true
		}
	}
	return "", false
}

func (s *configSection) set(key, value string) {
	for i := range s.entries {
		if s.entries[i].key == key {
			s.entries[i].value = value
			return
		}
	}
	s.entries = append(s.entries, configEntry{key: key, value: value})
}

// GetString returns the value of "<section>.<key>" or def if absent.
func (c *Config) GetString(section, key, def string) string {
	v, ok := c.section(section).getOK(key)
	if !ok {
		return def
	}
	return v
}

// GetBool returns the boolean value of "<section>.<key>" or def if absent
// or unparseable.
func (c *Config) GetBool(section, key string, def bool) bool {
	v, ok := c.section(section).getOK(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// GetInt returns the integer value of "<section>.<key>" or def if absent or
// unparseable.
func (c *Config) GetInt(section, key string, def int) int {
	v, ok := c.section(section).getOK(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// SetString sets "<section>.<key>" to value, creating the section if
// needed.
func (c *Config) SetString(section, key, value string) {
	c.ensureSection(section).set(key, value)
}

// remoteSectionName returns the `remote "name"` section header for name.
func remoteSectionName(name string) string {
	return fmt.Sprintf("remote %q", name)
}

// remoteNames returns the names of every `remote "..."` section, sorted.
func (c *Config) remoteNames() []string {
	var names []string
	for _, s := range c.sections {
		if name, ok := parseRemoteSectionName(s.name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// removeSection deletes the section with the given header, if present.
func (c *Config) removeSection(name string) {
	for i, s := range c.sections {
		if s.name == name {
			c.sections = append(c.sections[:i], c.sections[i+1:]...)
			return
		}
	}
}

func parseRemoteSectionName(section string) (string, bool) {
	const prefix = "remote "
	if !strings.HasPrefix(section, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(section, prefix)
	name, err := strconv.Unquote(rest)
	if err != nil {
		return "", false
	}
	return name, true
}

// parseConfig parses INI-style text: "[section]" or `[section "sub"]`
// headers, "key = value" entries, "#" and ";" comments, blank lines ignored.
func parseConfig(data []byte) (*Config, error) {
	cfg := newConfig()
	var current *configSection

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			header := strings.TrimSpace(line[1 : len(line)-1])
			current = cfg.ensureSection(header)
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("repo: config line %d outside any section: %q", lineNo, line)
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, fmt.Errorf("repo: config line %d missing '=': %q", lineNo, line)
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		current.set(key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("repo: scan config: %w", err)
	}
	return cfg, nil
}

// serializeConfig renders cfg back to INI text, sections in insertion order.
func serializeConfig(cfg *Config) []byte {
	var b strings.Builder
	for _, s := range cfg.sections {
		fmt.Fprintf(&b, "[%s]\n", s.name)
		for _, e := range s.entries {
			fmt.Fprintf(&b, "%s=%s\n", e.key, e.value)
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// Settings holds the derived, defaulted runtime configuration computed from
// Config per spec.md §4.8's table.
type Settings struct {
	RepoVersion             int
	Mode                    mode.Mode
	EnableUncompressedCache bool
	Fsync                   bool
	DisableXattrs           bool
	TmpExpirySecs           int
	ZlibLevel               int
	MinFreeSpacePercent     int
	CollectionID            string
	Parent                  string
	TombstoneCommits        bool
}

// ErrObsoleteArchiveConfig is returned when the config sets the deprecated
// "core.archive = true" flag.
var ErrObsoleteArchiveConfig = fmt.Errorf(`repo: "core.archive = true" is obsolete, set core.mode = archive-z2`)

// deriveSettings validates and defaults cfg per the Config Loader's table.
// "core.archive = true" is rejected outright; an invalid core.mode or an
// out-of-range core.min-free-space-percent is a repoerr.KindInvalidConfig.
func deriveSettings(cfg *Config) (Settings, error) {
	if cfg.GetBool("core", "archive", false) {
		return Settings{}, ErrObsoleteArchiveConfig
	}

	version := cfg.GetInt("core", "repo_version", 0)
	if version != 1 {
		return Settings{}, repoerr.New(repoerr.KindInvalidConfig, "", fmt.Errorf("core.repo_version = %d, want 1", version))
	}

	modeStr := cfg.GetString("core", "mode", "bare")
	m, err := mode.Parse(modeStr)
	if err != nil {
		return Settings{}, repoerr.New(repoerr.KindInvalidConfig, "", err)
	}

	minFree := cfg.GetInt("core", "min-free-space-percent", 3)
	if minFree > 99 {
		return Settings{}, repoerr.New(repoerr.KindInvalidConfig, "", fmt.Errorf("core.min-free-space-percent = %d, must be <= 99", minFree))
	}

	return Settings{
		RepoVersion:             version,
		Mode:                    m,
		EnableUncompressedCache: cfg.GetBool("core", "enable-uncompressed-cache", true),
		Fsync:                   cfg.GetBool("core", "fsync", true),
		DisableXattrs:           cfg.GetBool("core", "disable-xattrs", false),
		TmpExpirySecs:           cfg.GetInt("core", "tmp-expiry-secs", 86400),
		ZlibLevel:               clampZlibLevel(cfg.GetInt("archive", "zlib-level", 6)),
		MinFreeSpacePercent:     minFree,
		CollectionID:            cfg.GetString("core", "collection-id", ""),
		Parent:                  cfg.GetString("core", "parent", ""),
		TombstoneCommits:        cfg.GetBool("core", "tombstone-commits", false),
	}, nil
}

func clampZlibLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 9 {
		return 9
	}
	return level
}

// configPath returns <dir>/config.
func configPath(dir string) string {
	return filepath.Join(dir, "config")
}

// loadConfigFile reads and parses the config file at configPath(dir).
func loadConfigFile(dir string) (*Config, error) {
	data, err := os.ReadFile(configPath(dir))
	if err != nil {
		return nil, fmt.Errorf("repo: read config: %w", err)
	}
	return parseConfig(data)
}

// writeConfigFile atomically writes cfg to configPath(dir) via temp file +
// rename, matching the repository's whole-file-atomic write discipline.
func writeConfigFile(dir string, cfg *Config) error {
	data := serializeConfig(cfg)
	tmp, err := os.CreateTemp(dir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("repo: config tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("repo: write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("repo: close config tmpfile: %w", err)
	}
	if err := os.Rename(tmpName, configPath(dir)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("repo: rename config: %w", err)
	}
	return nil
}
