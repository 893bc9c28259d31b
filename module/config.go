// Package module implements ModuleConfig, ModuleDependencies, and the
// ModuleResolver DFS walker over a module's transitive include graph.
// Concrete ModuleRepository backends live in the repo subpackage.
package module

import (
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/coredeploy/vertexd/cmn/xerrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is a typed view over a module's mod.json manifest. Absence of Main means the module is a library, not runnable.
type Config struct {
	Main          string `json:"main"`
	Worker        bool   `json:"worker"`
	PreserveCWD   bool   `json:"preserve-cwd"`
	AutoRedeploy  bool   `json:"auto-redeploy"`
	IncludesRaw   string `json:"includes"`
	// Checksum is an optional hex digest parsed from mod.json. The repo
	// backends do not read it: they verify an archive, after unpacking it,
	// against a digest carried with the download (HTTP header or object
	// metadata).
	Checksum string `json:"checksum"`
}

// Includes parses the comma-separated includes field into an ordered list
// with empty entries dropped.
func (c *Config) Includes() []string {
	if c.IncludesRaw == "" {
		return nil
	}
	parts := strings.Split(c.IncludesRaw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Runnable reports whether the module has a main entry point.
func (c *Config) Runnable() bool { return c.Main != "" }

// ManifestPath returns <modRoot>/<name>/mod.json.
func ManifestPath(modRoot, name string) string {
	return filepath.Join(modRoot, name, "mod.json")
}

// Dir returns <modRoot>/<name>.
func Dir(modRoot, name string) string {
	return filepath.Join(modRoot, name)
}

// LoadConfig reads and parses a module's manifest.
func LoadConfig(modRoot, name string) (*Config, error) {
	path := ManifestPath(modRoot, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.KindConfiguration, err, "manifest not found: "+path)
		}
		return nil, xerrors.Wrap(xerrors.KindConfiguration, err, "reading manifest: "+path)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfiguration, err, "parsing manifest: "+path)
	}
	return &cfg, nil
}

// Exists reports whether <modRoot>/<name> is already present on disk.
func Exists(modRoot, name string) bool {
	_, err := os.Stat(Dir(modRoot, name))
	return err == nil
}
