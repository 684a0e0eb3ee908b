// Package gwconfig loads and hot-reloads the gateway's JSON configuration
// file, following cmd/pulse/config.go's env-override-after-file-load idiom.
package gwconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/buremba/capsulegate/internal/capsule"
	"github.com/buremba/capsulegate/internal/mcpupstream"
	"github.com/buremba/capsulegate/internal/policy"
)

// DefaultPort is the gateway's default listen port (spec §6).
const DefaultPort = 7888

// DefaultBind is the default bind address; serve auto-switches to 0.0.0.0
// when running inside a container (see detectContainer in watcher.go).
const DefaultBind = "127.0.0.1"

// DefaultSessionTTLMs is how long an idle session survives before GC.
const DefaultSessionTTLMs = 300000

// Config is the gateway's full runtime configuration (spec §6).
type Config struct {
	Language       capsule.Language    `json:"language"`
	NPM            NPMConfig           `json:"npm,omitempty"`
	Pip            PipConfig           `json:"pip,omitempty"`
	Policy         policy.Policy       `json:"policy"`
	MCPs           []mcpupstream.UpstreamConfig `json:"mcps,omitempty"`
	SessionTTLMs   int64               `json:"sessionTtlMs"`
	SigningKeyPath string              `json:"signingKeyPath"`
	CacheDir       string              `json:"cacheDir"`
	VFSRoot        string              `json:"vfsRoot"`

	// Port/Bind/BundlerPath are populated from CLI flags, not the JSON
	// file, but live here so the rest of the gateway has one struct to
	// read from (mirrors cfg.BackendHost/cfg.FrontendPort in the teacher).
	Port        int    `json:"-"`
	Bind        string `json:"-"`
	BundlerPath string `json:"-"`

	// path is the file this Config was loaded from, kept for Save/reload.
	path string
}

type NPMConfig struct {
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Lockfile     string            `json:"lockfile,omitempty"`
}

type PipConfig struct {
	Requirements string   `json:"requirements,omitempty"`
	WheelURLs    []string `json:"wheelUrls,omitempty"`
}

// Default returns a Config with every field at its spec-mandated default,
// suitable for `gateway init`. The policy defaults come from
// policy.Default(), the single source of truth for the baked-in policy.
func Default() *Config {
	return &Config{
		Language:       capsule.LanguageJS,
		Policy:         policy.Default(),
		SessionTTLMs:   DefaultSessionTTLMs,
		SigningKeyPath: "signing.key",
		CacheDir:       "capsule-cache",
		VFSRoot:        "workspace",
		Port:           DefaultPort,
		Bind:           DefaultBind,
	}
}

// Load reads the JSON config file at path, then applies environment
// variable overrides (TIMEOUT_MS, MAX_MEMORY_MB, MAX_STDOUT_BYTES), exactly
// the order cmd/pulse/config.go's loader applies file-then-env.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("gwconfig: config file %q not found: %w", path, err)
		}
		return nil, fmt.Errorf("gwconfig: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("gwconfig: parse %q: %w", path, err)
	}
	cfg.path = path

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides mirrors cmd/pulse/config.go's pattern of letting
// environment variables win over whatever the file declared.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Policy.Limits.TimeoutMs = n
		}
	}
	if v := os.Getenv("MAX_MEMORY_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Policy.Limits.MemMb = n
		}
	}
	if v := os.Getenv("MAX_STDOUT_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Policy.Limits.StdoutBytes = n
		}
	}
}

// Save writes cfg back to its source path as indented JSON, used by
// `gateway init` to write the default file.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("gwconfig: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("gwconfig: write %q: %w", path, err)
	}
	return nil
}
