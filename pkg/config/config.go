package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const defaultPath = "/etc/osbuild/store.toml"

// Config is the store daemon/CLI configuration, loaded from a TOML file.
// Every field has a usable default so a missing file is not an error.
type Config struct {
	// StoreDir is the root of the content-addressed cache.
	StoreDir string `toml:"store_dir"`

	// Workers is the size of the fetch worker pool.
	Workers int `toml:"workers"`

	// Agent selects the retrieval agent: "curl" (subprocess) or "native"
	// (in-process HTTP).
	Agent string `toml:"agent"`

	// CurlPath is the curl binary used by the subprocess agent.
	CurlPath string `toml:"curl_path"`

	// EntitlementDir is scanned by the subscription secrets provider for
	// key/certificate pairs.
	EntitlementDir string `toml:"entitlement_dir"`

	// CABundle is the certificate authority bundle handed to the transport
	// alongside entitlement credentials.
	CABundle string `toml:"ca_bundle"`

	// Mirrors are optional fallback servers for the native agent.
	Mirrors []string `toml:"mirrors"`

	// SocketPath is where the serve command listens.
	SocketPath string `toml:"socket_path"`
}

func defaults() Config {
	return Config{
		StoreDir:       "/var/cache/osbuild/store",
		Workers:        4,
		Agent:          "curl",
		CurlPath:       "curl",
		EntitlementDir: "/etc/pki/entitlement",
		CABundle:       "/etc/rhsm/ca/redhat-uep.pem",
		SocketPath:     "/run/osbuild/store.sock",
	}
}

// Load reads the config file at OSBUILD_STORE_CONFIG (or the packaged
// default path) on top of built-in defaults. A missing file yields the
// defaults; a file that fails to parse is an error.
func Load() (Config, error) {
	cfg := defaults()

	path := os.Getenv("OSBUILD_STORE_CONFIG")
	if path == "" {
		path = defaultPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Debug("no config file, using defaults", "path", path)
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults().Workers
	}
	return cfg, nil
}

// IndexPath is the provenance database location. It sits next to the store
// root, not inside it: the store directory holds nothing but digest-named
// entries.
func (c Config) IndexPath() string {
	return filepath.Join(filepath.Dir(c.StoreDir), "index.db")
}
