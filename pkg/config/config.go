// Package config loads optional defaults for the transport client and
// signature verifier from a TOML file, layered under hard-coded fallbacks.
// No part of the trust boundary depends on this file being present or
// trustworthy: it only supplies defaults. Of these, only the keyring list
// is overridden per remote, by keyrings given in the URL (pkg/remoteurl);
// the other values are used as loaded.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultMaxBytes bounds a single RPC response (spec.md §4.3).
	DefaultMaxBytes = 10 << 20
	// DefaultCallTimeout bounds a single RPC call (spec.md §4.3).
	DefaultCallTimeout = 5 * time.Second

	defaultVerifierPath  = "/usr/bin/gpgv"
	defaultClientPath    = "/usr/bin/qrexec-client-vm"
	defaultClientDVMPath = "/usr/bin/qrexec-client"
)

// Config holds defaults for every tunable the spec allows a deployment to
// configure: byte/time limits, the RPC client binaries to probe, the
// verifier binary, and a fallback keyring list used when a remote URL
// supplies none.
type Config struct {
	MaxBytes            int64         `toml:"max_bytes"`
	CallTimeout         time.Duration `toml:"-"`
	CallTimeoutSeconds  int           `toml:"call_timeout_seconds"`
	Keyrings            []string      `toml:"keyrings"`
	VerifierPath        string        `toml:"verifier_path"`
	QrexecClientPath    string        `toml:"qrexec_client_path"`
	QrexecClientDVMPath string        `toml:"qrexec_client_dvm_path"`
}

// Default returns the built-in fallback configuration.
func Default() Config {
	return Config{
		MaxBytes:            DefaultMaxBytes,
		CallTimeout:         DefaultCallTimeout,
		VerifierPath:        defaultVerifierPath,
		QrexecClientPath:    defaultClientPath,
		QrexecClientDVMPath: defaultClientDVMPath,
	}
}

// Load reads an optional TOML config file at
// "$XDG_CONFIG_HOME/git-remote-qrexec/config.toml" (or
// "$HOME/.config/..." when XDG_CONFIG_HOME is unset), layering any present
// fields over Default(). A missing file is not an error.
func Load() (Config, error) {
	cfg := Default()

	path, err := configPath()
	if err != nil {
		return cfg, nil // no home directory resolvable: fall back silently
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fileCfg Config
	if _, err := toml.Decode(string(raw), &fileCfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fileCfg.MaxBytes > 0 {
		cfg.MaxBytes = fileCfg.MaxBytes
	}
	if fileCfg.CallTimeoutSeconds > 0 {
		cfg.CallTimeout = time.Duration(fileCfg.CallTimeoutSeconds) * time.Second
	}
	if len(fileCfg.Keyrings) > 0 {
		cfg.Keyrings = fileCfg.Keyrings
	}
	if fileCfg.VerifierPath != "" {
		cfg.VerifierPath = fileCfg.VerifierPath
	}
	if fileCfg.QrexecClientPath != "" {
		cfg.QrexecClientPath = fileCfg.QrexecClientPath
	}
	if fileCfg.QrexecClientDVMPath != "" {
		cfg.QrexecClientDVMPath = fileCfg.QrexecClientDVMPath
	}
	return cfg, nil
}

func configPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "git-remote-qrexec", "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "git-remote-qrexec", "config.toml"), nil
}
