// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config is the two-tier settings model: a global settings file
// shared across every mount on the machine, and a per-mount config that
// names the backend root and tunables for a single cachefs mount.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// getConfigDir returns the global config directory. Overridable for test
// isolation, mirroring the teacher's LATENTFS_CONFIG_DIR convention.
func getConfigDir() string {
	if dir := os.Getenv("CACHEFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cachefs")
}

// ConfigDir returns the global config directory path.
func ConfigDir() string {
	return getConfigDir()
}

// GlobalSettingsPath returns the shared settings file path.
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the global config directory if absent.
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// GlobalSettings are shared across every mount on the machine.
type GlobalSettings struct {
	LogLevel          string `yaml:"log_level"`           // trace, debug, info, warn, off
	DaemonBusyTimeout int    `yaml:"daemon_busy_timeout"` // SQLite busy_timeout (ms), 0 = store default
}

func defaultGlobalSettings() GlobalSettings {
	return GlobalSettings{LogLevel: "info"}
}

// LoadGlobalSettings reads the shared settings file, falling back to
// compiled-in defaults if it is absent — no config-management library is
// warranted for one small YAML file.
func LoadGlobalSettings() (*GlobalSettings, error) {
	settings := defaultGlobalSettings()
	data, err := os.ReadFile(GlobalSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &settings, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Save writes settings to GlobalSettingsPath, creating the config
// directory if needed.
func (s *GlobalSettings) Save() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(GlobalSettingsPath(), data, 0600)
}

// MountConfig is the per-mount configuration: what backend to cache, where
// to keep the cache, and how aggressively to probe and retry. A mount's
// directory holds an optional cachefs.yaml with these fields. The mount
// command reads BusyTimeoutMS, ProbeInterval, LogLevel and AllowOther from
// it (--allow-other can only turn AllowOther on); BackendRoot, CacheDir and
// Mountpoint are always overwritten with values from the command line.
type MountConfig struct {
	BackendRoot   string        `yaml:"backend_root"`
	CacheDir      string        `yaml:"cache_dir"`
	Mountpoint    string        `yaml:"mountpoint"`
	BusyTimeoutMS int           `yaml:"busy_timeout_ms"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	LogLevel      string        `yaml:"log_level"`
	AllowOther    bool          `yaml:"allow_other"`
}

// ApplyDefaults fills zero-value fields with their defaults.
func (c *MountConfig) ApplyDefaults() {
	if c.BusyTimeoutMS == 0 {
		c.BusyTimeoutMS = 30000
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// LoadMountConfig reads {mountDir}/cachefs.yaml. Returns a zero-value
// config (not an error) if the file does not exist, since every field can
// also arrive via CLI flags.
func LoadMountConfig(mountDir string) (*MountConfig, error) {
	path := filepath.Join(mountDir, "cachefs.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &MountConfig{}
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, err
	}
	var cfg MountConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Save writes cfg to {mountDir}/cachefs.yaml.
func (c *MountConfig) Save(mountDir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(mountDir, "cachefs.yaml"), data, 0600)
}
