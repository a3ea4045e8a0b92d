// Package config manages the .gitgov/config.json project file and the
// LOCAL_ONLY .session.json, plus the pull-scheduler configuration cascade.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

// SupportedProtocol is the semver range of config protocol versions this
// build can operate on.
const SupportedProtocol = ">=1.0.0 <2.0.0"

// ErrUnsupportedProtocol is returned when config.json declares a protocol
// outside the supported range.
var ErrUnsupportedProtocol = errors.New("unsupported protocol version")

// PullSchedulerDefaults is the project-level scheduler policy. Pointer
// fields distinguish "unset" from explicit false/zero, so absent keys
// fall through to the built-ins in the cascade.
type PullSchedulerDefaults struct {
	DefaultEnabled         *bool `json:"defaultEnabled,omitempty"`
	DefaultIntervalSeconds *int  `json:"defaultIntervalSeconds,omitempty"`
	ContinueOnNetworkError *bool `json:"continueOnNetworkError,omitempty"`
	StopOnConflict         *bool `json:"stopOnConflict,omitempty"`
}

// StateDefaults carries project defaults for state synchronization.
type StateDefaults struct {
	PullScheduler *PullSchedulerDefaults `json:"pullScheduler,omitempty"`
}

// StateConfig configures the synchronization branch.
type StateConfig struct {
	Branch   string         `json:"branch"`
	Defaults *StateDefaults `json:"defaults,omitempty"`
}

// Config is the .gitgov/config.json document.
type Config struct {
	ProtocolVersion string      `json:"protocolVersion"`
	ProjectID       string      `json:"projectId"`
	ProjectName     string      `json:"projectName"`
	RootCycle       string      `json:"rootCycle,omitempty"`
	State           StateConfig `json:"state"`
}

// Branch returns the configured state branch, defaulting to gitgov-state.
func (c *Config) Branch() string {
	if c == nil || c.State.Branch == "" {
		return "gitgov-state"
	}
	return c.State.Branch
}

// Manager loads and saves project configuration under a .gitgov root.
type Manager struct {
	gitgovRoot string
}

// NewManager points at the .gitgov directory.
func NewManager(gitgovRoot string) *Manager {
	return &Manager{gitgovRoot: gitgovRoot}
}

func (m *Manager) configPath() string {
	return filepath.Join(m.gitgovRoot, "config.json")
}

// Load reads and protocol-gates config.json.
func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath())
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := checkProtocol(cfg.ProtocolVersion); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config.json atomically.
func (m *Manager) Save(cfg *Config) error {
	if err := checkProtocol(cfg.ProtocolVersion); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	return atomicWrite(m.configPath(), data)
}

func checkProtocol(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedProtocol, version)
	}
	rng, err := semver.NewConstraint(SupportedProtocol)
	if err != nil {
		return fmt.Errorf("protocol constraint: %w", err)
	}
	if !rng.Check(v) {
		return fmt.Errorf("%w: %s (supported %s)", ErrUnsupportedProtocol, version, SupportedProtocol)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
