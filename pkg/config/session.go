package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PullSchedulerPrefs are per-session scheduler overrides. Pointer fields
// distinguish "unset" from explicit false/zero in the cascade.
type PullSchedulerPrefs struct {
	Enabled                *bool `json:"enabled,omitempty"`
	PullIntervalSeconds    *int  `json:"pullIntervalSeconds,omitempty"`
	ContinueOnNetworkError *bool `json:"continueOnNetworkError,omitempty"`
	StopOnConflict         *bool `json:"stopOnConflict,omitempty"`
}

// Session is the LOCAL_ONLY .gitgov/.session.json document: the active
// actor identity and local preferences. Never synced.
type Session struct {
	ActorID        string              `json:"actorId,omitempty"`
	SigningKeyPath string              `json:"signingKeyPath,omitempty"`
	PullScheduler  *PullSchedulerPrefs `json:"pullScheduler,omitempty"`
}

// SessionManager loads and saves .session.json.
type SessionManager struct {
	gitgovRoot string
}

// NewSessionManager points at the .gitgov directory.
func NewSessionManager(gitgovRoot string) *SessionManager {
	return &SessionManager{gitgovRoot: gitgovRoot}
}

func (m *SessionManager) path() string {
	return filepath.Join(m.gitgovRoot, ".session.json")
}

// Load reads the session; a missing file yields an empty session.
func (m *SessionManager) Load() (*Session, error) {
	data, err := os.ReadFile(m.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &Session{}, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &s, nil
}

// Save writes the session atomically with private permissions.
func (m *SessionManager) Save(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize session: %w", err)
	}
	if err := atomicWrite(m.path(), data); err != nil {
		return err
	}
	return os.Chmod(m.path(), 0o600)
}

// SchedulerSettings is the resolved scheduler configuration after the
// cascade: session preferences over project defaults over built-ins.
type SchedulerSettings struct {
	Enabled                bool
	PullIntervalSeconds    int
	ContinueOnNetworkError bool
	StopOnConflict         bool
}

// BuiltinSchedulerSettings are the lowest-priority defaults.
func BuiltinSchedulerSettings() SchedulerSettings {
	return SchedulerSettings{
		Enabled:                false,
		PullIntervalSeconds:    30,
		ContinueOnNetworkError: true,
		StopOnConflict:         false,
	}
}

// ResolveSchedulerSettings applies the configuration cascade. Either layer
// may be nil.
func ResolveSchedulerSettings(session *Session, project *Config) SchedulerSettings {
	s := BuiltinSchedulerSettings()
	if project != nil && project.State.Defaults != nil && project.State.Defaults.PullScheduler != nil {
		d := project.State.Defaults.PullScheduler
		if d.DefaultEnabled != nil {
			s.Enabled = *d.DefaultEnabled
		}
		if d.DefaultIntervalSeconds != nil && *d.DefaultIntervalSeconds > 0 {
			s.PullIntervalSeconds = *d.DefaultIntervalSeconds
		}
		if d.ContinueOnNetworkError != nil {
			s.ContinueOnNetworkError = *d.ContinueOnNetworkError
		}
		if d.StopOnConflict != nil {
			s.StopOnConflict = *d.StopOnConflict
		}
	}
	if session != nil && session.PullScheduler != nil {
		p := session.PullScheduler
		if p.Enabled != nil {
			s.Enabled = *p.Enabled
		}
		if p.PullIntervalSeconds != nil && *p.PullIntervalSeconds > 0 {
			s.PullIntervalSeconds = *p.PullIntervalSeconds
		}
		if p.ContinueOnNetworkError != nil {
			s.ContinueOnNetworkError = *p.ContinueOnNetworkError
		}
		if p.StopOnConflict != nil {
			s.StopOnConflict = *p.StopOnConflict
		}
	}
	return s
}
