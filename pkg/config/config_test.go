package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	cfg := &Config{
		ProtocolVersion: "1.0.0",
		ProjectID:       "demo",
		ProjectName:     "Demo Project",
		State:           StateConfig{Branch: "gitgov-state"},
	}
	require.NoError(t, m.Save(cfg))

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.ProjectID, loaded.ProjectID)
	assert.Equal(t, "gitgov-state", loaded.Branch())
}

func TestProtocolGate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.json"),
		[]byte(`{"protocolVersion":"2.1.0","projectId":"x","projectName":"x","state":{"branch":"gitgov-state"}}`), 0o644))
	_, err := NewManager(root).Load()
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)
}

func TestBranchDefault(t *testing.T) {
	cfg := &Config{ProtocolVersion: "1.0.0"}
	assert.Equal(t, "gitgov-state", cfg.Branch())
	var nilCfg *Config
	assert.Equal(t, "gitgov-state", nilCfg.Branch())
}

func TestSessionMissingFileIsEmpty(t *testing.T) {
	s, err := NewSessionManager(t.TempDir()).Load()
	require.NoError(t, err)
	assert.Empty(t, s.ActorID)
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestSchedulerCascade(t *testing.T) {
	// Built-ins only.
	s := ResolveSchedulerSettings(nil, nil)
	assert.False(t, s.Enabled)
	assert.Equal(t, 30, s.PullIntervalSeconds)
	assert.True(t, s.ContinueOnNetworkError)
	assert.False(t, s.StopOnConflict)

	// Project defaults override built-ins.
	project := &Config{
		ProtocolVersion: "1.0.0",
		State: StateConfig{
			Branch: "gitgov-state",
			Defaults: &StateDefaults{PullScheduler: &PullSchedulerDefaults{
				DefaultEnabled:         boolPtr(true),
				DefaultIntervalSeconds: intPtr(60),
				ContinueOnNetworkError: boolPtr(false),
				StopOnConflict:         boolPtr(true),
			}},
		},
	}
	s = ResolveSchedulerSettings(nil, project)
	assert.True(t, s.Enabled)
	assert.Equal(t, 60, s.PullIntervalSeconds)
	assert.False(t, s.ContinueOnNetworkError)
	assert.True(t, s.StopOnConflict)

	// Session preferences win.
	session := &Session{PullScheduler: &PullSchedulerPrefs{
		Enabled:             boolPtr(false),
		PullIntervalSeconds: intPtr(10),
	}}
	s = ResolveSchedulerSettings(session, project)
	assert.False(t, s.Enabled)
	assert.Equal(t, 10, s.PullIntervalSeconds)
	assert.True(t, s.StopOnConflict) // untouched by session
}

func TestSchedulerCascadePartialProjectLayer(t *testing.T) {
	// A config.json that only enables the scheduler must not clobber the
	// other built-ins.
	project := &Config{
		ProtocolVersion: "1.0.0",
		State: StateConfig{
			Branch: "gitgov-state",
			Defaults: &StateDefaults{PullScheduler: &PullSchedulerDefaults{
				DefaultEnabled:         boolPtr(true),
				DefaultIntervalSeconds: intPtr(60),
			}},
		},
	}
	s := ResolveSchedulerSettings(nil, project)
	assert.True(t, s.Enabled)
	assert.Equal(t, 60, s.PullIntervalSeconds)
	assert.True(t, s.ContinueOnNetworkError, "absent project field falls through to built-in")
	assert.False(t, s.StopOnConflict)
}
