package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldSyncFile(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"tasks/1700000000-task-a.json", true},
		{"cycles/1700000000-cycle-a.json", true},
		{"actors/human__alice.json", true},
		{"agents/1700000000-agent-a.json", true},
		{"executions/1700000000-exec-a.json", true},
		{"feedbacks/1700000000-feedback-a.json", true},
		{"changelogs/1700000000-changelog-a.json", true},
		{"workflows/review.json", true},
		{"config.json", true},

		// Local-only names never sync.
		{".session.json", false},
		{"index.json", false},
		{"tasks/index.json", false},
		{"gitgov", false},

		// Excluded patterns, wherever they live.
		{"actors/alice.key", false},
		{"tasks/a.json.backup", false},
		{"tasks/a.json.backup-2024", false},
		{"tasks/a.tmp", false},
		{"tasks/a.bak", false},

		// Wrong extension or wrong directory.
		{"tasks/readme.md", false},
		{"notes/a.json", false},
		{"secrets.json", false},

		// Path spelling must not matter.
		{".gitgov/tasks/1700000000-task-a.json", true},
		{"/home/u/repo/.gitgov/tasks/1700000000-task-a.json", true},
		{`.gitgov\tasks\1700000000-task-a.json`, true},
		{".gitgov/index.json", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ShouldSyncFile(tc.path), "path %q", tc.path)
	}
}
