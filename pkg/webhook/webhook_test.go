package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitgov-io/gitgov/pkg/sync"
)

const testSecret = "wh-secret"

func sign(t *testing.T, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushBody(t *testing.T, ref, after string, commits []map[string][]string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"ref":     ref,
		"after":   after,
		"commits": commits,
	})
	require.NoError(t, err)
	return body
}

func handler() *Handler { return NewHandler(testSecret, "", nil) }

func TestProcessRejectsBadSignature(t *testing.T) {
	body := pushBody(t, "refs/heads/gitgov-state", "abc", nil)

	result := handler().Process(Request{Signature: "sha256=deadbeef", Event: "push", DeliveryID: "d1", RawBody: body})
	assert.Equal(t, ActionError, result.Action)
	assert.Equal(t, "Invalid signature", result.Reason)
	assert.Equal(t, "d1", result.DeliveryID)

	result = handler().Process(Request{Signature: "sha1=whatever", Event: "push", DeliveryID: "d1", RawBody: body})
	assert.Equal(t, ActionError, result.Action)
}

func TestProcessIgnoresPingAndOtherEvents(t *testing.T) {
	body := []byte(`{"zen":"keep it simple"}`)
	result := handler().Process(Request{Signature: sign(t, body), Event: "ping", DeliveryID: "d2", RawBody: body})
	assert.Equal(t, ActionIgnore, result.Action)
	assert.Equal(t, "Ping event", result.Reason)

	result = handler().Process(Request{Signature: sign(t, body), Event: "issues", DeliveryID: "d3", RawBody: body})
	assert.Equal(t, ActionIgnore, result.Action)
	assert.Contains(t, result.Reason, "Unsupported event")
}

func TestProcessRejectsMalformedPayloads(t *testing.T) {
	body := []byte(`{not json`)
	result := handler().Process(Request{Signature: sign(t, body), Event: "push", DeliveryID: "d4", RawBody: body})
	assert.Equal(t, ActionError, result.Action)
	assert.Equal(t, "Invalid JSON payload", result.Reason)

	body = []byte(`{"ref":"refs/heads/gitgov-state"}`)
	result = handler().Process(Request{Signature: sign(t, body), Event: "push", DeliveryID: "d5", RawBody: body})
	assert.Equal(t, ActionError, result.Action)
	assert.Equal(t, "Malformed push event: missing after, commits", result.Reason)
}

func TestProcessIgnoresOtherBranches(t *testing.T) {
	body := pushBody(t, "refs/heads/main", "abc", []map[string][]string{
		{"added": {"tasks/1700000000-task-a.json"}},
	})
	result := handler().Process(Request{Signature: sign(t, body), Event: "push", DeliveryID: "d6", RawBody: body})
	assert.Equal(t, ActionIgnore, result.Action)
	assert.Equal(t, "Not state branch", result.Reason)
}

func TestProcessFoldsCommitsLastWins(t *testing.T) {
	body := pushBody(t, "refs/heads/gitgov-state", "headsha", []map[string][]string{
		{
			"added":    {"tasks/1700000000-task-a.json", "tasks/1700000001-task-b.json", ".gitignore"},
			"modified": {"cycles/1700000002-cycle-c.json"},
		},
		{
			"modified": {"tasks/1700000000-task-a.json"},
			"removed":  {"tasks/1700000001-task-b.json", "cycles/1700000003-cycle-d.json"},
		},
	})
	result := handler().Process(Request{Signature: sign(t, body), Event: "push", DeliveryID: "d7", RawBody: body})
	require.Equal(t, ActionSync, result.Action)
	assert.Equal(t, "headsha", result.HeadSHA)
	assert.Equal(t, []sync.DeltaFile{
		// added then modified stays A; added then removed is gone entirely;
		// a removal of a file not added in this push is D.
		{File: "cycles/1700000002-cycle-c.json", Status: sync.StatusModified},
		{File: "cycles/1700000003-cycle-d.json", Status: sync.StatusDeleted},
		{File: "tasks/1700000000-task-a.json", Status: sync.StatusAdded},
	}, result.Delta)
}

func TestProcessIgnoresNonSyncableOnlyPushes(t *testing.T) {
	body := pushBody(t, "refs/heads/gitgov-state", "abc", []map[string][]string{
		{"added": {"index.json", "actors/alice.key", "README.md"}},
	})
	result := handler().Process(Request{Signature: sign(t, body), Event: "push", DeliveryID: "d8", RawBody: body})
	assert.Equal(t, ActionIgnore, result.Action)
	assert.Equal(t, "No syncable files", result.Reason)
}

func TestProcessLogsDecisions(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewHandler(testSecret, "", logger)

	body := pushBody(t, "refs/heads/gitgov-state", "abc", nil)
	h.Process(Request{Signature: "sha256=deadbeef", Event: "push", DeliveryID: "d9", RawBody: body})
	assert.Contains(t, buf.String(), "webhook delivery rejected")
	assert.Contains(t, buf.String(), "d9")

	buf.Reset()
	h.Process(Request{Signature: sign(t, body), Event: "ping", DeliveryID: "d10", RawBody: body})
	assert.Contains(t, buf.String(), "webhook delivery ignored")
}

func TestProcessNeverPanics(t *testing.T) {
	bodies := [][]byte{nil, {}, []byte(`[]`), []byte(`{"ref":null,"after":null,"commits":null}`)}
	for _, body := range bodies {
		assert.NotPanics(t, func() {
			handler().Process(Request{Signature: sign(t, body), Event: "push", DeliveryID: "dx", RawBody: body})
		})
	}
}
