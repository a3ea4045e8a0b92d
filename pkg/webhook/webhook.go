// Package webhook decides, from a raw push-event delivery, whether the
// state branch changed in a way worth syncing. It never panics and
// never touches stores or the network; every outcome is a Result.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gitgov-io/gitgov/pkg/sync"
)

// Action is the decision for one delivery.
type Action string

const (
	ActionSync   Action = "sync"
	ActionIgnore Action = "ignore"
	ActionError  Action = "error"
)

// Request is one raw delivery as received from the hosted git provider.
type Request struct {
	Signature  string
	Event      string
	DeliveryID string
	RawBody    []byte
}

// Result is the handler's decision.
type Result struct {
	Action     Action           `json:"action"`
	Reason     string           `json:"reason"`
	DeliveryID string           `json:"deliveryId"`
	Delta      []sync.DeltaFile `json:"delta,omitempty"`
	HeadSHA    string           `json:"headSha,omitempty"`
}

// Handler verifies deliveries against a shared secret and folds push
// commits into a syncable delta.
type Handler struct {
	secret      []byte
	stateBranch string
	logger      *slog.Logger
}

// NewHandler builds a handler. branch defaults to the standard state
// branch; logger may be nil.
func NewHandler(secret, branch string, logger *slog.Logger) *Handler {
	if branch == "" {
		branch = sync.StateBranch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{secret: []byte(secret), stateBranch: branch, logger: logger}
}

// pushEvent is the subset of the provider's push payload the handler
// reads.
type pushEvent struct {
	Ref     *string      `json:"ref"`
	After   *string      `json:"after"`
	Commits []pushCommit `json:"commits"`
}

type pushCommit struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// Process never returns an error and never panics; malformed input
// yields an error-action Result.
func (h *Handler) Process(req Request) Result {
	if !h.verifySignature(req.Signature, req.RawBody) {
		return h.decided(Result{Action: ActionError, Reason: "Invalid signature", DeliveryID: req.DeliveryID})
	}
	switch req.Event {
	case "ping":
		return h.decided(Result{Action: ActionIgnore, Reason: "Ping event", DeliveryID: req.DeliveryID})
	case "push":
	default:
		return h.decided(Result{Action: ActionIgnore, Reason: fmt.Sprintf("Unsupported event: %s", req.Event), DeliveryID: req.DeliveryID})
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(req.RawBody, &keys); err != nil {
		return h.decided(Result{Action: ActionError, Reason: "Invalid JSON payload", DeliveryID: req.DeliveryID})
	}
	var missing []string
	for _, field := range []string{"ref", "after", "commits"} {
		if _, ok := keys[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return h.decided(Result{
			Action:     ActionError,
			Reason:     fmt.Sprintf("Malformed push event: missing %s", strings.Join(missing, ", ")),
			DeliveryID: req.DeliveryID,
		})
	}
	var event pushEvent
	if err := json.Unmarshal(req.RawBody, &event); err != nil {
		return h.decided(Result{Action: ActionError, Reason: "Invalid JSON payload", DeliveryID: req.DeliveryID})
	}

	if event.Ref == nil || *event.Ref != "refs/heads/"+h.stateBranch {
		return h.decided(Result{Action: ActionIgnore, Reason: "Not state branch", DeliveryID: req.DeliveryID})
	}

	delta := foldCommits(event.Commits)
	if len(delta) == 0 {
		return h.decided(Result{Action: ActionIgnore, Reason: "No syncable files", DeliveryID: req.DeliveryID})
	}
	after := ""
	if event.After != nil {
		after = *event.After
	}
	return h.decided(Result{
		Action:     ActionSync,
		Reason:     fmt.Sprintf("%d syncable file(s) changed", len(delta)),
		DeliveryID: req.DeliveryID,
		Delta:      delta,
		HeadSHA:    after,
	})
}

// decided logs the outcome per delivery so rejected or ignored hooks can
// be traced without a debugger.
func (h *Handler) decided(r Result) Result {
	switch r.Action {
	case ActionError:
		h.logger.Warn("webhook delivery rejected", "delivery", r.DeliveryID, "reason", r.Reason)
	case ActionIgnore:
		h.logger.Debug("webhook delivery ignored", "delivery", r.DeliveryID, "reason", r.Reason)
	default:
		h.logger.Debug("webhook delivery accepted", "delivery", r.DeliveryID, "files", len(r.Delta))
	}
	return r
}

// verifySignature checks an HMAC-SHA256 signature with the "sha256="
// prefix in constant time.
func (h *Handler) verifySignature(signature string, body []byte) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// foldCommits replays per-commit file lists into one delta with
// last-commit-wins semantics. A file added then removed inside the same
// push vanishes; a file added then modified stays an addition.
func foldCommits(commits []pushCommit) []sync.DeltaFile {
	statuses := map[string]sync.DeltaStatus{}
	for _, commit := range commits {
		for _, f := range commit.Added {
			if !sync.ShouldSyncFile(f) {
				continue
			}
			statuses[f] = sync.StatusAdded
		}
		for _, f := range commit.Modified {
			if !sync.ShouldSyncFile(f) {
				continue
			}
			if statuses[f] != sync.StatusAdded {
				statuses[f] = sync.StatusModified
			}
		}
		for _, f := range commit.Removed {
			if !sync.ShouldSyncFile(f) {
				continue
			}
			if statuses[f] == sync.StatusAdded {
				delete(statuses, f)
				continue
			}
			statuses[f] = sync.StatusDeleted
		}
	}
	files := make([]string, 0, len(statuses))
	for f := range statuses {
		files = append(files, f)
	}
	sort.Strings(files)
	delta := make([]sync.DeltaFile, 0, len(files))
	for _, f := range files {
		delta = append(delta, sync.DeltaFile{File: f, Status: statuses[f]})
	}
	return delta
}
