package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/google/go-github/v84/github"

	"github.com/gitgov-io/gitgov/pkg/record"
)

// GitHubStore persists records on a branch of a hosted repository through
// the contents API. Every Put is a commit; the resulting SHA is returned so
// callers can diff.
type GitHubStore struct {
	client *github.Client
	owner  string
	repo   string
	branch string
	dir    string // e.g. ".gitgov/tasks"
	enc    IDEncoder
}

// NewGitHubStore wires a store onto owner/repo@branch under dir. The client
// is injected so auth (token, app installation) stays the caller's concern.
func NewGitHubStore(client *github.Client, owner, repo, branch, dir string, enc IDEncoder) *GitHubStore {
	if enc == nil {
		enc = PlainEncoder{}
	}
	return &GitHubStore{
		client: client,
		owner:  owner,
		repo:   repo,
		branch: branch,
		dir:    strings.Trim(dir, "/"),
		enc:    enc,
	}
}

func (s *GitHubStore) path(id string) string {
	return path.Join(s.dir, s.enc.Encode(id)+".json")
}

// Put creates or updates the record file with a commit. A write that races
// a newer commit to the same path surfaces as ErrConcurrentUpdate.
func (s *GitHubStore) Put(ctx context.Context, id string, rec *record.Record) (PutResult, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return PutResult{}, fmt.Errorf("serialize record %s: %w", id, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(fmt.Sprintf("gitgov: put %s", id)),
		Content: data,
		Branch:  github.Ptr(s.branch),
	}

	// The contents API requires the current blob SHA for updates.
	existing, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path(id), &github.RepositoryContentGetOptions{Ref: s.branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		// create
	case err != nil:
		return PutResult{}, fmt.Errorf("probe %s: %w", s.path(id), err)
	}

	var content *github.RepositoryContentResponse
	if opts.SHA != nil {
		content, resp, err = s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, s.path(id), opts)
	} else {
		content, resp, err = s.client.Repositories.CreateFile(ctx, s.owner, s.repo, s.path(id), opts)
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity) {
			return PutResult{}, fmt.Errorf("%w: %s", ErrConcurrentUpdate, id)
		}
		return PutResult{}, fmt.Errorf("write %s: %w", s.path(id), err)
	}
	return PutResult{CommitSHA: content.Commit.GetSHA()}, nil
}

func (s *GitHubStore) Get(ctx context.Context, id string) (*record.Record, error) {
	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path(id), &github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("read %s: %w", s.path(id), err)
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s is a directory", record.ErrInvalidWrapper, s.path(id))
	}
	content, err := file.GetContent() // decodes base64
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path(id), err)
	}
	return record.Parse([]byte(content))
}

// contentsListCap is where the contents API silently truncates directory
// listings; anything at the cap has to be re-listed through the tree API.
const contentsListCap = 1000

// List enumerates the directory children. The contents API is one round
// trip for the common case; directories at the truncation cap fall back
// to the Git Trees API, which reports truncation explicitly.
func (s *GitHubStore) List(ctx context.Context) ([]string, error) {
	opts := &github.RepositoryContentGetOptions{Ref: s.branch}
	_, dir, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.dir, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	if len(dir) >= contentsListCap {
		return s.listTree(ctx)
	}
	var ids []string
	for _, entry := range dir {
		name := entry.GetName()
		if entry.GetType() != "file" || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, s.enc.Decode(strings.TrimSuffix(name, ".json")))
	}
	return ids, nil
}

// listTree walks the branch's root tree down to the store directory and
// lists its blobs without the contents-API entry cap.
func (s *GitHubStore) listTree(ctx context.Context) ([]string, error) {
	sha := s.branch
	for _, seg := range strings.Split(s.dir, "/") {
		tree, _, err := s.client.Git.GetTree(ctx, s.owner, s.repo, sha, false)
		if err != nil {
			return nil, fmt.Errorf("walk tree %s: %w", s.dir, err)
		}
		sha = ""
		for _, entry := range tree.Entries {
			if entry.GetPath() == seg && entry.GetType() == "tree" {
				sha = entry.GetSHA()
				break
			}
		}
		if sha == "" {
			return nil, nil
		}
	}
	tree, _, err := s.client.Git.GetTree(ctx, s.owner, s.repo, sha, false)
	if err != nil {
		return nil, fmt.Errorf("list tree %s: %w", s.dir, err)
	}
	if tree.GetTruncated() {
		return nil, fmt.Errorf("list %s: tree listing truncated by host", s.dir)
	}
	var ids []string
	for _, entry := range tree.Entries {
		name := entry.GetPath()
		if entry.GetType() != "blob" || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, s.enc.Decode(strings.TrimSuffix(name, ".json")))
	}
	return ids, nil
}

func (s *GitHubStore) Delete(ctx context.Context, id string) error {
	existing, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path(id), &github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return fmt.Errorf("probe %s: %w", s.path(id), err)
	}
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(fmt.Sprintf("gitgov: delete %s", id)),
		SHA:     existing.SHA,
		Branch:  github.Ptr(s.branch),
	}
	if _, resp, err = s.client.Repositories.DeleteFile(ctx, s.owner, s.repo, s.path(id), opts); err != nil {
		if resp != nil && (resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity) {
			return fmt.Errorf("%w: %s", ErrConcurrentUpdate, id)
		}
		return fmt.Errorf("delete %s: %w", s.path(id), err)
	}
	return nil
}

func (s *GitHubStore) Exists(ctx context.Context, id string) (bool, error) {
	_, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path(id), &github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// HeadSHA reads the current tip of the state branch, for delta computation
// by webhook consumers.
func (s *GitHubStore) HeadSHA(ctx context.Context) (string, error) {
	ref, _, err := s.client.Git.GetRef(ctx, s.owner, s.repo, "refs/heads/"+s.branch)
	if err != nil {
		return "", fmt.Errorf("read ref %s: %w", s.branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}
