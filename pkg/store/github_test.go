package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v84/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGitHubStore(t *testing.T, handler http.Handler) *GitHubStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return NewGitHubStore(client, "acme", "project", "gitgov-state", ".gitgov/tasks", nil)
}

func TestGitHubStoreGetDecodesBase64(t *testing.T) {
	wrapper := `{"header":{"version":"1.0","type":"task","payloadChecksum":"` +
		"ab" + `","signatures":[{"keyId":"human:a","role":"author","signature":"00","timestamp":1}]},"payload":{"id":"1700000000-task-x"}}`
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/project/contents/.gitgov/tasks/1700000000-task-x.json", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"type":     "file",
			"name":     "1700000000-task-x.json",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(wrapper)),
			"sha":      "blobsha",
		}
		json.NewEncoder(w).Encode(resp)
	})

	s := testGitHubStore(t, mux)
	rec, err := s.Get(context.Background(), "1700000000-task-x")
	require.NoError(t, err)
	assert.Equal(t, "ab", rec.Header.PayloadChecksum)
}

func TestGitHubStorePutCreateReturnsCommitSHA(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/project/contents/.gitgov/tasks/1700000000-task-x.json", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Not Found"}`)
		case http.MethodPut:
			var body struct {
				Message string `json:"message"`
				Branch  string `json:"branch"`
				SHA     string `json:"sha"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "gitgov: put 1700000000-task-x", body.Message)
			assert.Equal(t, "gitgov-state", body.Branch)
			assert.Empty(t, body.SHA)
			fmt.Fprint(w, `{"commit":{"sha":"newcommit"}}`)
		}
	})

	s := testGitHubStore(t, mux)
	rec, _ := signedTask(t, "Remote")
	res, err := s.Put(context.Background(), "1700000000-task-x", rec)
	require.NoError(t, err)
	assert.Equal(t, "newcommit", res.CommitSHA)
}

func TestGitHubStorePutConflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/project/contents/.gitgov/tasks/1700000000-task-x.json", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"type": "file", "name": "1700000000-task-x.json", "sha": "stale",
			})
		case http.MethodPut:
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"message":"is at a different sha"}`)
		}
	})

	s := testGitHubStore(t, mux)
	rec, _ := signedTask(t, "Racing")
	_, err := s.Put(context.Background(), "1700000000-task-x", rec)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestGitHubStoreListFiltersJSONFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/project/contents/.gitgov/tasks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"type":"file","name":"1700000000-task-a.json"},
			{"type":"file","name":"notes.txt"},
			{"type":"dir","name":"sub"},
			{"type":"file","name":"1700000001-task-b.json"}
		]`)
	})

	s := testGitHubStore(t, mux)
	ids, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1700000000-task-a", "1700000001-task-b"}, ids)
}

func TestGitHubStoreListFallsBackToTreeAtCap(t *testing.T) {
	// A contents listing at the cap may be silently truncated; the store
	// must re-list through the tree API and see every blob.
	capped := make([]map[string]string, contentsListCap)
	for i := range capped {
		capped[i] = map[string]string{"type": "file", "name": fmt.Sprintf("%d-task-t%d.json", 1700000000+i, i)}
	}
	blobs := make([]map[string]string, contentsListCap+200)
	for i := range blobs {
		blobs[i] = map[string]string{"type": "blob", "path": fmt.Sprintf("%d-task-t%d.json", 1700000000+i, i)}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/project/contents/.gitgov/tasks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(capped)
	})
	mux.HandleFunc("/repos/acme/project/git/trees/gitgov-state", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"ROOT","tree":[{"path":".gitgov","type":"tree","sha":"T1"}]}`)
	})
	mux.HandleFunc("/repos/acme/project/git/trees/T1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"T1","tree":[{"path":"tasks","type":"tree","sha":"T2"},{"path":"config.json","type":"blob","sha":"B0"}]}`)
	})
	mux.HandleFunc("/repos/acme/project/git/trees/T2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"sha": "T2", "tree": blobs, "truncated": false})
	})

	s := testGitHubStore(t, mux)
	ids, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, contentsListCap+200)
	assert.Contains(t, ids, fmt.Sprintf("%d-task-t%d", 1700000000+contentsListCap+100, contentsListCap+100))
}

func TestGitHubStoreListTreeTruncationIsAnError(t *testing.T) {
	capped := make([]map[string]string, contentsListCap)
	for i := range capped {
		capped[i] = map[string]string{"type": "file", "name": fmt.Sprintf("%d-task-t%d.json", 1700000000+i, i)}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/project/contents/.gitgov/tasks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(capped)
	})
	mux.HandleFunc("/repos/acme/project/git/trees/gitgov-state", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"ROOT","tree":[{"path":".gitgov","type":"tree","sha":"T1"}]}`)
	})
	mux.HandleFunc("/repos/acme/project/git/trees/T1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"T1","tree":[{"path":"tasks","type":"tree","sha":"T2"}]}`)
	})
	mux.HandleFunc("/repos/acme/project/git/trees/T2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"T2","tree":[],"truncated":true}`)
	})

	s := testGitHubStore(t, mux)
	_, err := s.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestGitHubStoreGetMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})

	s := testGitHubStore(t, mux)
	_, err := s.Get(context.Background(), "1700000000-task-missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
