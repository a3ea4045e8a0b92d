package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gitgov-io/gitgov/pkg/record"
)

// IDEncoder maps record IDs to safe filenames and back. The mapping must be
// invertible so List can recover the original IDs.
type IDEncoder interface {
	Encode(id string) string
	Decode(name string) string
}

// PlainEncoder is the identity mapping, used for timestamped record IDs
// that are already filename-safe.
type PlainEncoder struct{}

func (PlainEncoder) Encode(id string) string   { return id }
func (PlainEncoder) Decode(name string) string { return name }

// ActorEncoder maps the ':' of actor IDs to a double underscore, which
// cannot occur in the ID grammar, so decoding is unambiguous.
type ActorEncoder struct{}

func (ActorEncoder) Encode(id string) string {
	return strings.ReplaceAll(id, ":", "__")
}

func (ActorEncoder) Decode(name string) string {
	return strings.Replace(name, "__", ":", 1)
}

// FSStore persists each record at <base>/<encoded-id>.json.
type FSStore struct {
	base string
	enc  IDEncoder
}

// NewFSStore creates the backing directory if needed.
func NewFSStore(base string, enc IDEncoder) (*FSStore, error) {
	if enc == nil {
		enc = PlainEncoder{}
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FSStore{base: base, enc: enc}, nil
}

// NewFSSet builds the full per-type store set under gitgovRoot (the
// .gitgov directory).
func NewFSSet(gitgovRoot string) (*Set, error) {
	mk := func(t record.Type, enc IDEncoder) (Store, error) {
		return NewFSStore(filepath.Join(gitgovRoot, DirFor(t)), enc)
	}
	set := &Set{}
	var err error
	if set.Tasks, err = mk(record.TypeTask, nil); err != nil {
		return nil, err
	}
	if set.Cycles, err = mk(record.TypeCycle, nil); err != nil {
		return nil, err
	}
	if set.Actors, err = mk(record.TypeActor, ActorEncoder{}); err != nil {
		return nil, err
	}
	if set.Agents, err = mk(record.TypeAgent, nil); err != nil {
		return nil, err
	}
	if set.Executions, err = mk(record.TypeExecution, nil); err != nil {
		return nil, err
	}
	if set.Feedbacks, err = mk(record.TypeFeedback, nil); err != nil {
		return nil, err
	}
	if set.Changelogs, err = mk(record.TypeChangelog, nil); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *FSStore) path(id string) string {
	return filepath.Join(s.base, s.enc.Encode(id)+".json")
}

// Put writes atomically: serialize to a temp file in the same directory,
// then rename over the target. Readers never observe a partial record.
func (s *FSStore) Put(ctx context.Context, id string, rec *record.Record) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return PutResult{}, fmt.Errorf("serialize record %s: %w", id, err)
	}
	tmp, err := os.CreateTemp(s.base, "."+s.enc.Encode(id)+".tmp-*")
	if err != nil {
		return PutResult{}, fmt.Errorf("create temp for %s: %w", id, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return PutResult{}, fmt.Errorf("write temp for %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return PutResult{}, fmt.Errorf("close temp for %s: %w", id, err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		os.Remove(tmpName)
		return PutResult{}, fmt.Errorf("rename temp for %s: %w", id, err)
	}
	return PutResult{}, nil
}

func (s *FSStore) Get(ctx context.Context, id string) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}
	return record.Parse(data)
}

func (s *FSStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list store dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, s.enc.Decode(strings.TrimSuffix(name, ".json")))
	}
	return ids, nil
}

func (s *FSStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func (s *FSStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
