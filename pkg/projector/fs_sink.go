package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Sink persists and reads back IndexData snapshots.
type Sink interface {
	Persist(ctx context.Context, index *IndexData) error
	Read(ctx context.Context) (*IndexData, error)
}

// FSSink writes the snapshot to .gitgov/index.json. The file is LOCAL_ONLY
// and never synced.
type FSSink struct {
	path string
}

// NewFSSink targets <gitgovRoot>/index.json.
func NewFSSink(gitgovRoot string) *FSSink {
	return &FSSink{path: filepath.Join(gitgovRoot, "index.json")}
}

// Persist writes atomically: temp file then rename.
func (s *FSSink) Persist(ctx context.Context, index *IndexData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize index: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("publish index: %w", err)
	}
	return nil
}

// Read loads the last persisted snapshot.
func (s *FSSink) Read(ctx context.Context) (*IndexData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var index IndexData
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return &index, nil
}
