package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitgov-io/gitgov/pkg/crypto"
	"github.com/gitgov-io/gitgov/pkg/record"
)

func signedTask(t *testing.T, title string) (*record.Record, string) {
	t.Helper()
	task, err := record.NewTaskRecord(title, "created in test", record.PriorityMedium, time.Unix(1700000000, 0))
	require.NoError(t, err)
	rec, err := record.Wrap(record.TypeTask, task)
	require.NoError(t, err)
	signer, err := crypto.NewEd25519Signer("human:a")
	require.NoError(t, err)
	require.NoError(t, record.Sign(rec, signer, record.RoleAuthor, "", time.Unix(1700000001, 0)))
	return rec, task.ID
}

func TestFSStorePutGetRoundTrip(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	rec, id := signedTask(t, "Round Trip")
	_, err = s.Put(ctx, id, rec)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec.Header.PayloadChecksum, got.Header.PayloadChecksum)
	assert.JSONEq(t, string(rec.Payload), string(got.Payload))

	// Invariant 1: checksum of the stored payload matches the header.
	computed, err := record.Checksum(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, got.Header.PayloadChecksum, computed)
}

func TestFSStoreGetMissing(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "1700000000-task-nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestFSStoreListSkipsNonRecords(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	rec, id := signedTask(t, "Listed")
	_, err = s.Put(ctx, id, rec)
	require.NoError(t, err)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestFSStoreDeleteAndExists(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	rec, id := signedTask(t, "Ephemeral")
	_, err = s.Put(ctx, id, rec)
	require.NoError(t, err)

	ok, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, id))

	ok, err = s.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Delete(ctx, id), ErrRecordNotFound)
}

func TestActorEncoderInvertible(t *testing.T) {
	enc := ActorEncoder{}
	for _, id := range []string{"human:alice", "agent:ci-bot"} {
		name := enc.Encode(id)
		assert.NotContains(t, name, ":")
		assert.Equal(t, id, enc.Decode(name))
	}
}

func TestFSSetActorFilenames(t *testing.T) {
	root := t.TempDir()
	set, err := NewFSSet(root)
	require.NoError(t, err)
	ctx := context.Background()

	signer, err := crypto.NewEd25519Signer("human:alice")
	require.NoError(t, err)
	actor, err := record.NewActorRecord("human:alice", record.ActorHuman, "Alice", signer.PublicKey(), []string{"author"})
	require.NoError(t, err)
	rec, err := record.Wrap(record.TypeActor, actor)
	require.NoError(t, err)
	require.NoError(t, record.Sign(rec, signer, record.RoleAuthor, "", time.Now()))

	_, err = set.Actors.Put(ctx, actor.ID, rec)
	require.NoError(t, err)

	ids, err := set.Actors.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"human:alice"}, ids)
}
