package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bitrise-io/go-multipart/upload"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resumedState(t *testing.T) *upload.State {
	t.Helper()

	id := upload.ID{}.With("bucket", "b").With("key", "k").With("upload_id", "u-1")
	state, err := upload.ResumeState(id, "upload_id", 5, []upload.UploadedPart{
		{Number: 2, Metadata: upload.PartMetadata{"etag": "e2"}},
		{Number: 1, Metadata: upload.PartMetadata{"etag": "e1"}},
	})
	require.NoError(t, err)
	return state
}

func assertSameState(t *testing.T, want, got *upload.State) {
	t.Helper()

	assert.Equal(t, want.ID(), got.ID())
	assert.Equal(t, want.UploadID(), got.UploadID())
	assert.Equal(t, want.PartSize(), got.PartSize())
	assert.Equal(t, want.Status(), got.Status())
	assert.Equal(t, want.UploadedParts(), got.UploadedParts())
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return s, client
}

func stores(t *testing.T) map[string]Store {
	_, client := setupTestRedis(t)
	return map[string]Store{
		"file":  NewFileStore(filepath.Join(t.TempDir(), "states")),
		"redis": NewRedisStore(client, "", 0),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// Given
			ctx := context.Background()
			state := resumedState(t)

			// When
			require.NoError(t, store.Save(ctx, "artifacts/app.zip", state))
			got, err := store.Load(ctx, "artifacts/app.zip")

			// Then
			require.NoError(t, err)
			assertSameState(t, state, got)
			assert.True(t, got.HasPartBeenUploaded(2))
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// Given
			ctx := context.Background()
			state := resumedState(t)
			require.NoError(t, store.Save(ctx, "key", state))

			// When
			require.NoError(t, state.MarkPartAsUploaded(3, upload.PartMetadata{"etag": "e3"}))
			require.NoError(t, store.Save(ctx, "key", state))
			got, err := store.Load(ctx, "key")

			// Then
			require.NoError(t, err)
			assert.Len(t, got.UploadedParts(), 3)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// Given
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "key", resumedState(t)))

			// When
			require.NoError(t, store.Delete(ctx, "key"))

			// Then
			_, err := store.Load(ctx, "key")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.NoError(t, store.Delete(ctx, "key"))
		})
	}
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	// Given
	dir := t.TempDir()
	store := NewFileStore(dir)

	// When
	require.NoError(t, store.Save(context.Background(), "a", resumedState(t)))
	require.NoError(t, store.Save(context.Background(), "b", resumedState(t)))

	// Then
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, ".json", filepath.Ext(e.Name()))
	}
}

func TestFileStore_CorruptState(t *testing.T) {
	// Given
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, os.WriteFile(store.path("key"), []byte(`{"part_size":0}`), 0o600))

	// When
	_, err := store.Load(context.Background(), "key")

	// Then
	assert.ErrorIs(t, err, upload.ErrInvalidState)
}

func TestRedisStore_TTL(t *testing.T) {
	// Given
	server, client := setupTestRedis(t)
	store := NewRedisStore(client, "test:", time.Hour)
	ctx := context.Background()

	// When
	require.NoError(t, store.Save(ctx, "key", resumedState(t)))

	// Then
	assert.True(t, server.Exists("test:key"))
	assert.Equal(t, time.Hour, server.TTL("test:key"))

	server.FastForward(2 * time.Hour)
	_, err := store.Load(ctx, "key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	// Given
	server, client := setupTestRedis(t)
	store := NewRedisStore(client, "", 0)
	server.Close()

	// When
	err := store.Save(context.Background(), "key", resumedState(t))

	// Then
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
