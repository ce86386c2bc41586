package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/bitrise-io/go-multipart/upload"
	"github.com/bitrise-io/go-multipart/upload/statestore"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryClient struct {
	mu        sync.Mutex
	initiated int
	uploaded  []int
	bodies    map[int][]byte
	failParts map[int]bool
	contents  map[string][]byte
}

func newMemoryClient() *memoryClient {
	return &memoryClient{
		bodies:    map[int][]byte{},
		failParts: map[int]bool{},
		contents:  map[string][]byte{},
	}
}

func (c *memoryClient) Constraints() upload.Constraints {
	return upload.Constraints{
		MinPartSize:     1,
		MaxParts:        100,
		DefaultPartSize: 4,
		RequiredKeys:    []string{"key"},
		UploadIDKey:     "upload_id",
	}
}

func (c *memoryClient) Initiate(context.Context, *upload.InitiateInput) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initiated++
	return "upload-1", nil
}

func (c *memoryClient) UploadPart(_ context.Context, input *upload.PartInput) (upload.PartMetadata, error) {
	body, err := io.ReadAll(input.Body())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failParts[input.Number()] {
		return nil, errors.New("connection reset")
	}
	c.uploaded = append(c.uploaded, input.Number())
	c.bodies[input.Number()] = body
	return upload.PartMetadata{"etag": "etag"}, nil
}

func (c *memoryClient) Complete(_ context.Context, input *upload.CompleteInput) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, _ := input.ID().Get("key")
	var content []byte
	for _, p := range input.Parts() {
		content = append(content, c.bodies[p.Number]...)
	}
	c.contents[key] = content
	return key, nil
}

func (c *memoryClient) uploadedParts() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := append([]int(nil), c.uploaded...)
	sort.Ints(parts)
	c.uploaded = nil
	return parts
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o600))
}

func memoryID(key string) upload.ID {
	return upload.ID{}.With("key", key)
}

func TestUploadFiles_ResumesFromSavedState(t *testing.T) {
	// Given
	dir := t.TempDir()
	file := filepath.Join(dir, "app.zip")
	content := []byte("0123456789")
	writeFile(t, file, content)

	client := newMemoryClient()
	client.failParts[2] = true
	manager := upload.NewManager[string](client, log.NewLogger())
	store := statestore.NewFileStore(filepath.Join(dir, "state"))
	opts := uploadOptions{prefix: "builds", partSize: 4}
	var reported []string
	report := func(_ string, result string) { reported = append(reported, result) }
	key := objectKey(opts.prefix, file, false)

	// When
	err := uploadFiles(context.Background(), manager, store, []string{file}, memoryID, report, opts, log.NewLogger())

	// Then
	require.Error(t, err)
	assert.Equal(t, []int{1, 3}, client.uploadedParts())
	saved, err := store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, upload.StatusInitiated, saved.Status())
	assert.Len(t, saved.UploadedParts(), 2)

	// When
	client.failParts[2] = false
	err = uploadFiles(context.Background(), manager, store, []string{file}, memoryID, report, opts, log.NewLogger())

	// Then
	require.NoError(t, err)
	assert.Equal(t, []int{2}, client.uploadedParts())
	assert.Equal(t, 1, client.initiated)
	assert.Equal(t, content, client.contents[key])
	assert.Equal(t, []string{key}, reported)
	_, err = store.Load(context.Background(), key)
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestUploadFiles_ContinuesAfterFailure(t *testing.T) {
	// Given
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.bin")
	present := filepath.Join(dir, "present.bin")
	writeFile(t, present, []byte("content"))

	client := newMemoryClient()
	manager := upload.NewManager[string](client, log.NewLogger())
	store := statestore.NewFileStore(filepath.Join(dir, "state"))

	// When
	err := uploadFiles(context.Background(), manager, store, []string{missing, present}, memoryID, func(string, string) {}, uploadOptions{}, log.NewLogger())

	// Then
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.bin")
	assert.Equal(t, []byte("content"), client.contents[objectKey("", present, false)])
}

func TestUploadFiles_Compressed(t *testing.T) {
	// Given
	dir := t.TempDir()
	file := filepath.Join(dir, "data.txt")
	content := bytes.Repeat([]byte("compressible "), 1000)
	writeFile(t, file, content)

	client := newMemoryClient()
	manager := upload.NewManager[string](client, log.NewLogger())
	store := statestore.NewFileStore(filepath.Join(dir, "state"))
	opts := uploadOptions{partSize: 64, compress: true, compressionLevel: 3}

	// When
	err := uploadFiles(context.Background(), manager, store, []string{file}, memoryID, func(string, string) {}, opts, log.NewLogger())

	// Then
	require.NoError(t, err)
	key := objectKey("", file, true)
	uploaded := client.contents[key]
	require.NotEmpty(t, uploaded)
	assert.Less(t, len(uploaded), len(content))

	decoder, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer decoder.Close()
	decoded, err := decoder.DecodeAll(uploaded, nil)
	require.NoError(t, err)
	assert.Equal(t, content, decoded)
}

func TestUploadFiles_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := uploadFiles(ctx, upload.NewManager[string](newMemoryClient(), log.NewLogger()), statestore.NewFileStore(t.TempDir()),
		[]string{"a", "b"}, memoryID, func(string, string) {}, uploadOptions{}, log.NewLogger())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		file       string
		compressed bool
		want       string
	}{
		{name: "relative path", file: "out/app.zip", want: "out/app.zip"},
		{name: "absolute path", file: "/tmp/out/app.zip", want: "tmp/out/app.zip"},
		{name: "parent dir", file: "../../app.zip", want: "app.zip"},
		{name: "prefix", prefix: "builds/42", file: "./app.zip", want: "builds/42/app.zip"},
		{name: "compressed", file: "app.tar", compressed: true, want: "app.tar.zst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, objectKey(tt.prefix, tt.file, tt.compressed))
		})
	}
}

func TestExpandFiles(t *testing.T) {
	// Given
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "b.txt"), []byte("b"))
	writeFile(t, filepath.Join(dir, "a", "c.log"), []byte("c"))
	writeFile(t, filepath.Join(dir, "d.txt"), []byte("d"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))

	// When
	files, err := expandFiles([]string{
		filepath.Join(dir, "**", "*.txt"),
		filepath.Join(dir, "a", "c.log"),
		filepath.Join(dir, "empty"),
		filepath.Join(dir, "missing.bin"),
	}, pathutil.NewPathModifier(), log.NewLogger())

	// Then
	require.NoError(t, err)
	sort.Strings(files)
	assert.Equal(t, []string{
		filepath.Join(dir, "a", "b.txt"),
		filepath.Join(dir, "a", "c.log"),
		filepath.Join(dir, "d.txt"),
	}, files)
}

func TestExpandFiles_NoMatch(t *testing.T) {
	_, err := expandFiles([]string{filepath.Join(t.TempDir(), "*.zip")}, pathutil.NewPathModifier(), log.NewLogger())
	assert.Error(t, err)
}
