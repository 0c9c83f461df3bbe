package toolkit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
)

func TestCreateFile_ForwardAndReverse(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	tools := NewFileTools(dir)
	spec := tools.CreateFileSpec()

	args := map[string]any{"path": "notes/t.txt", "content": "hello"}
	result, err := spec.Forward(ctx, args)
	assert.NoError(t, err)

	path := filepath.Join(dir, "notes", "t.txt")
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Creating the same file twice fails.
	_, err = spec.Forward(ctx, args)
	assert.Error(t, err)

	assert.NoError(t, spec.Reverse(ctx, args, result))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Reverse of an already-removed file is a no-op.
	assert.NoError(t, spec.Reverse(ctx, args, result))
}

func TestAppendFile_ReverseRestoresSize(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	tools := NewFileTools(dir)
	spec := tools.AppendFileSpec()
	path := filepath.Join(dir, "log.txt")

	assert.NoError(t, os.WriteFile(path, []byte("start\n"), 0644))

	args := map[string]any{"path": "log.txt", "content": "more\n"}
	result, err := spec.Forward(ctx, args)
	assert.NoError(t, err)
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "start\nmore\n", string(data))

	assert.NoError(t, spec.Reverse(ctx, args, result))
	data, err = os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "start\n", string(data))
}

func TestAppendFile_ReverseRemovesCreatedFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	tools := NewFileTools(dir)
	spec := tools.AppendFileSpec()

	args := map[string]any{"path": "fresh.txt", "content": "only line\n"}
	result, err := spec.Forward(ctx, args)
	assert.NoError(t, err)

	// The recorded result round-trips through JSON, so sizes arrive as
	// float64 when replayed from the store.
	recorded := map[string]any{"path": result.(map[string]any)["path"], "prior_size": float64(0)}
	assert.NoError(t, spec.Reverse(ctx, args, recorded))
	_, err = os.Stat(filepath.Join(dir, "fresh.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileTools_RejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	tools := NewFileTools(t.TempDir())

	_, err := tools.CreateFileSpec().Forward(ctx, map[string]any{"path": "../outside.txt"})
	assert.Error(t, err)
	_, err = tools.CreateFileSpec().Forward(ctx, map[string]any{"path": ""})
	assert.Error(t, err)
}
