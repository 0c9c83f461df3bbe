// Package toolkit provides ready-made reversible tool specs for the
// invocation track. All paths are confined to a base directory.
package toolkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepnoodle-ai/rewind/schema"
	"github.com/deepnoodle-ai/rewind/track"
)

// FileTools builds reversible file tool specs rooted at baseDir.
type FileTools struct {
	baseDir string
}

// NewFileTools creates file tools confined to baseDir.
func NewFileTools(baseDir string) *FileTools {
	return &FileTools{baseDir: baseDir}
}

// Specs returns the tool specs to register.
func (t *FileTools) Specs() []*track.Spec {
	return []*track.Spec{t.CreateFileSpec(), t.AppendFileSpec()}
}

// CreateFileSpec returns a create_file tool whose reverse deletes the
// created file.
func (t *FileTools) CreateFileSpec() *track.Spec {
	return &track.Spec{
		Name:        "create_file",
		Description: "Create a text file with the given content. Fails if the file already exists.",
		Parameters: schema.Schema{
			Type: "object",
			Properties: map[string]*schema.Property{
				"path":    {Type: "string", Description: "File path relative to the working directory"},
				"content": {Type: "string", Description: "File content"},
			},
			Required: []string{"path"},
		},
		Forward: t.createFile,
		Reverse: t.deleteCreatedFile,
	}
}

func (t *FileTools) createFile(ctx context.Context, args map[string]any) (any, error) {
	path, err := t.resolve(args)
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return map[string]any{"path": path, "bytes": len(content)}, nil
}

func (t *FileTools) deleteCreatedFile(ctx context.Context, args map[string]any, result any) error {
	path, err := t.resolve(args)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// AppendFileSpec returns an append_file tool whose reverse truncates the
// file back to its recorded prior size.
func (t *FileTools) AppendFileSpec() *track.Spec {
	return &track.Spec{
		Name:        "append_file",
		Description: "Append text to an existing file, creating it if absent.",
		Parameters: schema.Schema{
			Type: "object",
			Properties: map[string]*schema.Property{
				"path":    {Type: "string", Description: "File path relative to the working directory"},
				"content": {Type: "string", Description: "Text to append"},
			},
			Required: []string{"path", "content"},
		},
		Forward: t.appendFile,
		Reverse: t.truncateAppended,
	}
}

func (t *FileTools) appendFile(ctx context.Context, args map[string]any) (any, error) {
	path, err := t.resolve(args)
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)

	var priorSize int64
	if info, err := os.Stat(path); err == nil {
		priorSize = info.Size()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return nil, fmt.Errorf("failed to append: %w", err)
	}
	return map[string]any{"path": path, "prior_size": priorSize}, nil
}

func (t *FileTools) truncateAppended(ctx context.Context, args map[string]any, result any) error {
	path, err := t.resolve(args)
	if err != nil {
		return err
	}
	m, ok := result.(map[string]any)
	if !ok {
		return fmt.Errorf("append_file reverse requires the recorded result")
	}
	priorSize, err := sizeFrom(m["prior_size"])
	if err != nil {
		return err
	}
	if priorSize == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove file: %w", err)
		}
		return nil
	}
	return os.Truncate(path, priorSize)
}

// resolve joins the path argument with the base directory and rejects
// escapes above it.
func (t *FileTools) resolve(args map[string]any) (string, error) {
	raw, _ := args["path"].(string)
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("path is required")
	}
	path := raw
	if t.baseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(t.baseDir, path)
	}
	path = filepath.Clean(path)
	if t.baseDir != "" {
		base := filepath.Clean(t.baseDir)
		if path != base && !strings.HasPrefix(path, base+string(filepath.Separator)) {
			return "", fmt.Errorf("path escapes working directory: %s", raw)
		}
	}
	return path, nil
}

func sizeFrom(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("invalid recorded size %T", v)
	}
}
