package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fractal/internal/tool"
)

// FileConfig scopes file tools to a root directory; paths escaping root
// are rejected, the usual sandboxing for an LLM-driven write tool.
type FileConfig struct {
	Root string
}

func (c FileConfig) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.Join(c.Root, path))
	if !strings.HasPrefix(clean, filepath.Clean(c.Root)) {
		return "", fmt.Errorf("path %q escapes root %q", path, c.Root)
	}
	return clean, nil
}

// NewReadFile builds the read_file read-only tool.
func NewReadFile(cfg FileConfig) tool.Tool {
	return tool.Tool{
		Name:        "read_file",
		Description: "Read the full contents of a text file.",
		IsReadonly:  true,
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			path, _ := args["path"].(string)
			resolved, err := cfg.resolve(path)
			if err != nil {
				return "", nil, err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return "", nil, fmt.Errorf("read_file: %w", err)
			}
			return string(data), map[string]any{"bytes": len(data)}, nil
		},
	}
}

// NewWriteFile builds the write_file write tool (serialized by the
// executor's batch scheduler against all other write calls).
func NewWriteFile(cfg FileConfig) tool.Tool {
	return tool.Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed.",
		IsReadonly:  false,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			resolved, err := cfg.resolve(path)
			if err != nil {
				return "", nil, err
			}
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return "", nil, fmt.Errorf("write_file: %w", err)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return "", nil, fmt.Errorf("write_file: %w", err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), map[string]any{"bytes": len(content)}, nil
		},
	}
}
