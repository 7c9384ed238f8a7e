package builtin

import (
	"context"
	"fmt"
	"os"

	"github.com/sergi/go-diff/diffmatchpatch"

	"fractal/internal/tool"
)

// NewPatchFile builds the patch_file write tool: applies a unified-diff-
// style patch (generated via diffmatchpatch) to an existing file.
func NewPatchFile(cfg FileConfig) tool.Tool {
	return tool.Tool{
		Name:        "patch_file",
		Description: "Apply a unified diff patch to an existing file.",
		IsReadonly:  false,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":  map[string]any{"type": "string"},
				"patch": map[string]any{"type": "string"},
			},
			"required": []string{"path", "patch"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			path, _ := args["path"].(string)
			patchText, _ := args["patch"].(string)
			resolved, err := cfg.resolve(path)
			if err != nil {
				return "", nil, err
			}

			original, err := os.ReadFile(resolved)
			if err != nil {
				return "", nil, fmt.Errorf("patch_file: reading %s: %w", path, err)
			}

			dmp := diffmatchpatch.New()
			patches, err := dmp.PatchFromText(patchText)
			if err != nil {
				return "", nil, fmt.Errorf("patch_file: parsing patch: %w", err)
			}

			patched, applied := dmp.PatchApply(patches, string(original))
			failed := 0
			for _, ok := range applied {
				if !ok {
					failed++
				}
			}
			if failed > 0 {
				return "", nil, fmt.Errorf("patch_file: %d of %d hunks failed to apply", failed, len(applied))
			}

			if err := os.WriteFile(resolved, []byte(patched), 0o644); err != nil {
				return "", nil, fmt.Errorf("patch_file: writing %s: %w", path, err)
			}
			return fmt.Sprintf("applied %d hunks to %s", len(applied), path), map[string]any{"hunks": len(applied)}, nil
		},
	}
}
