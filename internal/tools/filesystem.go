package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/agentgateway/internal/toolregistry"
)

// resolveWithin resolves path against workDir and rejects anything that
// escapes it, following symlinks so a symlinked escape is also caught.
func resolveWithin(workDir, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workDir, candidate)
	}
	cleaned := filepath.Clean(candidate)

	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	real := cleaned
	if resolved, err := filepath.EvalSymlinks(cleaned); err == nil {
		real = resolved
	} else if resolved, err := filepath.EvalSymlinks(filepath.Dir(cleaned)); err == nil {
		real = filepath.Join(resolved, filepath.Base(cleaned))
	}

	rel, err := filepath.Rel(absWork, real)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == "../" {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	if rel == ".." {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return cleaned, nil
}

// RegisterFilesystem adds the "read_file" and "write_file" tools, both
// confined to workDir. Writes create parent directories as needed.
func RegisterFilesystem(reg *toolregistry.Registry, workDir string) {
	reg.Register("read_file", "Read the contents of a file", toolregistry.Schema{
		Properties: map[string]toolregistry.Property{
			"path": {Type: "string", Description: "Path to the file, relative to the workspace"},
		},
		Required: []string{"path"},
	}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		path, _ := args["path"].(string)
		resolved, err := resolveWithin(workDir, path)
		if err != nil {
			return toolregistry.Result{}, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return toolregistry.NewResult(fmt.Sprintf("Error: failed to read file: %v", err)), nil
		}
		return toolregistry.NewResult(string(data)), nil
	})

	reg.Register("write_file", "Write content to a file, overwriting it if it exists", toolregistry.Schema{
		Properties: map[string]toolregistry.Property{
			"path":    {Type: "string", Description: "Path to the file, relative to the workspace"},
			"content": {Type: "string", Description: "Content to write"},
		},
		Required: []string{"path", "content"},
	}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		resolved, err := resolveWithin(workDir, path)
		if err != nil {
			return toolregistry.Result{}, err
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return toolregistry.NewResult(fmt.Sprintf("Error: failed to create directories: %v", err)), nil
		}
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			return toolregistry.NewResult(fmt.Sprintf("Error: failed to write file: %v", err)), nil
		}
		return toolregistry.NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
	})
}
