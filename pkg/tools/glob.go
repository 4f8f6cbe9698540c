package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/invopop/jsonschema"

	"github.com/laceai/lace/pkg/toolexec"
)

// excludedHighVolumeDirs skips directories that would flood glob results
// with thousands of irrelevant files.
var excludedHighVolumeDirs = map[string]bool{
	".git": true, "node_modules": true, ".next": true, ".nuxt": true,
	"dist": true, "build": true, ".cache": true, ".parcel-cache": true,
	"coverage": true, ".nyc_output": true, ".pytest_cache": true,
	"__pycache__": true, ".venv": true, "venv": true, ".tox": true,
	"vendor": true, ".terraform": true, ".serverless": true, "target": true,
	".turbo": true, ".yarn": true, "bower_components": true,
}

// MaxGlobResults bounds how many files one glob call returns.
const MaxGlobResults = 100

// GlobTool finds files by glob pattern.
type GlobTool struct{}

// GlobInput is the tool's JSON input shape.
type GlobInput struct {
	Pattern           string `json:"pattern" jsonschema:"description=The glob pattern e.g. '*.go' or '**/*.go',required"`
	Path              string `json:"path" jsonschema:"description=Absolute path to search in; defaults to the current directory"`
	IncludeHighVolume bool   `json:"include_high_volume,omitempty" jsonschema:"description=Include high-volume directories like .git and node_modules (default false)"`
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return `Find files matching a glob pattern.

High-volume directories (node_modules, .git, build outputs, etc.) are
skipped by default. Results are capped at 100 files, sorted by
modification time (newest first). This tool matches filenames only; use
grep for file content matching.`
}

func (t *GlobTool) InputSchema() *jsonschema.Schema {
	return toolexec.GenerateSchema[GlobInput]()
}

func (t *GlobTool) RequiresApproval() bool { return false }

func shouldExcludeGlobPath(path string, includeHighVolume bool) bool {
	if includeHighVolume {
		return false
	}
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if excludedHighVolumeDirs[part] {
			return true
		}
	}
	return false
}

func (t *GlobTool) Execute(_ context.Context, _ toolexec.Context, raw json.RawMessage) (toolexec.ToolResult, error) {
	var input GlobInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "invalid glob input: "+err.Error()), nil
	}
	if input.Pattern == "" {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "pattern is required"), nil
	}
	if input.Path != "" && !filepath.IsAbs(input.Path) {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "path must be an absolute path"), nil
	}

	searchPath := input.Path
	if searchPath == "" {
		var err error
		searchPath, err = os.Getwd()
		if err != nil {
			return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to resolve working directory: "+err.Error()), nil
		}
	}

	type match struct {
		path    string
		modTime time.Time
	}
	var matches []match

	err := doublestar.GlobWalk(os.DirFS(searchPath), input.Pattern, func(path string, d fs.DirEntry) error {
		if shouldExcludeGlobPath(path, input.IncludeHighVolume) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		absPath := filepath.Join(searchPath, path)
		info, err := os.Stat(absPath)
		if err != nil {
			return nil
		}
		matches = append(matches, match{path: absPath, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "error walking path: "+err.Error()), nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].modTime.After(matches[j].modTime) })

	truncated := false
	if len(matches) > MaxGlobResults {
		matches = matches[:MaxGlobResults]
		truncated = true
	}

	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(m.path)
		sb.WriteString("\n")
	}
	if truncated {
		sb.WriteString(fmt.Sprintf("\n[truncated to %d files; refine your pattern]\n", MaxGlobResults))
	}

	return toolexec.ToolResult{
		Content: sb.String(),
		Metadata: map[string]interface{}{
			"pattern":   input.Pattern,
			"path":      searchPath,
			"truncated": truncated,
		},
	}, nil
}
