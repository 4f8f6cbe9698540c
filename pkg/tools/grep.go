package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/invopop/jsonschema"

	"github.com/laceai/lace/pkg/toolexec"
	"github.com/laceai/lace/pkg/utils"
)

// MaxGrepResults bounds how many matching files one grep call returns.
const MaxGrepResults = 100

// GrepTool searches file contents for a regex pattern.
type GrepTool struct{}

// GrepInput is the tool's JSON input shape.
type GrepInput struct {
	Pattern string `json:"pattern" jsonschema:"description=The regex pattern to search for,required"`
	Path    string `json:"path" jsonschema:"description=The absolute path to search; defaults to the current directory"`
	Include string `json:"include" jsonschema:"description=Optional glob to restrict which files are searched e.g. '*.go' or '*.{go,py}'"`
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return `Search file contents for a regex pattern.

Prefer this over invoking grep/egrep through the bash tool. Binary files and
hidden files/directories (those starting with '.') are skipped. Results are
capped at 100 matching files, sorted by modification time (newest first);
narrow the pattern or the include glob if you see a truncation notice.`
}

func (t *GrepTool) InputSchema() *jsonschema.Schema {
	return toolexec.GenerateSchema[GrepInput]()
}

func (t *GrepTool) RequiresApproval() bool { return false }

// grepMatch is one matched line within a file.
type grepMatch struct {
	LineNumber int
	Content    string
}

// grepFileResult is every match found within a single file.
type grepFileResult struct {
	Filename string
	Matches  []grepMatch
}

func (t *GrepTool) Execute(ctx context.Context, _ toolexec.Context, raw json.RawMessage) (toolexec.ToolResult, error) {
	var input GrepInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "invalid grep input: "+err.Error()), nil
	}
	if input.Pattern == "" {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "pattern is required"), nil
	}

	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "invalid regex pattern: "+err.Error()), nil
	}

	root := input.Path
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to resolve working directory: "+err.Error()), nil
		}
	}

	results, err := searchDirectory(ctx, root, re, input.Include)
	if err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "search failed: "+err.Error()), nil
	}

	sortGrepResultsByModTime(results)

	truncated := false
	if len(results) > MaxGrepResults {
		truncated = true
		results = results[:MaxGrepResults]
	}

	content := formatGrepResults(input.Pattern, results)
	if truncated {
		content += "\n\n[truncated: more than 100 files matched]"
	}

	return toolexec.ToolResult{
		Content: content,
		Metadata: map[string]interface{}{
			"pattern":   input.Pattern,
			"path":      root,
			"truncated": truncated,
		},
	}, nil
}

func formatGrepResults(pattern string, results []grepFileResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("no matches found for pattern %q", pattern)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "search results for pattern %q:\n", pattern)
	for _, r := range results {
		fmt.Fprintf(&sb, "\n%s:\n", r.Filename)
		for _, m := range r.Matches {
			fmt.Fprintf(&sb, "%d:%s\n", m.LineNumber, m.Content)
		}
	}
	return sb.String()
}

func isFileIncluded(filename, includePattern string) bool {
	if includePattern == "" {
		return true
	}
	matched, err := doublestar.PathMatch(includePattern, filename)
	return err == nil && matched
}

func searchFileForPattern(filename string, re *regexp.Regexp) (grepFileResult, error) {
	result := grepFileResult{Filename: filename}

	file, err := os.Open(filename)
	if err != nil {
		return result, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		if re.MatchString(scanner.Text()) {
			result.Matches = append(result.Matches, grepMatch{LineNumber: lineNumber, Content: scanner.Text()})
		}
	}
	return result, scanner.Err()
}

func searchDirectory(ctx context.Context, root string, re *regexp.Regexp, includePattern string) ([]grepFileResult, error) {
	var results []grepFileResult

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}

		baseName := filepath.Base(path)
		if strings.HasPrefix(baseName, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !isFileIncluded(relPath, includePattern) && !isFileIncluded(baseName, includePattern) {
			return nil
		}
		if utils.IsBinaryFile(path) {
			return nil
		}

		result, err := searchFileForPattern(path, re)
		if err != nil {
			return nil
		}
		if len(result.Matches) > 0 {
			results = append(results, result)
		}
		return nil
	})

	return results, err
}

func sortGrepResultsByModTime(results []grepFileResult) {
	modTimes := make(map[string]int64, len(results))
	for _, r := range results {
		if info, err := os.Stat(r.Filename); err == nil {
			modTimes[r.Filename] = info.ModTime().Unix()
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return modTimes[results[i].Filename] > modTimes[results[j].Filename]
	})
}
