package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/laceai/lace/pkg/toolexec"
	"github.com/laceai/lace/pkg/utils"
)

// FileEditTool replaces text within an existing file.
type FileEditTool struct{}

// FileEditInput is the tool's JSON input shape.
type FileEditInput struct {
	FilePath   string `json:"file_path" jsonschema:"description=The absolute path of the file to edit,required"`
	OldText    string `json:"old_text" jsonschema:"description=The text to be replaced,required"`
	NewText    string `json:"new_text" jsonschema:"description=The text to replace old_text with,required"`
	ReplaceAll bool   `json:"replace_all" jsonschema:"description=If true, replace all occurrences; if false (default) old_text must be unique"`
}

func (t *FileEditTool) Name() string { return "file_edit" }

func (t *FileEditTool) Description() string {
	return `Edit a file by replacing old_text with new_text.

If you are creating a new file, use the file_write tool instead.

- old_text must exactly match a block of the file, spaces and indentation included.
- By default old_text must be unique in the file and only one occurrence is
  replaced; set replace_all to replace every occurrence (useful for renames).
- Include a few lines of surrounding context in old_text to make it unique.
- Read the file before editing it.`
}

func (t *FileEditTool) InputSchema() *jsonschema.Schema {
	return toolexec.GenerateSchema[FileEditInput]()
}

func (t *FileEditTool) RequiresApproval() bool { return true }

func (t *FileEditTool) Execute(_ context.Context, _ toolexec.Context, raw json.RawMessage) (toolexec.ToolResult, error) {
	var input FileEditInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "invalid file_edit input: "+err.Error()), nil
	}
	if input.FilePath == "" || input.OldText == "" {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "file_path and old_text are required"), nil
	}

	content, err := os.ReadFile(input.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return toolexec.ErrorResult(toolexec.CategoryValidation,
				fmt.Sprintf("file %s does not exist, use the file_write tool to create it", input.FilePath)), nil
		}
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to read file: "+err.Error()), nil
	}
	original := string(content)

	occurrences := strings.Count(original, input.OldText)
	if occurrences == 0 {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "old_text not found in the file"), nil
	}
	if !input.ReplaceAll && occurrences > 1 {
		return toolexec.ErrorResult(toolexec.CategoryValidation,
			fmt.Sprintf("old_text appears %d times; make it unique or set replace_all", occurrences)), nil
	}

	startLine, _ := findLineNumber(original, input.OldText)

	var updated string
	var replacedCount int
	if input.ReplaceAll {
		updated = strings.ReplaceAll(original, input.OldText, input.NewText)
		replacedCount = occurrences
	} else {
		updated = strings.Replace(original, input.OldText, input.NewText, 1)
		replacedCount = 1
	}

	if err := os.WriteFile(input.FilePath, []byte(updated), 0o644); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to write file: "+err.Error()), nil
	}

	editedLines := strings.Split(input.NewText, "\n")
	preview := utils.ContentWithLineNumber(editedLines, startLine)

	msg := fmt.Sprintf("file %s edited successfully, replaced %d occurrence(s)\n\nedited block:\n%s",
		input.FilePath, replacedCount, preview)

	return toolexec.ToolResult{
		Content: msg,
		Metadata: map[string]interface{}{
			"file_path":      input.FilePath,
			"language":       utils.DetectLanguageFromPath(input.FilePath),
			"replaced_count": replacedCount,
			"replace_all":    input.ReplaceAll,
		},
	}, nil
}

// findLineNumber returns the 1-indexed start and end line of the first
// occurrence of needle within content, matched line-by-line first and
// falling back to a raw substring search.
func findLineNumber(content, needle string) (start, end int) {
	lines := strings.Split(content, "\n")
	needleLines := strings.Split(needle, "\n")

	for i := 0; i <= len(lines)-len(needleLines); i++ {
		match := true
		for j, nl := range needleLines {
			if lines[i+j] != nl {
				match = false
				break
			}
		}
		if match {
			return i + 1, i + len(needleLines)
		}
	}

	pos := strings.Index(content, needle)
	if pos == -1 {
		return 1, 1
	}
	line := strings.Count(content[:pos], "\n") + 1
	return line, line + strings.Count(needle, "\n")
}
