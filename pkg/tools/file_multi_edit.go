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

// FileMultiEditTool replaces a bounded number of occurrences of old_text with
// new_text. Prefer this over file_edit when the same replacement applies
// to several occurrences.
type FileMultiEditTool struct{}

// FileMultiEditInput is the tool's JSON input shape.
type FileMultiEditInput struct {
	FilePath   string `json:"file_path" jsonschema:"description=The absolute path of the file to edit,required"`
	OldText    string `json:"old_text" jsonschema:"description=The text to be replaced,required"`
	NewText    string `json:"new_text" jsonschema:"description=The text to replace old_text with,required"`
	Occurrence int    `json:"occurrence" jsonschema:"description=Number of occurrences to replace; must be greater than 0,required"`
}

func (t *FileMultiEditTool) Name() string { return "file_multi_edit" }

func (t *FileMultiEditTool) Description() string {
	return `Edit a file by replacing a bounded number of occurrences of old_text with
new_text. Prefer this over file_edit when the same replacement applies
several times (renames, repeated patterns). If the file has fewer
occurrences than requested, all of them are replaced and the tool reports
the actual count. Read the file before editing it.`
}

func (t *FileMultiEditTool) InputSchema() *jsonschema.Schema {
	return toolexec.GenerateSchema[FileMultiEditInput]()
}

func (t *FileMultiEditTool) RequiresApproval() bool { return true }

func (t *FileMultiEditTool) Execute(_ context.Context, _ toolexec.Context, raw json.RawMessage) (toolexec.ToolResult, error) {
	var input FileMultiEditInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "invalid file_multi_edit input: "+err.Error()), nil
	}
	if input.Occurrence <= 0 {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "occurrence must be greater than 0"), nil
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

	if !strings.Contains(original, input.OldText) {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "old_text not found in the file"), nil
	}

	updated := strings.Replace(original, input.OldText, input.NewText, input.Occurrence)
	if err := os.WriteFile(input.FilePath, []byte(updated), 0o644); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to write file: "+err.Error()), nil
	}

	actualReplaced := strings.Count(original, input.OldText) - strings.Count(updated, input.OldText)
	startLine, _ := findLineNumber(original, input.OldText)
	preview := utils.ContentWithLineNumber(strings.Split(input.NewText, "\n"), startLine)

	msg := fmt.Sprintf("file %s edited successfully, replaced %d occurrence(s)\n\nexample edited block:\n%s",
		input.FilePath, actualReplaced, preview)

	return toolexec.ToolResult{
		Content: msg,
		Metadata: map[string]interface{}{
			"file_path":       input.FilePath,
			"language":        utils.DetectLanguageFromPath(input.FilePath),
			"actual_replaced": actualReplaced,
		},
	}, nil
}
