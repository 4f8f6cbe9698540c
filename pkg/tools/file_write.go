package tools

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/laceai/lace/pkg/toolexec"
	"github.com/laceai/lace/pkg/utils"
)

// FileWriteTool overwrites (or creates) a file with the given text.
type FileWriteTool struct{}

// FileWriteInput is the tool's JSON input shape.
type FileWriteInput struct {
	FilePath string `json:"file_path" jsonschema:"description=The absolute path of the file to write,required"`
	Text     string `json:"text" jsonschema:"description=The text of the file MUST BE provided"`
}

func (t *FileWriteTool) Name() string { return "file_write" }

func (t *FileWriteTool) Description() string {
	return `Writes a file with the given text, overwriting it if it already exists.
text must not be empty; use the bash tool's touch command to create an empty
file instead. Make sure the file's directory already exists before writing.`
}

func (t *FileWriteTool) InputSchema() *jsonschema.Schema {
	return toolexec.GenerateSchema[FileWriteInput]()
}

func (t *FileWriteTool) RequiresApproval() bool { return true }

func (t *FileWriteTool) Execute(_ context.Context, _ toolexec.Context, raw json.RawMessage) (toolexec.ToolResult, error) {
	var input FileWriteInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "invalid file_write input: "+err.Error()), nil
	}
	if input.Text == "" {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "text is required; use the bash tool's touch command to create an empty file"), nil
	}

	if err := os.WriteFile(input.FilePath, []byte(input.Text), 0o644); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to write file: "+err.Error()), nil
	}

	lines := strings.Split(input.Text, "\n")
	return toolexec.ToolResult{
		Content: "file " + input.FilePath + " written successfully\n\n" + utils.ContentWithLineNumber(lines, 1),
		Metadata: map[string]interface{}{
			"file_path": input.FilePath,
			"size":      len(input.Text),
			"language":  utils.DetectLanguageFromPath(input.FilePath),
		},
	}, nil
}
