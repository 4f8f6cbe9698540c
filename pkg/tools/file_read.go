package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/laceai/lace/pkg/toolexec"
	"github.com/laceai/lace/pkg/utils"
)

// MaxReadBytes bounds how much of a file one read call returns.
const MaxReadBytes = 100_000

// FileReadTool reads a file, line-numbered, from a 1-indexed offset.
type FileReadTool struct{}

// FileReadInput is the tool's JSON input shape.
type FileReadInput struct {
	FilePath string `json:"file_path" jsonschema:"description=The absolute path of the file to read"`
	Offset   int    `json:"offset" jsonschema:"description=The 1-indexed line number to start reading from,default=1,minimum=1"`
}

func (r *FileReadTool) Name() string { return "file_read" }

func (r *FileReadTool) Description() string {
	return `Reads a file and returns its contents with line numbers, starting from offset
(1-indexed, default 1). Use a non-default offset to read large files in
chunks; use the batch tool to read multiple files in one turn.`
}

func (r *FileReadTool) InputSchema() *jsonschema.Schema {
	return toolexec.GenerateSchema[FileReadInput]()
}

func (r *FileReadTool) RequiresApproval() bool { return false }

func (r *FileReadTool) Execute(_ context.Context, _ toolexec.Context, raw json.RawMessage) (toolexec.ToolResult, error) {
	var input FileReadInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "invalid file_read input: "+err.Error()), nil
	}
	if input.FilePath == "" {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "file_path is required"), nil
	}
	if input.Offset < 0 {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "offset must be a positive integer"), nil
	}
	if input.Offset == 0 {
		input.Offset = 1
	}

	file, err := os.Open(input.FilePath)
	if err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "failed to open file: "+err.Error()), nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineCount := 1
	for lineCount < input.Offset && scanner.Scan() {
		lineCount++
	}
	if lineCount < input.Offset {
		return toolexec.ErrorResult(toolexec.CategoryValidation,
			fmt.Sprintf("file has only %d lines, less than the requested offset %d", lineCount-1, input.Offset)), nil
	}

	var lines []string
	bytesRead := 0
	for bytesRead < MaxReadBytes && scanner.Scan() {
		lines = append(lines, scanner.Text())
		bytesRead += len(scanner.Bytes())
	}
	if bytesRead >= MaxReadBytes {
		lines = append(lines, fmt.Sprintf("... [truncated at %d bytes]", MaxReadBytes))
	}
	if err := scanner.Err(); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "error reading file: "+err.Error()), nil
	}

	return toolexec.ToolResult{Content: utils.ContentWithLineNumber(lines, input.Offset)}, nil
}
