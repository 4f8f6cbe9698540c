// Package tools implements the concrete Tool Executor collaborators: bash,
// file read/write/edit, grep, glob, and a batch dispatcher. Each tool
// implements toolexec.Tool: Execute(ctx, toolexec.Context,
// json.RawMessage) (ToolResult, error).
package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/shlex"
	"github.com/invopop/jsonschema"

	"github.com/laceai/lace/pkg/osutil"
	"github.com/laceai/lace/pkg/toolexec"
)

// bannedCommands lists interactive/paging commands that never make sense
// for a non-interactive tool call.
var bannedCommands = []string{"vim", "view", "less", "more", "cd"}

// BashTool executes shell commands, foreground or background.
type BashTool struct {
	allowedCommands []string
	compiledGlobs   []glob.Glob
	workDir         string // base dir for .lace/<pid>/out.log when tctx carries none
}

// NewBashTool constructs a BashTool. An empty allowedCommands falls back to
// the bannedCommands denylist.
func NewBashTool(allowedCommands []string) *BashTool {
	globs := make([]glob.Glob, len(allowedCommands))
	for i, pattern := range allowedCommands {
		globs[i] = glob.MustCompile(pattern)
	}
	return &BashTool{allowedCommands: allowedCommands, compiledGlobs: globs}
}

func (b *BashTool) matchesCommand(command string) bool {
	for _, g := range b.compiledGlobs {
		if g.Match(command) {
			return true
		}
	}
	return false
}

// BashInput is the tool's JSON input shape.
type BashInput struct {
	Description string `json:"description" jsonschema:"description=A description of the command to run"`
	Command     string `json:"command" jsonschema:"description=The bash command to run"`
	Timeout     int    `json:"timeout" jsonschema:"description=The timeout for the command in seconds,default=10"`
	Background  bool   `json:"background" jsonschema:"description=Whether to run the command in the background,default=false"`
}

// maxOutputChars is the length in bytes past which truncate cuts command
// output and marks the cut.
const maxOutputChars = 30000

func (b *BashTool) Name() string { return "bash" }

func (b *BashTool) Description() string {
	return `Executes a given bash command in a fresh process with a timeout.

* The command argument is required; description must summarize it in 5-10 words.
* Foreground commands must specify a timeout between 10 and 120 seconds.
* Background commands (background=true) must specify timeout=0 and run detached;
  output is written to .lace/<pid>/out.log and the tool returns immediately.
* Use ';' or '&&' to chain commands; the command must not be multiline.
* Prefer the grep and glob tools over invoking grep/find through bash.`
}

func (b *BashTool) InputSchema() *jsonschema.Schema {
	return toolexec.GenerateSchema[BashInput]()
}

func (b *BashTool) RequiresApproval() bool { return true }

func (b *BashTool) Execute(ctx context.Context, tctx toolexec.Context, raw json.RawMessage) (toolexec.ToolResult, error) {
	var input BashInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "invalid bash input: "+err.Error()), nil
	}
	if err := validateBashInput(b, input); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, err.Error()), nil
	}

	if input.Background {
		return b.executeBackground(ctx, tctx, input)
	}
	return b.executeForeground(ctx, input)
}

func validateBashInput(b *BashTool, input BashInput) error {
	if input.Command == "" {
		return fmt.Errorf("command is required")
	}
	if input.Description == "" {
		return fmt.Errorf("description is required")
	}
	if input.Background {
		if input.Timeout != 0 {
			return fmt.Errorf("background processes must have timeout=0 (no timeout)")
		}
	} else if input.Timeout < 10 || input.Timeout > 120 {
		return fmt.Errorf("timeout must be between 10 and 120 seconds")
	}

	validateOne := func(command string) error {
		command = strings.TrimSpace(command)
		if command == "" {
			return nil
		}
		words, err := shlex.Split(command)
		if err != nil || len(words) == 0 {
			return fmt.Errorf("could not parse command: %s", command)
		}
		firstWord := words[0]
		if len(b.allowedCommands) > 0 {
			if !b.matchesCommand(command) {
				return fmt.Errorf("command not in allowed list: %s", command)
			}
			return nil
		}
		for _, banned := range bannedCommands {
			if firstWord == banned {
				return fmt.Errorf("command is banned: %s", firstWord)
			}
		}
		return nil
	}

	commands := []string{input.Command}
	for _, op := range []string{"&&", "||", ";"} {
		var next []string
		for _, c := range commands {
			next = append(next, strings.Split(c, op)...)
		}
		commands = next
	}
	for _, c := range commands {
		if err := validateOne(c); err != nil {
			return err
		}
	}
	return nil
}

func (b *BashTool) executeForeground(ctx context.Context, input BashInput) (toolexec.ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(input.Timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", input.Command)
	osutil.SetProcessGroup(cmd)

	output, err := cmd.CombinedOutput()
	text := truncate(string(output), maxOutputChars)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return toolexec.ErrorResult(toolexec.CategoryTimeout,
				fmt.Sprintf("command timed out after %d seconds", input.Timeout)), nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return toolexec.ToolResult{
				Content: text,
				IsError: true,
				Category: toolexec.CategoryUnknown,
				Remediation: fmt.Sprintf("command exited with status %d", exitErr.ExitCode()),
			}, nil
		}
		return toolexec.ErrorResult(toolexec.CategoryUnknown, err.Error()), nil
	}
	return toolexec.ToolResult{Content: text}, nil
}

func (b *BashTool) executeBackground(ctx context.Context, tctx toolexec.Context, input BashInput) (toolexec.ToolResult, error) {
	base := tctx.WorkingDirectory
	if base == "" {
		var err error
		base, err = os.Getwd()
		if err != nil {
			return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to resolve working directory: "+err.Error()), nil
		}
	}

	laceDir := filepath.Join(base, ".lace")
	if err := os.MkdirAll(laceDir, 0o755); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to create .lace directory: "+err.Error()), nil
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", input.Command)
	osutil.SetProcessGroup(cmd)
	osutil.SetProcessGroupKill(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to open stdout pipe: "+err.Error()), nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to open stderr pipe: "+err.Error()), nil
	}
	if err := cmd.Start(); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to start command: "+err.Error()), nil
	}

	pid := cmd.Process.Pid
	pidDir := filepath.Join(laceDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pidDir, 0o755); err != nil {
		cmd.Process.Kill()
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to create pid directory: "+err.Error()), nil
	}
	logPath := filepath.Join(pidDir, "out.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		cmd.Process.Kill()
		return toolexec.ErrorResult(toolexec.CategoryUnknown, "failed to create log file: "+err.Error()), nil
	}

	go func() {
		defer logFile.Close()
		w := &flushingWriter{writer: bufio.NewWriter(logFile), file: logFile}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); io.Copy(w, stdout) }()
		go func() { defer wg.Done(); io.Copy(w, stderr) }()
		wg.Wait()

		if err := cmd.Wait(); err != nil {
			w.Write([]byte(fmt.Sprintf("process exited with error: %v\n", err)))
		}
	}()

	return toolexec.ToolResult{
		Content: fmt.Sprintf("started in background: pid=%d log=%s", pid, logPath),
		Metadata: map[string]interface{}{
			"pid":      pid,
			"log_path": logPath,
		},
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n...[truncated %d bytes]", len(s)-max)
}

// flushingWriter flushes and syncs after each write, so a reattaching
// process can tail the log file without buffering lag.
type flushingWriter struct {
	writer *bufio.Writer
	file   *os.File
}

func (fw *flushingWriter) Write(p []byte) (int, error) {
	n, err := fw.writer.Write(p)
	if err != nil {
		return n, err
	}
	fw.writer.Flush()
	fw.file.Sync()
	return n, nil
}
