package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"ripple/pkg/assemble"
	"ripple/pkg/tool"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shellTimeout = 60 * time.Second

type shellInput struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

type shellOutput struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// NewShellTool runs one shell command per request and reports its
// combined output. The command is bounded by a timeout so a hung
// process cannot pin the executor slot.
func NewShellTool(writer tool.Writer) *tool.Tool {
	return tool.New("shell", func(ctx context.Context, input jsoniter.RawMessage, _ assemble.Bundle) (any, error) {
		var in shellInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid shell input: %w", err)
		}
		if strings.TrimSpace(in.Command) == "" {
			return nil, fmt.Errorf("missing 'command'")
		}

		timeout := shellTimeout
		if in.TimeoutMs > 0 {
			timeout = time.Duration(in.TimeoutMs) * time.Millisecond
		}
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "sh", "-c", in.Command)
		out, err := cmd.CombinedOutput()

		result := shellOutput{Output: string(out)}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitCode()
				return result, nil
			}
			return nil, fmt.Errorf("command failed: %w", err)
		}
		return result, nil
	}, writer)
}
