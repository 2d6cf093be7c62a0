package pki

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes one external toolchain command. Implementations must not
// echo the command arguments into errors or logs.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands on the host. Errors include the exit status and a
// trimmed stderr tail for diagnosis.
type ExecRunner struct{}

const stderrTailLimit = 512

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(stderr.String())
		if len(tail) > stderrTailLimit {
			tail = tail[len(tail)-stderrTailLimit:]
		}
		if tail != "" {
			return fmt.Errorf("%s: %w: %s", name, err, tail)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
