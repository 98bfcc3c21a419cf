package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultOutputLimit caps captured stdout so a chatty tool cannot exhaust memory.
const DefaultOutputLimit = 1 << 20

// Runner defines the operations needed to drive an external analysis tool.
type Runner interface {
	LookPath(binary string) (string, error)
	Run(ctx context.Context, cmd Command) (Output, error)
}

// Command describes a single tool invocation. Args are passed verbatim, never through a shell.
type Command struct {
	Binary string
	Args   []string
	Dir    string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Binary + " " + strings.Join(c.Args, " "))
}

// Output is what a finished tool produced.
type Output struct {
	Stdout    []byte
	Stderr    string
	ExitCode  int
	Truncated bool
}

// CommandRunner executes real binaries present on the host.
type CommandRunner struct {
	OutputLimit int
}

// NewRunner returns a default command runner.
func NewRunner() Runner {
	return &CommandRunner{OutputLimit: DefaultOutputLimit}
}

// LookPath verifies that a binary is discoverable on PATH.
func (r *CommandRunner) LookPath(binary string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%s binary not found: %w", binary, err)
	}
	return path, nil
}

// Run executes the command and captures its output. A non-zero exit is reported in
// Output.ExitCode together with a non-nil error; a cancelled context kills the process.
func (r *CommandRunner) Run(ctx context.Context, c Command) (Output, error) {
	if c.Binary == "" {
		return Output{}, errors.New("command has no binary")
	}

	limit := r.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	stdout := &limitedBuffer{limit: limit}
	stderr := &limitedBuffer{limit: 4096}

	// Binary and args come from operator configuration and are never interpolated by a shell.
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...) // #nosec G204
	cmd.Dir = c.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	out := Output{
		Stdout:    stdout.Bytes(),
		Stderr:    strings.TrimSpace(stderr.String()),
		Truncated: stdout.truncated,
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if err != nil {
		if out.Stderr != "" {
			return out, fmt.Errorf("%s: %w: %s", c.Binary, err, out.Stderr)
		}
		return out, fmt.Errorf("%s: %w", c.Binary, err)
	}
	return out, nil
}

// limitedBuffer keeps the first limit bytes and silently drops the rest. It only exposes
// Write so exec copies through it instead of reading the pipe into an unbounded buffer.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *limitedBuffer) String() string { return b.buf.String() }
