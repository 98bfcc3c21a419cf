package procexec

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// fakeRunner is a test double for code that depends on Runner.
type fakeRunner struct {
	lookErr error
	out     Output
	runErr  error
	got     *Command
}

func (f *fakeRunner) LookPath(binary string) (string, error) {
	if f.lookErr != nil {
		return "", f.lookErr
	}
	return "/usr/bin/" + binary, nil
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	f.got = &cmd
	return f.out, f.runErr
}

// TestNewRunner verifies that NewRunner returns a CommandRunner with the default limit.
func TestNewRunner(t *testing.T) {
	runner := NewRunner()
	cr, ok := runner.(*CommandRunner)
	if !ok {
		t.Fatal("NewRunner should return a *CommandRunner")
	}
	if cr.OutputLimit != DefaultOutputLimit {
		t.Fatalf("expected output limit %d, got %d", DefaultOutputLimit, cr.OutputLimit)
	}
}

func TestLookPathWhenPresent(t *testing.T) {
	runner := &CommandRunner{}
	path, err := runner.LookPath("sh")
	if err != nil {
		t.Fatalf("LookPath should succeed for 'sh': %v", err)
	}
	if path == "" {
		t.Fatal("expected a resolved path")
	}
}

func TestLookPathWhenMissing(t *testing.T) {
	runner := &CommandRunner{}
	if _, err := runner.LookPath("nonexistent-binary-12345"); err == nil {
		t.Fatal("LookPath should fail for nonexistent binary")
	}
}

func TestRunCapturesStdout(t *testing.T) {
	runner := &CommandRunner{}
	out, err := runner.Run(context.Background(), Command{Binary: "echo", Args: []string{`{"detected":true}`}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := strings.TrimSpace(string(out.Stdout)); got != `{"detected":true}` {
		t.Fatalf("unexpected stdout %q", got)
	}
	if out.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", out.ExitCode)
	}
}

func TestRunReportsExitCodeAndStderr(t *testing.T) {
	runner := &CommandRunner{}
	out, err := runner.Run(context.Background(), Command{Binary: "sh", Args: []string{"-c", "echo bad input >&2; exit 3"}})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if out.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", out.ExitCode)
	}
	if out.Stderr != "bad input" {
		t.Fatalf("unexpected stderr %q", out.Stderr)
	}
	if !strings.Contains(err.Error(), "bad input") {
		t.Fatalf("error should carry stderr, got %v", err)
	}
}

func TestRunTruncatesLargeOutput(t *testing.T) {
	runner := &CommandRunner{OutputLimit: 8}
	out, err := runner.Run(context.Background(), Command{Binary: "echo", Args: []string{"0123456789abcdef"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.Stdout) != 8 || !out.Truncated {
		t.Fatalf("expected 8 truncated bytes, got %q truncated=%v", out.Stdout, out.Truncated)
	}
}

func TestRunCapsStreamedOutput(t *testing.T) {
	runner := &CommandRunner{OutputLimit: 1024}
	out, err := runner.Run(context.Background(), Command{Binary: "head", Args: []string{"-c", "200000", "/dev/zero"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.Stdout) != 1024 || !out.Truncated {
		t.Fatalf("expected 1024 captured bytes and truncation, got %d truncated=%v", len(out.Stdout), out.Truncated)
	}
}

func TestLimitedBufferIsWriteOnly(t *testing.T) {
	var w io.Writer = &limitedBuffer{limit: 4}
	if _, ok := w.(io.ReaderFrom); ok {
		t.Fatal("limitedBuffer must not implement io.ReaderFrom")
	}
	if _, err := io.Copy(w, strings.NewReader("abcdefgh")); err != nil {
		t.Fatalf("copy: %v", err)
	}
	b := w.(*limitedBuffer)
	if b.String() != "abcd" || !b.truncated {
		t.Fatalf("expected abcd truncated, got %q truncated=%v", b.String(), b.truncated)
	}
}

// TestRunWithContext verifies that Run kills the process when the context ends.
func TestRunWithContext(t *testing.T) {
	runner := &CommandRunner{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runner.Run(ctx, Command{Binary: "sleep", Args: []string{"5"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("Run should return promptly after the deadline")
	}
}

func TestRunWithoutBinary(t *testing.T) {
	runner := &CommandRunner{}
	if _, err := runner.Run(context.Background(), Command{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestCommandString(t *testing.T) {
	c := Command{Binary: "ffprobe", Args: []string{"-v", "quiet"}}
	if c.String() != "ffprobe -v quiet" {
		t.Fatalf("unexpected command string %q", c.String())
	}
}

func TestFakeRunnerImplementsInterface(t *testing.T) {
	var _ Runner = (*fakeRunner)(nil)
}

func TestFakeRunnerRun(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
		err     error
	}{
		{name: "success"},
		{name: "failure", wantErr: true, err: errors.New("exit status 1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRunner{runErr: tt.err}
			cmd := Command{Binary: "scanner", Args: []string{"/tmp/x"}}
			_, err := fake.Run(context.Background(), cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error: %v, got: %v", tt.wantErr, err)
			}
			if fake.got == nil || fake.got.Binary != "scanner" {
				t.Fatal("command should be captured")
			}
		})
	}
}
