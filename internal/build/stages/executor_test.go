package stages

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/cochaviz/stemcell/internal/build/environ"
)

// envBinary stands in for sudo: `env env K=V script args` behaves like the
// real call without privilege escalation.
func envBinary(t *testing.T) []string {
	t.Helper()
	path, err := exec.LookPath("env")
	if err != nil {
		t.Skip("env binary not available")
	}
	return []string{path}
}

func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apply.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestSudoExecutorForwardsOnlySanitizedEnvironment(t *testing.T) {
	t.Setenv("STEMCELL_SECRET", "hunter2")

	out := filepath.Join(t.TempDir(), "env.out")
	executor := &SudoExecutor{Sudo: envBinary(t), Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	code, err := executor.Execute(context.Background(), Invocation{
		Command: script(t, `env > "$1"`),
		Args:    []string{out},
		Env:     environ.Sanitize(environ.Static{"HTTP_PROXY": "nice_proxy", "no_proxy": "naughty_proxy"}),
	})
	if err != nil || code != 0 {
		t.Fatalf("Execute() = (%d, %v), want (0, nil)", code, err)
	}

	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read env dump: %v", err)
	}
	dump := string(content)
	for _, want := range []string{"HTTP_PROXY=nice_proxy", "no_proxy=naughty_proxy"} {
		if !strings.Contains(dump, want) {
			t.Errorf("child environment missing %q:\n%s", want, dump)
		}
	}
	if strings.Contains(dump, "STEMCELL_SECRET") {
		t.Errorf("child environment leaked STEMCELL_SECRET:\n%s", dump)
	}
}

func TestSudoExecutorReportsExitCode(t *testing.T) {
	t.Parallel()

	executor := &SudoExecutor{Sudo: envBinary(t), Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	code, err := executor.Execute(context.Background(), Invocation{Command: script(t, "exit 3")})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if code != 3 {
		t.Fatalf("Execute() code = %d, want 3", code)
	}
}

func TestSudoExecutorStreamsOutput(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	executor := &SudoExecutor{Sudo: envBinary(t), Stdout: &stdout, Stderr: &bytes.Buffer{}}

	if _, err := executor.Execute(context.Background(), Invocation{Command: script(t, `echo "settings=$1"`), Args: []string{"/tmp/settings.bash"}}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "settings=/tmp/settings.bash" {
		t.Fatalf("stdout = %q", got)
	}
}

func TestSudoExecutorCancellation(t *testing.T) {
	t.Parallel()

	executor := &SudoExecutor{Sudo: envBinary(t), Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, WaitDelay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := executor.Execute(ctx, Invocation{Command: script(t, "sleep 30")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("Execute() took %s after cancellation", elapsed)
	}
}

func TestSudoExecutorPassesPrefixFlags(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	// `env -u STEMCELL_UNSET env ...` keeps the prefix flags ahead of env(1)
	prefix := append(envBinary(t), "-u", "STEMCELL_UNSET")
	executor := &SudoExecutor{Sudo: prefix, Stdout: &stdout, Stderr: &bytes.Buffer{}}

	code, err := executor.Execute(context.Background(), Invocation{Command: script(t, `echo ok`)})
	if err != nil || code != 0 {
		t.Fatalf("Execute() = (%d, %v), want (0, nil)", code, err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "ok" {
		t.Fatalf("stdout = %q, want ok", got)
	}
}

func TestSudoExecutorCheck(t *testing.T) {
	t.Parallel()

	if err := (&SudoExecutor{Sudo: envBinary(t)}).Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v, want nil", err)
	}

	falseBinary, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false binary not available")
	}
	err = (&SudoExecutor{Sudo: []string{falseBinary}}).Check(context.Background())
	if !errors.Is(err, ErrSudoUnavailable) {
		t.Fatalf("Check() error = %v, want ErrSudoUnavailable", err)
	}
}

func TestDefaultSudoNeverPrompts(t *testing.T) {
	t.Parallel()

	executor := &SudoExecutor{}
	if got := executor.sudo(); !slices.Equal(got, []string{"sudo", "-n"}) {
		t.Fatalf("sudo() = %q, want [sudo -n]", got)
	}
}
