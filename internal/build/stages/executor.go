package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const defaultWaitDelay = 10 * time.Second

// DefaultSudo never prompts. Stages run in their own process group, where a
// password prompt would stop the build on SIGTTIN.
var DefaultSudo = []string{"sudo", "-n"}

// ErrSudoUnavailable reports that the executor cannot run commands as root
// without a password prompt.
var ErrSudoUnavailable = errors.New("sudo is not usable without a password")

// Ensure SudoExecutor satisfies the Executor interface.
var _ Executor = (*SudoExecutor)(nil)

// SudoExecutor runs stage scripts as root through sudo and env(1). The child
// only sees the variables carried by the invocation.
type SudoExecutor struct {
	// Sudo is the privilege escalation command and its flags, DefaultSudo
	// when empty.
	Sudo   []string
	Stdout io.Writer
	Stderr io.Writer
	// WaitDelay bounds how long a cancelled stage may take to exit.
	WaitDelay time.Duration
}

// Execute runs `sudo -n env KEY=value... command args...` and waits for it.
func (e *SudoExecutor) Execute(ctx context.Context, invocation Invocation) (int, error) {
	sudo := e.sudo()
	args := append(slices.Clone(sudo[1:]), "env")
	args = append(args, invocation.Env.Pairs()...)
	args = append(args, invocation.Command)
	args = append(args, invocation.Args...)

	cmd := exec.CommandContext(ctx, sudo[0], args...)
	cmd.Env = invocation.Env.Pairs()
	cmd.Stdout = writerOr(e.Stdout, os.Stdout)
	cmd.Stderr = writerOr(e.Stderr, os.Stderr)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// signal the whole group so scripts spawned by the stage go down too
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = e.waitDelay()

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return exitCode(cmd), ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Check runs true(1) through the sudo prefix, so a missing sudoers entry or
// an expired timestamp fails before the workspace is touched.
func (e *SudoExecutor) Check(ctx context.Context) error {
	sudo := e.sudo()
	args := append(slices.Clone(sudo[1:]), "true")

	cmd := exec.CommandContext(ctx, sudo[0], args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(output)); msg != "" {
			return fmt.Errorf("%w: %s: %s", ErrSudoUnavailable, strings.Join(sudo, " "), msg)
		}
		return fmt.Errorf("%w: %s: %v", ErrSudoUnavailable, strings.Join(sudo, " "), err)
	}
	return nil
}

func (e *SudoExecutor) sudo() []string {
	if len(e.Sudo) > 0 {
		return e.Sudo
	}
	return DefaultSudo
}

func (e *SudoExecutor) waitDelay() time.Duration {
	if e.WaitDelay > 0 {
		return e.WaitDelay
	}
	return defaultWaitDelay
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}
