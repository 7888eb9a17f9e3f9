package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cochaviz/stemcell/internal/build/environ"
)

type recordingExecutor struct {
	calls []Invocation
	codes map[string]int
	err   error
}

func (e *recordingExecutor) Execute(_ context.Context, invocation Invocation) (int, error) {
	e.calls = append(e.calls, invocation)
	if e.err != nil {
		return -1, e.err
	}
	return e.codes[invocation.Command], nil
}

func (e *recordingExecutor) commands() []string {
	out := make([]string, 0, len(e.calls))
	for _, call := range e.calls {
		out = append(out, call.Command)
	}
	return out
}

func writeScript(t *testing.T, path string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newPlan(t *testing.T, stages List) Plan {
	t.Helper()
	root := t.TempDir()
	buildPath := filepath.Join(root, "build")
	for _, stage := range stages {
		writeScript(t, ScriptPath(buildPath, stage), 0o755)
	}
	return Plan{
		Stages:       stages,
		BuildPath:    buildPath,
		WorkPath:     filepath.Join(root, "work"),
		SettingsFile: filepath.Join(buildPath, "etc", "settings.bash"),
		Env:          environ.Sanitize(environ.Static{"HTTP_PROXY": "nice_proxy"}),
	}
}

func TestRunAppliesStagesInOrder(t *testing.T) {
	t.Parallel()

	plan := newPlan(t, List{"base_debootstrap", "base_apt", "stemcell"})
	executor := &recordingExecutor{}
	runner := &Runner{Executor: executor}

	if err := runner.Run(context.Background(), plan); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		ScriptPath(plan.BuildPath, "base_debootstrap"),
		ScriptPath(plan.BuildPath, "base_apt"),
		ScriptPath(plan.BuildPath, "stemcell"),
	}
	if diff := cmp.Diff(want, executor.commands()); diff != "" {
		t.Fatalf("executed commands mismatch (-want +got):\n%s", diff)
	}

	for _, call := range executor.calls {
		if diff := cmp.Diff([]string{plan.SettingsFile}, call.Args); diff != "" {
			t.Fatalf("args mismatch (-want +got):\n%s", diff)
		}
		if call.Env.Prefix() != "env HTTP_PROXY='nice_proxy'" {
			t.Fatalf("env prefix = %q", call.Env.Prefix())
		}
	}

	if info, err := os.Stat(plan.WorkPath); err != nil || !info.IsDir() {
		t.Fatalf("work path not created: %v", err)
	}
}

func TestRunConfiguresBeforeApplying(t *testing.T) {
	t.Parallel()

	plan := newPlan(t, List{"base_apt", "bosh_users"})
	configure := filepath.Join(plan.BuildPath, "stages", "bosh_users", "config.sh")
	writeScript(t, configure, 0o755)
	// not executable, so it is skipped
	writeScript(t, filepath.Join(plan.BuildPath, "stages", "base_apt", "config.sh"), 0o644)

	executor := &recordingExecutor{}
	if err := (&Runner{Executor: executor}).Run(context.Background(), plan); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		configure,
		ScriptPath(plan.BuildPath, "base_apt"),
		ScriptPath(plan.BuildPath, "bosh_users"),
	}
	if diff := cmp.Diff(want, executor.commands()); diff != "" {
		t.Fatalf("executed commands mismatch (-want +got):\n%s", diff)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	plan := newPlan(t, List{"one", "two", "three"})
	executor := &recordingExecutor{codes: map[string]int{
		ScriptPath(plan.BuildPath, "two"): 42,
	}}

	err := (&Runner{Executor: executor}).Run(context.Background(), plan)

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Run() error = %v, want *ExecutionError", err)
	}
	if execErr.Stage != "two" || execErr.ExitCode != 42 || execErr.Phase != PhaseApply {
		t.Fatalf("ExecutionError = %+v, want stage two, exit 42, apply", execErr)
	}
	if len(executor.calls) != 2 {
		t.Fatalf("executor called %d times, want 2", len(executor.calls))
	}
}

func TestRunReportsMissingScript(t *testing.T) {
	t.Parallel()

	plan := newPlan(t, List{"present"})
	plan.Stages = append(plan.Stages, "absent", "never")
	executor := &recordingExecutor{}

	err := (&Runner{Executor: executor}).Run(context.Background(), plan)

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Run() error = %v, want *ExecutionError", err)
	}
	if execErr.Stage != "absent" || execErr.ExitCode != -1 {
		t.Fatalf("ExecutionError = %+v, want stage absent with exit -1", execErr)
	}
	if !errors.Is(err, ErrScriptMissing) {
		t.Fatalf("Run() error = %v, want ErrScriptMissing", err)
	}
	if len(executor.calls) != 1 {
		t.Fatalf("executor called %d times, want 1", len(executor.calls))
	}
}

func TestRunPropagatesExecutorErrors(t *testing.T) {
	t.Parallel()

	plan := newPlan(t, List{"one", "two"})
	boom := errors.New("sudo: not found")
	executor := &recordingExecutor{err: boom}

	err := (&Runner{Executor: executor}).Run(context.Background(), plan)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if len(executor.calls) != 1 {
		t.Fatalf("executor called %d times, want 1", len(executor.calls))
	}
}

func TestRunHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	plan := newPlan(t, List{"one"})
	executor := &recordingExecutor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := (&Runner{Executor: executor}).Run(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(executor.calls) != 0 {
		t.Fatalf("executor called %d times, want 0", len(executor.calls))
	}
}

func TestInvocationString(t *testing.T) {
	t.Parallel()

	invocation := Invocation{
		Command: "/mnt/root/build/stages/base_apt/apply.sh",
		Args:    []string{"/mnt/root/build/etc/settings.bash"},
		Env:     environ.Sanitize(environ.Static{"HTTP_PROXY": "nice_proxy", "no_proxy": "naughty_proxy"}),
	}

	want := "env HTTP_PROXY='nice_proxy' no_proxy='naughty_proxy' sudo /mnt/root/build/stages/base_apt/apply.sh /mnt/root/build/etc/settings.bash"
	if got := invocation.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
