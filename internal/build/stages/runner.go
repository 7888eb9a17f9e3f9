package stages

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cochaviz/stemcell/internal/build/environ"
	"github.com/cochaviz/stemcell/internal/logging"
)

// Phase is one pass over the stage list.
type Phase string

// Each stage is configured before any stage is applied.
const (
	PhaseConfigure Phase = "configure"
	PhaseApply     Phase = "apply"
)

const (
	configScript = "config.sh"
	applyScript  = "apply.sh"
)

var (
	ErrScriptMissing       = errors.New("stage script not found")
	ErrScriptNotExecutable = errors.New("stage script is not executable")
)

// ExecutionError reports the stage that stopped the pipeline.
type ExecutionError struct {
	Stage    Stage
	Phase    Phase
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s (%s) failed with exit code %d: %v", e.Stage, e.Phase, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("stage %s (%s) failed with exit code %d", e.Stage, e.Phase, e.ExitCode)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Invocation is one privileged stage script call.
type Invocation struct {
	Command string
	Args    []string
	Env     environ.Environment
}

// String renders the invocation as a shell command line for logs.
func (i Invocation) String() string {
	parts := []string{strings.TrimSpace(i.Env.Prefix()), "sudo", i.Command}
	parts = append(parts, i.Args...)
	return strings.Join(parts, " ")
}

// Executor runs an invocation to completion and reports its exit code. A
// non-nil error means the process could not be run or was interrupted.
type Executor interface {
	Execute(ctx context.Context, invocation Invocation) (int, error)
}

// Plan is the input to a single run.
type Plan struct {
	Stages       List
	BuildPath    string
	WorkPath     string
	SettingsFile string
	Env          environ.Environment
}

// Runner executes stage scripts strictly in order and stops at the first failure.
type Runner struct {
	Executor Executor
	Logger   *slog.Logger
}

// Run configures then applies every stage of plan.
func (r *Runner) Run(ctx context.Context, plan Plan) error {
	if r.Executor == nil {
		return errors.New("stage runner has no executor")
	}
	logger := logging.Ensure(r.Logger).With("settings_file", plan.SettingsFile)

	for i, stage := range plan.Stages {
		script := scriptPath(plan.BuildPath, stage, configScript)
		if !isExecutable(script) {
			logger.Debug("no configure script", "stage", stage)
			continue
		}
		if err := r.runStage(ctx, logger, plan, stage, PhaseConfigure, script, i); err != nil {
			return err
		}
	}

	for i, stage := range plan.Stages {
		if err := os.MkdirAll(plan.WorkPath, 0o755); err != nil {
			return &ExecutionError{Stage: stage, Phase: PhaseApply, ExitCode: -1, Err: fmt.Errorf("ensure work path: %w", err)}
		}

		script := scriptPath(plan.BuildPath, stage, applyScript)
		if err := checkScript(script); err != nil {
			return &ExecutionError{Stage: stage, Phase: PhaseApply, ExitCode: -1, Err: err}
		}
		if err := r.runStage(ctx, logger, plan, stage, PhaseApply, script, i); err != nil {
			return err
		}
	}

	logger.Info("all stages applied", "stages", len(plan.Stages))
	return nil
}

func (r *Runner) runStage(ctx context.Context, logger *slog.Logger, plan Plan, stage Stage, phase Phase, script string, index int) error {
	if err := ctx.Err(); err != nil {
		return &ExecutionError{Stage: stage, Phase: phase, ExitCode: -1, Err: err}
	}

	invocation := Invocation{
		Command: script,
		Args:    []string{plan.SettingsFile},
		Env:     plan.Env,
	}

	stageLogger := logger.With("stage", stage, "phase", phase, "position", fmt.Sprintf("%d/%d", index+1, len(plan.Stages)))
	stageLogger.Info("running stage", "command", invocation.String())

	started := time.Now()
	code, err := r.Executor.Execute(ctx, invocation)
	if err != nil {
		stageLogger.Error("stage did not complete", "error", err)
		return &ExecutionError{Stage: stage, Phase: phase, ExitCode: code, Err: err}
	}
	if code != 0 {
		stageLogger.Error("stage failed", "exit_code", code, "duration", time.Since(started))
		return &ExecutionError{Stage: stage, Phase: phase, ExitCode: code}
	}

	stageLogger.Info("stage finished", "duration", time.Since(started))
	return nil
}

// ScriptPath returns where the apply script of stage lives under buildPath.
func ScriptPath(buildPath string, stage Stage) string {
	return scriptPath(buildPath, stage, applyScript)
}

func scriptPath(buildPath string, stage Stage, script string) string {
	return filepath.Join(buildPath, "stages", string(stage), script)
}

func checkScript(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrScriptMissing, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() || !isExecutable(path) {
		return fmt.Errorf("%w: %s", ErrScriptNotExecutable, path)
	}
	return nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}
