package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/stemcell/internal/build/environ"
	"github.com/cochaviz/stemcell/internal/build/settings"
	"github.com/cochaviz/stemcell/internal/build/stages"
	"github.com/cochaviz/stemcell/internal/build/workspace"
	"github.com/cochaviz/stemcell/internal/logging"
	"github.com/cochaviz/stemcell/internal/stemcell"
)

// Builder drives a single stemcell build from workspace reset to the last
// applied stage.
type Builder struct {
	Spec stemcell.BuildSpec
	// Options override generated settings keys, stemcell_tgz included.
	Options map[string]string
	// SourceDir holds the stages/ tree copied into the build path.
	SourceDir string
	// RootDir is the base directory; the workspace is RootDir/<infra>-<os>.
	// DefaultRootBase is used when empty.
	RootDir string

	Collection StageResolver
	Executor   stages.Executor
	// Wiper clears the previous workspace. Defaults to unmounting and
	// removing it through Executor, since stages leave root-owned files.
	Wiper   workspace.Wiper
	Environ environ.Provider
	Logger  *slog.Logger
}

// Build resets the workspace, stages the sources and settings, and applies
// every stage in order. A failed build leaves the workspace as it was when
// the failure happened.
func (b *Builder) Build(ctx context.Context) (Result, error) {
	if b.Executor == nil {
		return Result{}, errors.New("build has no stage executor")
	}
	if err := b.Spec.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid build spec: %w", err)
	}

	infra, err := stemcell.InfrastructureFor(b.Spec.InfrastructureName)
	if err != nil {
		return Result{}, err
	}
	opsys, err := stemcell.OperatingSystemFor(b.Spec.OperatingSystemName)
	if err != nil {
		return Result{}, err
	}

	specName := stemcell.SpecName(infra, opsys)
	stageList, err := b.collection().For(specName)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		BuildID:   uuid.NewString(),
		SpecName:  specName,
		Stages:    stageList,
		StartedAt: time.Now().UTC(),
	}
	logger := b.logger().With("build_id", result.BuildID, "spec", specName)
	logger.Info("starting stemcell build", "version", b.Spec.Version, "stages", len(stageList))

	env, err := workspace.New(WorkspaceRoot(b.RootDir, infra, opsys))
	if err != nil {
		return Result{}, err
	}

	values, err := ComposeSettings(settings.Input{
		Spec:            b.Spec,
		Infrastructure:  infra,
		OperatingSystem: opsys,
	}, b.Options, env)
	if err != nil {
		return Result{}, err
	}
	tgz, _ := values.Get(settings.StemcellTgzKey)
	result.ArtifactPath = filepath.Join(env.WorkPath(), tgz)

	if err := env.ResetWith(ctx, b.wiper()); err != nil {
		return Result{}, err
	}
	result.BuildPath = env.BuildPath()
	result.WorkPath = env.WorkPath()
	result.SettingsPath = env.SettingsPath()
	logger.Info("workspace prepared", "root", env.RootPath())

	if err := copySourceTree(b.SourceDir, env.BuildPath()); err != nil {
		return Result{}, err
	}
	logger.Debug("stage sources copied", "source", b.SourceDir, "destination", env.BuildPath())

	if err := values.Write(env.SettingsPath()); err != nil {
		return Result{}, err
	}
	logger.Info("settings written", "path", env.SettingsPath(), "keys", values.Len())

	runner := &stages.Runner{Executor: b.Executor, Logger: logger}
	plan := stages.Plan{
		Stages:       stageList,
		BuildPath:    env.BuildPath(),
		WorkPath:     env.WorkPath(),
		SettingsFile: env.SettingsPath(),
		Env:          environ.Sanitize(b.provider()),
	}
	if err := runner.Run(ctx, plan); err != nil {
		logger.Error("stemcell build failed", "error", err)
		return Result{}, err
	}

	result.FinishedAt = time.Now().UTC()
	logger.Info("stemcell build finished", "artifact", result.ArtifactPath, "duration", result.Duration())
	return result, nil
}

// WorkspaceRoot is the per-target workspace under base, so builds for
// different targets never share a tree.
func WorkspaceRoot(base string, infra stemcell.Infrastructure, opsys stemcell.OperatingSystem) string {
	if base == "" {
		base = DefaultRootBase
	}
	return filepath.Join(base, infra.Name+"-"+opsys.Name)
}

// ErrInvalidArtifactName marks a stemcell_tgz value that is not a plain file
// name inside the work directory.
var ErrInvalidArtifactName = errors.New("stemcell_tgz must be a file name")

// ComposeSettings is the settings content a build in env writes. The
// workspace paths are set last so options cannot redirect them.
func ComposeSettings(input settings.Input, options map[string]string, env *workspace.Environment) (*settings.Settings, error) {
	values, err := settings.Build(input, options)
	if err != nil {
		return nil, err
	}
	tgz, _ := values.Get(settings.StemcellTgzKey)
	if tgz == "" || tgz == "." || tgz == ".." || tgz != filepath.Base(tgz) {
		return nil, fmt.Errorf("%w, got %q", ErrInvalidArtifactName, tgz)
	}

	values.Set(settings.BuildPathKey, env.BuildPath())
	values.Set(settings.WorkPathKey, env.WorkPath())
	return values, nil
}

func (b *Builder) collection() StageResolver {
	if b.Collection != nil {
		return b.Collection
	}
	return stages.Default()
}

func (b *Builder) wiper() workspace.Wiper {
	if b.Wiper != nil {
		return b.Wiper
	}
	return &stages.PrivilegedWiper{Executor: b.Executor}
}

func (b *Builder) provider() environ.Provider {
	if b.Environ != nil {
		return b.Environ
	}
	return environ.OS{}
}

func (b *Builder) logger() *slog.Logger {
	return logging.Ensure(b.Logger)
}
