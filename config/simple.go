package simple

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/stemcell/internal/artifacts"
	"github.com/cochaviz/stemcell/internal/build"
	"github.com/cochaviz/stemcell/internal/build/environ"
	"github.com/cochaviz/stemcell/internal/build/settings"
	"github.com/cochaviz/stemcell/internal/build/stages"
	"github.com/cochaviz/stemcell/internal/build/workspace"
	"github.com/cochaviz/stemcell/internal/logging"
	"github.com/cochaviz/stemcell/internal/stemcell"
)

var DefaultRootDir = build.DefaultRootBase
var DefaultSourceDir = "stemcell_builder"

// Stage output modes.
const (
	StageOutputStream = "stream"
	StageOutputLog    = "log"
)

// Options is everything a build can be configured with, from a YAML file,
// flags or both. CleanOutput empties OutputDir before a build is published
// into it.
type Options struct {
	Infrastructure  string            `yaml:"infrastructure"`
	OperatingSystem string            `yaml:"operating_system"`
	Version         string            `yaml:"version"`
	ReleaseTarball  string            `yaml:"release_tarball"`
	RootDir         string            `yaml:"root_dir"`
	SourceDir       string            `yaml:"source_dir"`
	OutputDir       string            `yaml:"output_dir"`
	StageOutput     string            `yaml:"stage_output"`
	CleanOutput     bool              `yaml:"clean_output"`
	Options         map[string]string `yaml:"options"`
}

// LoadFile reads Options from a YAML document. Unknown keys are rejected.
func LoadFile(path string) (Options, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var opts Options
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return opts, nil
}

// Override returns o with every non-empty field of other applied on top.
// Option maps are merged key by key.
func (o Options) Override(other Options) Options {
	merged := o
	overrideString(&merged.Infrastructure, other.Infrastructure)
	overrideString(&merged.OperatingSystem, other.OperatingSystem)
	overrideString(&merged.Version, other.Version)
	overrideString(&merged.ReleaseTarball, other.ReleaseTarball)
	overrideString(&merged.RootDir, other.RootDir)
	overrideString(&merged.SourceDir, other.SourceDir)
	overrideString(&merged.OutputDir, other.OutputDir)
	overrideString(&merged.StageOutput, other.StageOutput)
	if other.CleanOutput {
		merged.CleanOutput = true
	}

	if len(other.Options) > 0 {
		merged.Options = maps.Clone(o.Options)
		if merged.Options == nil {
			merged.Options = map[string]string{}
		}
		maps.Copy(merged.Options, other.Options)
	}
	return merged
}

// WithDefaults fills unset directories and the stage output mode.
func (o Options) WithDefaults() Options {
	if o.RootDir == "" {
		o.RootDir = DefaultRootDir
	}
	if o.SourceDir == "" {
		o.SourceDir = DefaultSourceDir
	}
	if o.StageOutput == "" {
		o.StageOutput = StageOutputStream
	}
	return o
}

// Spec is the build spec the options describe.
func (o Options) Spec() stemcell.BuildSpec {
	return stemcell.BuildSpec{
		InfrastructureName:  o.Infrastructure,
		OperatingSystemName: o.OperatingSystem,
		ReleaseTarballPath:  o.ReleaseTarball,
		Version:             o.Version,
	}
}

func overrideString(target *string, value string) {
	if strings.TrimSpace(value) != "" {
		*target = value
	}
}

// BuildOutput is a finished build plus whatever was published from it.
type BuildOutput struct {
	build.Result
	Published []artifacts.Artifact
}

// BuildStemcell runs a full build with sudo, the process environment and the
// built-in stage table, then publishes the stemcell and its settings when an
// output directory is configured.
func BuildStemcell(ctx context.Context, opts Options, logger *slog.Logger) (BuildOutput, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")
	opts = opts.WithDefaults()

	executor := &stages.SudoExecutor{}
	switch opts.StageOutput {
	case StageOutputStream:
	case StageOutputLog:
		stdout := logging.NewLineWriter(logger, slog.LevelInfo, "stream", "stdout")
		stderr := logging.NewLineWriter(logger, slog.LevelWarn, "stream", "stderr")
		defer stdout.Close()
		defer stderr.Close()
		executor.Stdout = stdout
		executor.Stderr = stderr
	default:
		return BuildOutput{}, fmt.Errorf("unknown stage output mode %q", opts.StageOutput)
	}

	if err := executor.Check(ctx); err != nil {
		logger.Error("stages need passwordless sudo; run `sudo -v` first or add a sudoers entry", "error", err)
		return BuildOutput{}, err
	}
	return buildWith(ctx, opts, executor, environ.OS{}, logger)
}

func buildWith(ctx context.Context, opts Options, executor stages.Executor, provider environ.Provider, logger *slog.Logger) (BuildOutput, error) {
	builder := &build.Builder{
		Spec:       opts.Spec(),
		Options:    opts.Options,
		SourceDir:  opts.SourceDir,
		RootDir:    opts.RootDir,
		Collection: stages.Default(),
		Executor:   executor,
		Environ:    provider,
		Logger:     logger.With("service", "build"),
	}

	result, err := builder.Build(ctx)
	if err != nil {
		return BuildOutput{}, err
	}

	output := BuildOutput{Result: result}
	if opts.OutputDir == "" {
		return output, nil
	}

	published, err := publish(result, opts, &artifacts.LocalArtifactStore{BaseDir: opts.OutputDir})
	if err != nil {
		return output, fmt.Errorf("publish build %s: %w", result.BuildID, err)
	}
	output.Published = published
	logger.Info("published build artifacts", "output_dir", opts.OutputDir, "count", len(published))
	return output, nil
}

func publish(result build.Result, opts Options, store artifacts.ArtifactStore) ([]artifacts.Artifact, error) {
	metadata := map[string]any{
		"build_id": result.BuildID,
		"spec":     result.SpecName,
		"version":  opts.Version,
	}

	if opts.CleanOutput {
		if err := store.Clear(); err != nil {
			return nil, fmt.Errorf("clean output: %w", err)
		}
	}

	stemcellArtifact, err := store.StoreArtifact(result.ArtifactPath, artifacts.StemcellArtifact, metadata)
	if err != nil {
		return nil, fmt.Errorf("store stemcell: %w", err)
	}
	settingsArtifact, err := store.StoreArtifact(result.SettingsPath, artifacts.SettingsArtifact, metadata)
	if err != nil {
		_ = store.RemoveArtifact(stemcellArtifact)
		return nil, fmt.Errorf("store settings: %w", err)
	}
	return []artifacts.Artifact{stemcellArtifact, settingsArtifact}, nil
}

// Published lists the artifacts earlier builds published into outputDir.
func Published(outputDir string) ([]artifacts.Artifact, error) {
	if outputDir == "" {
		return nil, errors.New("output directory is required")
	}
	return (&artifacts.LocalArtifactStore{BaseDir: outputDir}).List()
}

// Stages resolves the ordered stage list for an infrastructure and OS pair.
func Stages(infrastructure, operatingSystem string) (stages.List, error) {
	infra, opsys, err := resolve(infrastructure, operatingSystem)
	if err != nil {
		return nil, err
	}
	return stages.Default().For(stemcell.SpecName(infra, opsys))
}

// List returns every supported spec name, sorted.
func List() []string {
	return stages.Default().SpecNames()
}

// RenderSettings returns the settings file a build with opts would write,
// without touching the filesystem.
func RenderSettings(opts Options) ([]byte, error) {
	opts = opts.WithDefaults()
	infra, opsys, err := resolve(opts.Infrastructure, opts.OperatingSystem)
	if err != nil {
		return nil, err
	}

	env, err := workspace.New(build.WorkspaceRoot(opts.RootDir, infra, opsys))
	if err != nil {
		return nil, err
	}

	values, err := build.ComposeSettings(settings.Input{
		Spec:            opts.Spec(),
		Infrastructure:  infra,
		OperatingSystem: opsys,
	}, opts.Options, env)
	if err != nil {
		return nil, err
	}
	return values.Bytes(), nil
}

func resolve(infrastructure, operatingSystem string) (stemcell.Infrastructure, stemcell.OperatingSystem, error) {
	infra, err := stemcell.InfrastructureFor(infrastructure)
	if err != nil {
		return stemcell.Infrastructure{}, stemcell.OperatingSystem{}, err
	}
	opsys, err := stemcell.OperatingSystemFor(operatingSystem)
	if err != nil {
		return stemcell.Infrastructure{}, stemcell.OperatingSystem{}, err
	}
	return infra, opsys, nil
}
