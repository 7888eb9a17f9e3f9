package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	config "github.com/cochaviz/stemcell/config"
	"github.com/cochaviz/stemcell/internal/logging"
	"github.com/cochaviz/stemcell/internal/setup"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// cli carries the logger every command logs through. The logger is rebuilt
// once the persistent flags are parsed.
type cli struct {
	level  *slog.LevelVar
	logger *slog.Logger
}

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	app := &cli{level: &levelVar, logger: logging.New(logging.ModeCLI, os.Stderr, &levelVar)}
	slog.SetDefault(app.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(app)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			app.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		app.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(app *cli) *cobra.Command {
	var (
		logLevel  = defaultLogLevel
		logFormat = defaultLogFormat
	)

	root := &cobra.Command{
		Use:           "stemcell",
		Short:         "Build BOSH stemcells by applying provisioning stages in order",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", defaultLogFormat, "Log format (text, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		app.level.Set(level)
		app.logger = logging.New(mode, cmd.ErrOrStderr(), app.level)
		slog.SetDefault(app.logger)
		setup.SetLogger(app.logger.With("component", "setup"))
		return nil
	}

	root.AddCommand(
		newBuildCommand(app),
		newStagesCommand(),
		newListCommand(),
		newSettingsCommand(),
		newArtifactsCommand(),
	)
	return root
}

func verifySetup(logger *slog.Logger, sourceDir string) error {
	logger = logger.With("action", "verify_setup")
	if err := setup.Verify(sourceDir, ""); err != nil {
		logger.Error("setup verification failed", "error", err)
		logger.Info("point --source-dir at a stemcell_builder tree and make sure sudo is installed")
		return err
	}
	return nil
}

func newBuildCommand(app *cli) *cobra.Command {
	var (
		flags      config.Options
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Args:  cobra.NoArgs,
		Short: "Build a stemcell for an infrastructure and operating system",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Options{}
			if configFile != "" {
				loaded, err := config.LoadFile(configFile)
				if err != nil {
					return err
				}
				opts = loaded
			}
			opts = opts.Override(flags).WithDefaults()

			cmdLogger := app.logger.With(
				"command", "build",
				"infrastructure", opts.Infrastructure,
				"operating_system", opts.OperatingSystem,
			)
			if err := opts.Spec().Validate(); err != nil {
				return fmt.Errorf("invalid build options: %w", err)
			}
			if err := verifySetup(cmdLogger, opts.SourceDir); err != nil {
				return err
			}

			cmdLogger.Info("starting build", "root_dir", opts.RootDir, "source_dir", opts.SourceDir, "output_dir", opts.OutputDir)

			output, err := config.BuildStemcell(cmd.Context(), opts, cmdLogger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, output.ArtifactPath)
			for _, artifact := range output.Published {
				fmt.Fprintf(out, "%s\t%s\n", artifact.Kind, artifact.URI)
			}
			cmdLogger.Info("build completed", "build_id", output.BuildID, "duration", output.Duration())
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.Infrastructure, "infrastructure", "i", "", "Target infrastructure (aws, openstack, vsphere, warden)")
	cmd.Flags().StringVarP(&flags.OperatingSystem, "operating-system", "o", "", "Target operating system (ubuntu, centos)")
	cmd.Flags().StringVar(&flags.Version, "version", "", "Stemcell version")
	cmd.Flags().StringVar(&flags.ReleaseTarball, "release-tarball", "", "Path to the BOSH release tarball baked into the image")
	cmd.Flags().StringVar(&flags.RootDir, "root-dir", "", fmt.Sprintf("Base directory for build workspaces (default %s)", config.DefaultRootDir))
	cmd.Flags().StringVar(&flags.SourceDir, "source-dir", "", fmt.Sprintf("Stage source tree copied into the build path (default %s)", config.DefaultSourceDir))
	cmd.Flags().StringVar(&flags.OutputDir, "output-dir", "", "Publish the stemcell and its settings into this directory")
	cmd.Flags().StringToStringVar(&flags.Options, "option", nil, "Override a settings key (key=value); repeatable")
	cmd.Flags().BoolVar(&flags.CleanOutput, "clean-output", false, "Empty the output directory before publishing")
	cmd.Flags().StringVar(&flags.StageOutput, "stage-output", "", "Stage output handling: stream to the terminal or log line by line (stream, log)")
	cmd.Flags().StringVar(&configFile, "config", "", "YAML file with build options; flags take precedence")

	return cmd
}

func newStagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stages <infrastructure> <operating-system>",
		Args:  cobra.ExactArgs(2),
		Short: "Print the ordered stages a build would apply",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := config.Stages(args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, stage := range list {
				fmt.Fprintln(out, stage)
			}
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Args:  cobra.NoArgs,
		Short: "List supported stemcell specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(config.List(), "\n"))
			return nil
		},
	}
}

func newSettingsCommand() *cobra.Command {
	var opts config.Options

	cmd := &cobra.Command{
		Use:   "settings <infrastructure> <operating-system>",
		Args:  cobra.ExactArgs(2),
		Short: "Render the settings file a build would write, without building",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Infrastructure = args[0]
			opts.OperatingSystem = args[1]

			rendered, err := config.RenderSettings(opts)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(rendered)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Version, "version", "0000", "Stemcell version")
	cmd.Flags().StringVar(&opts.ReleaseTarball, "release-tarball", "", "Path to the BOSH release tarball")
	cmd.Flags().StringVar(&opts.RootDir, "root-dir", "", fmt.Sprintf("Base directory for build workspaces (default %s)", config.DefaultRootDir))
	cmd.Flags().StringToStringVar(&opts.Options, "option", nil, "Override a settings key (key=value); repeatable")

	return cmd
}

func newArtifactsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts <output-dir>",
		Args:  cobra.ExactArgs(1),
		Short: "List artifacts published into an output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			published, err := config.Published(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, artifact := range published {
				buildID, _ := artifact.Metadata["build_id"].(string)
				fmt.Fprintf(out, "%s\t%s\t%s\n", artifact.Kind, buildID, artifact.URI)
			}
			return nil
		},
	}
}
