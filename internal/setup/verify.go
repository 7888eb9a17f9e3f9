package setup

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// DefaultSudo is the privilege escalation binary stage scripts run through.
const DefaultSudo = "sudo"

// ErrNotVerified marks a host that cannot run a build.
var ErrNotVerified = errors.New("host is not ready for stemcell builds")

// Verify checks that sudo resolves on PATH and that sourceDir holds a
// stages/ directory. All problems are reported together.
func Verify(sourceDir, sudo string) error {
	if sudo == "" {
		sudo = DefaultSudo
	}
	logger := getLogger().With("source_dir", sourceDir, "sudo", sudo)
	logger.Debug("verifying host prerequisites")

	var problems []error
	if path, err := exec.LookPath(sudo); err != nil {
		problems = append(problems, fmt.Errorf("%s not found on PATH: %w", sudo, err))
	} else {
		logger.Debug("found privilege escalation binary", "path", path)
	}

	stagesDir := filepath.Join(sourceDir, "stages")
	info, err := os.Stat(stagesDir)
	switch {
	case sourceDir == "":
		problems = append(problems, errors.New("stage source directory is not set"))
	case err != nil:
		problems = append(problems, fmt.Errorf("stage source tree: %w", err))
	case !info.IsDir():
		problems = append(problems, fmt.Errorf("%s is not a directory", stagesDir))
	}

	if len(problems) > 0 {
		err := fmt.Errorf("%w: %w", ErrNotVerified, errors.Join(problems...))
		logger.Warn("host verification failed", "error", err)
		return err
	}
	logger.Info("host verification succeeded")
	return nil
}
