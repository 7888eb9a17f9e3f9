package build

import (
	"fmt"
	"time"

	"github.com/cochaviz/stemcell/internal/build/stages"
)

// DefaultRootBase is where per-target workspaces live when no root is given.
const DefaultRootBase = "/mnt/stemcells"

// Result describes a finished build.
type Result struct {
	BuildID      string
	SpecName     string
	Stages       stages.List
	BuildPath    string
	WorkPath     string
	SettingsPath string
	// ArtifactPath is <work_path>/<stemcell_tgz>. The stages are expected to
	// leave the stemcell there; the orchestrator does not check for it.
	ArtifactPath string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration is the wall time the build took.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SourceCopyError reports a failure while mirroring the stage source tree
// into the build path.
type SourceCopyError struct {
	Source string
	Path   string
	Err    error
}

func (e *SourceCopyError) Error() string {
	if e.Path == "" || e.Path == e.Source {
		return fmt.Sprintf("copy stage sources from %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("copy stage sources from %s (at %s): %v", e.Source, e.Path, e.Err)
}

func (e *SourceCopyError) Unwrap() error {
	return e.Err
}
