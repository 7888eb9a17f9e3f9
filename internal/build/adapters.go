package build

import (
	"github.com/cochaviz/stemcell/internal/build/stages"
	"github.com/cochaviz/stemcell/internal/build/workspace"
)

// StageResolver maps a spec name such as stemcell-aws-ubuntu to its ordered
// stage list.
type StageResolver interface {
	For(specName string) (stages.List, error)
}

var _ StageResolver = (*stages.Collection)(nil)

var _ workspace.Wiper = (*stages.PrivilegedWiper)(nil)
