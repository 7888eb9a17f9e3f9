package stemcell

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultName is the stemcell name used in archive filenames.
const DefaultName = "bosh-stemcell"

// BuildSpec identifies one stemcell build.
type BuildSpec struct {
	InfrastructureName  string
	OperatingSystemName string
	ReleaseTarballPath  string
	Version             string
}

// Validate checks that the spec carries the fields every build needs.
func (s BuildSpec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.InfrastructureName) == "" {
		errs = append(errs, errors.New("infrastructure is required"))
	}
	if strings.TrimSpace(s.OperatingSystemName) == "" {
		errs = append(errs, errors.New("operating system is required"))
	}
	if strings.TrimSpace(s.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if strings.TrimSpace(s.ReleaseTarballPath) == "" {
		errs = append(errs, errors.New("release tarball path is required"))
	}
	return errors.Join(errs...)
}

// ArchiveFilename names the tarball a build leaves in the work directory.
type ArchiveFilename struct {
	Version         string
	Infrastructure  Infrastructure
	OperatingSystem OperatingSystem
	Name            string
	Light           bool
}

// String renders the filename, e.g. bosh-stemcell-007-vsphere-esxi-ubuntu.tgz.
func (a ArchiveFilename) String() string {
	name := a.Name
	if name == "" {
		name = DefaultName
	}
	if a.Light {
		name = "light-" + name
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s.tgz",
		name,
		a.Version,
		a.Infrastructure.Name,
		a.Infrastructure.Hypervisor,
		a.OperatingSystem.Name,
	)
}
