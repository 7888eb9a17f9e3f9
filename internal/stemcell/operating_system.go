package stemcell

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOperatingSystem is returned when an operating system name is not supported.
var ErrUnknownOperatingSystem = errors.New("unknown operating system")

// OperatingSystem describes the guest OS installed into the stemcell.
type OperatingSystem struct {
	Name string
}

// Supported operating systems.
var (
	Ubuntu = OperatingSystem{Name: "ubuntu"}
	CentOS = OperatingSystem{Name: "centos"}
)

// OperatingSystems returns every supported operating system in a stable order.
func OperatingSystems() []OperatingSystem {
	return []OperatingSystem{Ubuntu, CentOS}
}

// OperatingSystemFor returns the operating system registered under name.
func OperatingSystemFor(name string) (OperatingSystem, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, os := range OperatingSystems() {
		if os.Name == normalized {
			return os, nil
		}
	}
	return OperatingSystem{}, fmt.Errorf("%w %q (supported: ubuntu, centos)", ErrUnknownOperatingSystem, name)
}

// String returns the operating system name.
func (o OperatingSystem) String() string {
	return o.Name
}

// SpecName is the key identifying the stage list for an infrastructure and OS pair.
func SpecName(infra Infrastructure, os OperatingSystem) string {
	return fmt.Sprintf("stemcell-%s-%s", infra.Name, os.Name)
}
