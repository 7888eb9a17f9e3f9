package stemcell

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownInfrastructure is returned when an infrastructure name is not supported.
var ErrUnknownInfrastructure = errors.New("unknown infrastructure")

// Infrastructure describes an IaaS target a stemcell can be built for.
type Infrastructure struct {
	Name              string
	Hypervisor        string
	DefaultDiskSizeMB int
	// Light stemcells only reference a published machine image.
	Light bool
}

// Supported infrastructures.
var (
	AWS       = Infrastructure{Name: "aws", Hypervisor: "xen", DefaultDiskSizeMB: 2048, Light: true}
	OpenStack = Infrastructure{Name: "openstack", Hypervisor: "kvm", DefaultDiskSizeMB: 10240}
	VSphere   = Infrastructure{Name: "vsphere", Hypervisor: "esxi", DefaultDiskSizeMB: 2048}
	Warden    = Infrastructure{Name: "warden", Hypervisor: "boshlite", DefaultDiskSizeMB: 2048}
)

// Infrastructures returns every supported infrastructure in a stable order.
func Infrastructures() []Infrastructure {
	return []Infrastructure{AWS, OpenStack, VSphere, Warden}
}

// InfrastructureFor returns the infrastructure registered under name.
func InfrastructureFor(name string) (Infrastructure, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, infra := range Infrastructures() {
		if infra.Name == normalized {
			return infra, nil
		}
	}
	return Infrastructure{}, fmt.Errorf("%w %q (supported: %s)", ErrUnknownInfrastructure, name, strings.Join(infrastructureNames(), ", "))
}

// String returns the infrastructure name.
func (i Infrastructure) String() string {
	return i.Name
}

func infrastructureNames() []string {
	all := Infrastructures()
	names := make([]string, 0, len(all))
	for _, infra := range all {
		names = append(names, infra.Name)
	}
	return names
}
