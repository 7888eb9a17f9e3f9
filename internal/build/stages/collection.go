package stages

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrUnknownSpec is returned when no stage list is registered for a spec name.
var ErrUnknownSpec = errors.New("unknown stage spec")

// Stage names a provisioning step under <build>/stages/<name>.
type Stage string

// List is an ordered sequence of stages.
type List []Stage

// Collection maps spec names to stage lists.
type Collection struct {
	table map[string]List
}

// NewCollection builds a collection from table. Lists are copied.
func NewCollection(table map[string]List) *Collection {
	c := &Collection{table: make(map[string]List, len(table))}
	for name, list := range table {
		c.table[name] = slices.Clone(list)
	}
	return c
}

// Default returns the built-in collection of supported stemcells.
func Default() *Collection {
	return NewCollection(defaultTable())
}

// For returns a copy of the stage list registered under specName.
func (c *Collection) For(specName string) (List, error) {
	list, ok := c.table[specName]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSpec, specName)
	}
	return slices.Clone(list), nil
}

// SpecNames lists the registered spec names in sorted order.
func (c *Collection) SpecNames() []string {
	names := make([]string, 0, len(c.table))
	for name := range c.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	ubuntuStages = List{
		"base_debootstrap",
		"base_apt",
		"base_ubuntu_firstboot",
		"base_ubuntu_build_essential",
		"base_ubuntu_packages",
		"base_ssh",
		"bosh_dpkg_list",
	}
	centosStages = List{
		"base_centos",
		"base_yum",
		"base_centos_packages",
		"base_ssh",
	}
	agentStages = List{
		"bosh_users",
		"bosh_monit",
		"bosh_ruby",
		"bosh_agent",
		"bosh_sysstat",
		"bosh_sysctl",
		"bosh_ntpdate",
		"bosh_sudoers",
		"bosh_micro",
	}
	awsStages = List{
		"system_grub",
		"system_kernel",
		"system_aws_network",
		"system_aws_clock",
		"system_aws_modules",
		"system_parameters",
		"bosh_clean",
		"bosh_harden",
		"bosh_harden_ssh",
		"bosh_aws_agent_settings",
		"image_create",
		"image_install_grub",
		"image_aws_update_grub",
		"image_aws_prepare_stemcell",
		"stemcell",
	}
	openstackStages = List{
		"system_grub",
		"system_kernel",
		"system_openstack_network",
		"system_openstack_clock",
		"system_openstack_modules",
		"system_parameters",
		"bosh_clean",
		"bosh_harden",
		"bosh_harden_ssh",
		"image_create",
		"image_install_grub",
		"image_openstack_qcow2",
		"image_openstack_prepare_stemcell",
		"stemcell_openstack",
	}
	vsphereStages = List{
		"system_open_vm_tools",
		"system_grub",
		"system_kernel",
		"system_parameters",
		"bosh_clean",
		"bosh_harden",
		"image_create",
		"image_install_grub",
		"image_vsphere_vmx",
		"image_vsphere_ovf",
		"image_vsphere_prepare_stemcell",
		"stemcell",
	}
	wardenStages = List{
		"system_parameters",
		"base_warden",
		"bosh_clean",
		"bosh_harden",
		"image_create",
		"image_warden_prepare_stemcell",
		"stemcell",
	}
)

func defaultTable() map[string]List {
	return map[string]List{
		"stemcell-aws-ubuntu":       concat(ubuntuStages, agentStages, awsStages),
		"stemcell-aws-centos":       concat(centosStages, agentStages, awsStages),
		"stemcell-openstack-ubuntu": concat(ubuntuStages, agentStages, openstackStages),
		"stemcell-openstack-centos": concat(centosStages, agentStages, openstackStages),
		"stemcell-vsphere-ubuntu":   concat(ubuntuStages, agentStages, vsphereStages),
		"stemcell-vsphere-centos":   concat(centosStages, agentStages, vsphereStages),
		"stemcell-warden-ubuntu":    concat(ubuntuStages, agentStages, wardenStages),
	}
}

func concat(lists ...List) List {
	var out List
	for _, list := range lists {
		out = append(out, list...)
	}
	return out
}
