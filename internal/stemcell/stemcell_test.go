package stemcell

import (
	"errors"
	"testing"
)

func TestInfrastructureFor(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"aws", "openstack", "vsphere", "warden", " VSphere "} {
		infra, err := InfrastructureFor(name)
		if err != nil {
			t.Errorf("InfrastructureFor(%q) error = %v", name, err)
			continue
		}
		if infra.Hypervisor == "" {
			t.Errorf("InfrastructureFor(%q) hypervisor is empty", name)
		}
	}

	if _, err := InfrastructureFor("mainframe"); !errors.Is(err, ErrUnknownInfrastructure) {
		t.Fatalf("InfrastructureFor(mainframe) error = %v, want ErrUnknownInfrastructure", err)
	}
}

func TestOperatingSystemFor(t *testing.T) {
	t.Parallel()

	os, err := OperatingSystemFor("ubuntu")
	if err != nil {
		t.Fatalf("OperatingSystemFor(ubuntu) error = %v", err)
	}
	if os != Ubuntu {
		t.Fatalf("OperatingSystemFor(ubuntu) = %v, want %v", os, Ubuntu)
	}

	if _, err := OperatingSystemFor("plan9"); !errors.Is(err, ErrUnknownOperatingSystem) {
		t.Fatalf("OperatingSystemFor(plan9) error = %v, want ErrUnknownOperatingSystem", err)
	}
}

func TestSpecName(t *testing.T) {
	t.Parallel()

	if got := SpecName(VSphere, Ubuntu); got != "stemcell-vsphere-ubuntu" {
		t.Fatalf("SpecName() = %q, want stemcell-vsphere-ubuntu", got)
	}
}

func TestArchiveFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename ArchiveFilename
		want     string
	}{
		{
			name:     "default name",
			filename: ArchiveFilename{Version: "007", Infrastructure: VSphere, OperatingSystem: Ubuntu},
			want:     "bosh-stemcell-007-vsphere-esxi-ubuntu.tgz",
		},
		{
			name:     "light stemcell",
			filename: ArchiveFilename{Version: "123", Infrastructure: AWS, OperatingSystem: Ubuntu, Light: true},
			want:     "light-bosh-stemcell-123-aws-xen-ubuntu.tgz",
		},
		{
			name:     "custom name",
			filename: ArchiveFilename{Version: "latest", Infrastructure: OpenStack, OperatingSystem: CentOS, Name: "micro-bosh-stemcell"},
			want:     "micro-bosh-stemcell-latest-openstack-kvm-centos.tgz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filename.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildSpecValidate(t *testing.T) {
	t.Parallel()

	valid := BuildSpec{
		InfrastructureName:  "vsphere",
		OperatingSystemName: "ubuntu",
		ReleaseTarballPath:  "/fake/path/to/bosh-007.tgz",
		Version:             "007",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if err := (BuildSpec{}).Validate(); err == nil {
		t.Fatal("Validate() on empty spec = nil, want error")
	}
}
