package stages

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultCollectionIsDeterministic(t *testing.T) {
	t.Parallel()

	collection := Default()
	names := collection.SpecNames()
	if len(names) == 0 {
		t.Fatal("SpecNames() is empty")
	}

	for _, name := range names {
		first, err := collection.For(name)
		if err != nil {
			t.Fatalf("For(%q) error = %v", name, err)
		}
		if len(first) == 0 {
			t.Fatalf("For(%q) returned an empty list", name)
		}

		second, err := collection.For(name)
		if err != nil {
			t.Fatalf("For(%q) second call error = %v", name, err)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("For(%q) differs between calls (-first +second):\n%s", name, diff)
		}
	}
}

func TestForReturnsCopy(t *testing.T) {
	t.Parallel()

	collection := Default()
	list, err := collection.For("stemcell-vsphere-ubuntu")
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	want := list[0]
	list[0] = "tampered"

	again, err := collection.For("stemcell-vsphere-ubuntu")
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if again[0] != want {
		t.Fatalf("For() first stage = %q after caller mutation, want %q", again[0], want)
	}
}

func TestForOrdersBaseBeforeImage(t *testing.T) {
	t.Parallel()

	list, err := Default().For("stemcell-aws-ubuntu")
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}

	position := func(stage Stage) int {
		for i, s := range list {
			if s == stage {
				return i
			}
		}
		t.Fatalf("stage %q missing from list", stage)
		return -1
	}

	if !(position("base_debootstrap") < position("system_aws_network") &&
		position("system_aws_network") < position("bosh_clean") &&
		position("bosh_clean") < position("stemcell")) {
		t.Fatalf("stages out of provisioning order: %v", list)
	}
	if list[0] != "base_debootstrap" || list[len(list)-1] != "stemcell" {
		t.Fatalf("unexpected bounds: first=%q last=%q", list[0], list[len(list)-1])
	}
}

func TestForUnknownSpec(t *testing.T) {
	t.Parallel()

	_, err := Default().For("stemcell-mainframe-zos")
	if !errors.Is(err, ErrUnknownSpec) {
		t.Fatalf("For() error = %v, want ErrUnknownSpec", err)
	}
}

func TestNewCollectionCopiesInput(t *testing.T) {
	t.Parallel()

	table := map[string]List{"dave": {"one", "two"}}
	collection := NewCollection(table)
	table["dave"][0] = "changed"

	got, err := collection.For("dave")
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if diff := cmp.Diff(List{"one", "two"}, got); diff != "" {
		t.Fatalf("For() mismatch (-want +got):\n%s", diff)
	}
}
