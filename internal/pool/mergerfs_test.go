package pool

import (
	"strings"
	"testing"
)

func entriesFixture() []PoolDiskEntry {
	return []PoolDiskEntry{
		{DiskID: "sda", Role: RoleData, MountPoint: "/mnt/storage/disk1"},
		{DiskID: "sdb", Role: RoleParity, MountPoint: "/mnt/parity1"},
		{DiskID: "sdc", Role: RoleCache, MountPoint: "/mnt/storage/cache1"},
		{DiskID: "sdd", Role: RoleData, MountPoint: "/mnt/storage/disk2"},
	}
}

func TestBranchesCacheFirstParityExcluded(t *testing.T) {
	got := Branches(entriesFixture())
	want := []string{"/mnt/storage/cache1", "/mnt/storage/disk1", "/mnt/storage/disk2"}
	if len(got) != len(want) {
		t.Fatalf("branches: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("branch %d: got %s want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestCreatePolicy(t *testing.T) {
	if p := CreatePolicy(entriesFixture()); p != "lfs" {
		t.Fatalf("with cache: %s", p)
	}
	noCache := []PoolDiskEntry{
		{DiskID: "sda", Role: RoleData, MountPoint: "/mnt/storage/disk1"},
		{DiskID: "sdb", Role: RoleParity, MountPoint: "/mnt/parity1"},
	}
	if p := CreatePolicy(noCache); p != "mfs" {
		t.Fatalf("without cache: %s", p)
	}
}

func TestMountOptions(t *testing.T) {
	opts := MountOptions(entriesFixture(), "50G")
	if !strings.Contains(opts, "category.create=lfs") {
		t.Fatalf("expected lfs policy: %s", opts)
	}
	if !strings.Contains(opts, "moveonenospc=true") || !strings.Contains(opts, "minfreespace=50G") {
		t.Fatalf("expected cache spill options: %s", opts)
	}

	noCache := []PoolDiskEntry{{DiskID: "sda", Role: RoleData, MountPoint: "/mnt/storage/disk1"}}
	opts = MountOptions(noCache, "50G")
	if !strings.Contains(opts, "category.create=mfs") {
		t.Fatalf("expected mfs policy: %s", opts)
	}
	if strings.Contains(opts, "minfreespace") || strings.Contains(opts, "moveonenospc") {
		t.Fatalf("cache options must be absent without cache disks: %s", opts)
	}
}
