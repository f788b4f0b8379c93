package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"poold/pkg/shell"
)

type fakeRunner struct {
	stdout []byte
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (shell.Result, error) {
	return shell.Result{Stdout: f.stdout}, f.err
}

const lsblkFixture = `{
  "blockdevices": [
    {"name":"sda","path":"/dev/sda","size":4000787030016,"rota":true,"type":"disk","tran":"sata","model":"WDC WD40EFRX","serial":"WD-1","children":[
      {"name":"sda1","size":4000785964544,"type":"part","fstype":"ext4","uuid":"aaaa-1111","mountpoint":"/mnt/storage/disk1"}
    ]},
    {"name":"sdb","path":"/dev/sdb","size":4000787030016,"rota":true,"type":"disk","tran":"sata","serial":"WD-2","children":[
      {"name":"sdb1","size":4000785964544,"type":"part","fstype":"ext4","uuid":"bbbb-2222","mountpoint":null}
    ]},
    {"name":"sdc","path":"/dev/sdc","size":8001563222016,"rota":true,"type":"disk","tran":"usb","children":[]},
    {"name":"sdd","path":"/dev/sdd","size":2000398934016,"rota":true,"type":"disk","children":[
      {"name":"sdd1","size":2000397868544,"type":"part","fstype":"ntfs","uuid":"cccc-3333","mountpoint":null}
    ]},
    {"name":"loop0","path":"/dev/loop0","size":104857600,"type":"disk","children":[]},
    {"name":"zram0","path":"/dev/zram0","size":2147483648,"type":"disk","children":[]},
    {"name":"mmcblk0","path":"/dev/mmcblk0","size":31268536320,"type":"disk","children":[
      {"name":"mmcblk0p1","size":31267487744,"type":"part","fstype":"ext4","mountpoint":"/"}
    ]},
    {"name":"sde","path":"/dev/sde","size":536870912,"type":"disk","children":[]}
  ]
}`

func newTestScanner(out string) *Scanner {
	return New(&fakeRunner{stdout: []byte(out)}, zerolog.Nop())
}

func TestCollectFilters(t *testing.T) {
	s := newTestScanner(lsblkFixture)
	disks, err := s.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := map[string]bool{"sda": true, "sdb": true, "sdc": true, "sdd": true}
	if len(disks) != len(want) {
		t.Fatalf("expected %d disks, got %d: %+v", len(want), len(disks), disks)
	}
	for _, d := range disks {
		if !want[d.Name] {
			t.Errorf("unexpected disk %q survived filtering", d.Name)
		}
	}
}

func TestScanClassification(t *testing.T) {
	s := newTestScanner(lsblkFixture)
	res, err := s.Scan(context.Background(), Query{
		Roles:     map[string]string{"sda": "data"},
		Ignored:   map[string]bool{"sdc": true},
		MountBase: "/mnt/storage",
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(res.Configured) != 1 || res.Configured[0].Name != "sda" || res.Configured[0].Role != "data" {
		t.Fatalf("configured: %+v", res.Configured)
	}
	// sdc is ignored, leaving sdb and sdd
	if len(res.Unconfigured) != 2 {
		t.Fatalf("unconfigured: %+v", res.Unconfigured)
	}
	byName := map[string]UnconfiguredDisk{}
	for _, u := range res.Unconfigured {
		byName[u.Name] = u
	}
	if u := byName["sdb"]; !u.HasData || !u.Formatted {
		t.Fatalf("sdb flags: %+v", u)
	}
	if u := byName["sdd"]; !u.HasData || !u.Formatted {
		t.Fatalf("sdd flags (ntfs is known-safe): %+v", u)
	}
}

func TestScanObservedMountCountsAsConfigured(t *testing.T) {
	s := newTestScanner(lsblkFixture)
	// no committed record for sda, but its partition is mounted under the base
	res, err := s.Scan(context.Background(), Query{MountBase: "/mnt/storage"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	found := false
	for _, c := range res.Configured {
		if c.Name == "sda" && c.Role == "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sda configured by observed mount, got %+v", res.Configured)
	}
}

func TestScanFailureIsEmptyNotPartial(t *testing.T) {
	s := New(&fakeRunner{err: errors.New("boom")}, zerolog.Nop())
	res, err := s.Scan(context.Background(), Query{})
	if !errors.Is(err, ErrScanFailed) {
		t.Fatalf("expected ErrScanFailed, got %v", err)
	}
	if len(res.Configured) != 0 || len(res.Unconfigured) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}

	s = newTestScanner("{not json")
	if _, err := s.Scan(context.Background(), Query{}); !errors.Is(err, ErrScanFailed) {
		t.Fatalf("expected ErrScanFailed on parse error, got %v", err)
	}
}
