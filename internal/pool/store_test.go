package pool

import (
	"context"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(doc.StorageConfig) != 0 || len(doc.StandaloneVolumes) != 0 || len(doc.IgnoredDisks) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}

	now := time.Now().UTC()
	err = s.Update(context.Background(), func(d *Document) error {
		d.StorageConfig = []PoolDiskEntry{{DiskID: "sda", Role: RoleData, UUID: "u1", MountPoint: "/mnt/storage/disk1", AddedAt: now}}
		d.IgnoredDisks = []string{"sdz"}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	doc, err = s.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(doc.StorageConfig) != 1 || doc.StorageConfig[0].DiskID != "sda" || doc.StorageConfig[0].Role != RoleData {
		t.Fatalf("entries: %+v", doc.StorageConfig)
	}
	if len(doc.IgnoredDisks) != 1 || doc.IgnoredDisks[0] != "sdz" {
		t.Fatalf("ignored: %+v", doc.IgnoredDisks)
	}
}

func TestStoreUpdateErrorDiscardsChanges(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Update(context.Background(), func(d *Document) error {
		d.IgnoredDisks = []string{"sda"}
		return ErrInvalidInput
	}); err == nil {
		t.Fatal("expected error")
	}
	doc, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.IgnoredDisks) != 0 {
		t.Fatalf("aborted update must not persist: %+v", doc.IgnoredDisks)
	}
}
