package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"poold/internal/scan"
	"poold/pkg/validate"
)

// partitionFor picks the device path to mount: the observed first partition
// when one exists, the conventional first-partition name otherwise.
func partitionFor(d scan.Disk, freshlyFormatted bool) string {
	if !freshlyFormatted && len(d.Partitions) > 0 {
		return "/dev/" + d.Partitions[0].Name
	}
	return partitionPath(d.Name)
}

func isBootDisk(d scan.Disk) bool {
	for _, p := range d.Partitions {
		if p.Mountpoint != nil && (*p.Mountpoint == "/" || *p.Mountpoint == "/boot" || *p.Mountpoint == "/boot/efi") {
			return true
		}
	}
	return false
}

// AddDisk adds one disk to the live pool. Validation short-circuits before any
// side effect; once privileged steps begin, a failure stops and reports without
// rolling back — completed steps (partition created, already mounted) are
// idempotent on retry. The throwaway test-mount exists to fail before any
// pool-visible mutation: a disk that cannot mount standalone must never reach
// the live union mount.
func (s *Service) AddDisk(ctx context.Context, diskID string, role Role, format, force bool) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := &stepLog{}
	res := Result{OpID: uuid.NewString(), PoolMount: s.cfg.PoolMount}
	fail := func(err error) (Result, error) {
		res.Success = false
		res.ErrorKind = Kind(err)
		res.Detail = err.Error()
		res.Log = log.lines()
		s.observe("add_disk", err)
		return res, err
	}

	if err := validate.DeviceName(diskID); err != nil {
		return fail(fmt.Errorf("%w: disk id %q", ErrInvalidInput, diskID))
	}
	if !role.Valid() {
		return fail(fmt.Errorf("%w: role %q", ErrInvalidInput, role))
	}
	doc, err := s.store.Load()
	if err != nil {
		return fail(fmt.Errorf("load configuration: %w", err))
	}
	if _, ok := findEntry(doc.StorageConfig, diskID); ok {
		return fail(fmt.Errorf("%w: disk %s is already a pool member", ErrInvalidInput, diskID))
	}

	d, found, err := s.scanner.Disk(ctx, diskID)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrScanFailed, err))
	}
	if !found {
		return fail(fmt.Errorf("%w: %s", ErrDeviceNotFound, diskID))
	}
	hasFS := false
	for _, p := range d.Partitions {
		if p.FSType != "" {
			hasFS = true
		}
	}
	if hasFS && !format && !force {
		res.HasData = true
		return fail(fmt.Errorf("%w: %s carries a filesystem", ErrRequiresConfirmation, diskID))
	}
	if isBootDisk(d) {
		return fail(fmt.Errorf("%w: %s is the boot device", ErrInvalidInput, diskID))
	}
	log.ok("adding /dev/%s (%s) to pool as %s", diskID, humanize.IBytes(d.SizeBytes), role)

	// detach any current mounts of this device before touching it
	for _, p := range d.Partitions {
		if p.Mountpoint == nil {
			continue
		}
		if _, err := s.run.Run(ctx, "umount", *p.Mountpoint); err != nil {
			log.warn("unmount %s: %v", *p.Mountpoint, err)
		} else {
			log.ok("unmounted %s", *p.Mountpoint)
		}
	}

	switch {
	case format:
		log.ok("formatting /dev/%s as ext4 (label %s)", diskID, ext4Label(role, diskID))
		if err := s.formatDisk(ctx, diskID, role); err != nil {
			log.fail("format /dev/%s: %v", diskID, err)
			return fail(err)
		}
	case len(d.Partitions) == 0:
		log.ok("creating partition table on /dev/%s", diskID)
		if _, err := s.run.Run(ctx, "parted", "-s", "/dev/"+diskID, "mklabel", "gpt", "mkpart", "primary", "ext4", "0%", "100%"); err != nil {
			log.fail("partition /dev/%s: %v", diskID, err)
			return fail(err)
		}
		if _, err := s.run.Run(ctx, "udevadm", "settle"); err != nil {
			log.warn("settle after partitioning: %v", err)
		}
	}
	part := partitionFor(d, format || len(d.Partitions) == 0)

	// test-mount to a throwaway location, fail fast before the pool sees it
	verifyDir, err := os.MkdirTemp("", "poold-verify-")
	if err != nil {
		return fail(err)
	}
	defer os.Remove(verifyDir)
	if _, err := s.run.Run(ctx, "mount", part, verifyDir); err != nil {
		log.fail("test mount of %s failed: %v", part, err)
		return fail(fmt.Errorf("%w: %s", ErrNotMountable, part))
	}
	if _, err := s.run.Run(ctx, "umount", verifyDir); err != nil {
		log.warn("unmount test mount: %v", err)
	}
	log.ok("test mount of %s succeeded", part)

	fsUUID, err := s.resolveUUID(ctx, part)
	if err != nil {
		log.fail("resolve uuid for %s: %v", part, err)
		return fail(fmt.Errorf("%w: %s", ErrUuidUnresolvable, part))
	}

	mp := s.mountPointFor(doc.StorageConfig, role)
	if err := os.MkdirAll(mp, 0o755); err != nil {
		return fail(fmt.Errorf("create mount point %s: %w", mp, err))
	}
	if _, err := s.run.Run(ctx, "mount", part, mp); err != nil {
		log.fail("mount %s at %s: %v", part, mp, err)
		return fail(fmt.Errorf("mount %s: %w", part, err))
	}
	log.ok("mounted %s at %s", part, mp)
	if role == RoleData {
		if err := os.MkdirAll(filepath.Join(mp, ".snapraid"), 0o755); err != nil {
			log.warn("create snapraid marker under %s: %v", mp, err)
		}
	}

	entry := PoolDiskEntry{DiskID: diskID, Role: role, UUID: fsUUID, MountPoint: mp, AddedAt: time.Now().UTC()}
	// cache insertions go to the branch head; everything else to the back
	var entries []PoolDiskEntry
	if role == RoleCache {
		entries = append([]PoolDiskEntry{entry}, doc.StorageConfig...)
	} else {
		entries = append(append([]PoolDiskEntry{}, doc.StorageConfig...), entry)
	}

	if err := s.rewriteFstab(ctx, entries, doc.StandaloneVolumes); err != nil {
		log.warn("rewrite %s: %v", s.cfg.FstabPath, err)
	}

	if role == RoleParity {
		if err := s.writeSnapraidConfig(ctx, entries); err != nil {
			log.warn("write snapraid config: %v", err)
		} else {
			log.ok("regenerated snapraid config")
		}
	} else {
		// hot-add: recompute the branch list and remount the union
		if err := s.unmountUnion(ctx, false); err == nil {
			log.ok("detached union mount at %s", s.cfg.PoolMount)
		}
		if err := os.MkdirAll(s.cfg.PoolMount, 0o755); err != nil {
			log.warn("create union mount point: %v", err)
		}
		if err := s.mountUnion(ctx, entries); err != nil {
			log.fail("remount union: %v", err)
			return fail(fmt.Errorf("union mount: %w", err))
		}
		log.ok("union remounted with %d branches (create policy %s)", len(Branches(entries)), CreatePolicy(entries))
	}

	if err := s.store.Update(ctx, func(dd *Document) error {
		dd.StorageConfig = entries
		return nil
	}); err != nil {
		log.fail("commit configuration: %v", err)
		return fail(fmt.Errorf("commit: %w", err))
	}
	log.ok("committed %s as %s", diskID, role)

	s.updateGauges(entries)
	s.observe("add_disk", nil)
	res.Success = true
	res.Log = log.lines()
	return res, nil
}

// RemoveDisk detaches a member from the union view. Data on the removed disk is
// left intact.
func (s *Service) RemoveDisk(ctx context.Context, diskID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := &stepLog{}
	res := Result{OpID: uuid.NewString(), PoolMount: s.cfg.PoolMount}
	fail := func(err error) (Result, error) {
		res.Success = false
		res.ErrorKind = Kind(err)
		res.Detail = err.Error()
		res.Log = log.lines()
		s.observe("remove_disk", err)
		return res, err
	}

	if err := validate.DeviceName(diskID); err != nil {
		return fail(fmt.Errorf("%w: disk id %q", ErrInvalidInput, diskID))
	}
	doc, err := s.store.Load()
	if err != nil {
		return fail(fmt.Errorf("load configuration: %w", err))
	}
	entry, ok := findEntry(doc.StorageConfig, diskID)
	if !ok {
		return fail(fmt.Errorf("%w: %s is not a pool member", ErrDeviceNotFound, diskID))
	}
	remaining := make([]PoolDiskEntry, 0, len(doc.StorageConfig)-1)
	for _, e := range doc.StorageConfig {
		if e.DiskID != diskID {
			remaining = append(remaining, e)
		}
	}
	if countRole(remaining, RoleData) == 0 {
		return fail(fmt.Errorf("%w: cannot remove the last data disk", ErrPoolInvariant))
	}

	if entry.Role == RoleParity {
		log.ok("removing parity disk %s; union mount unchanged", diskID)
		if countRole(remaining, RoleParity) > 0 {
			if err := s.writeSnapraidConfig(ctx, remaining); err != nil {
				log.warn("write snapraid config: %v", err)
			}
		} else {
			if err := s.removeSnapraidConfig(ctx); err != nil {
				log.warn("remove snapraid config: %v", err)
			} else {
				log.ok("removed snapraid config; no parity disks remain")
			}
		}
	} else {
		// escalating unmount: normal first, lazy on refusal
		if err := s.unmountUnion(ctx, true); err != nil {
			log.fail("unmount union at %s: %v", s.cfg.PoolMount, err)
			return fail(err)
		}
		log.ok("detached union mount at %s", s.cfg.PoolMount)
		if err := s.mountUnion(ctx, remaining); err != nil {
			log.fail("remount union: %v", err)
			return fail(fmt.Errorf("union mount: %w", err))
		}
		log.ok("union remounted with %d branches", len(Branches(remaining)))
		if countRole(remaining, RoleParity) > 0 {
			if err := s.writeSnapraidConfig(ctx, remaining); err != nil {
				log.warn("write snapraid config: %v", err)
			}
		}
	}

	if err := s.rewriteFstab(ctx, remaining, doc.StandaloneVolumes); err != nil {
		log.warn("rewrite %s: %v", s.cfg.FstabPath, err)
	}

	if err := s.store.Update(ctx, func(dd *Document) error {
		dd.StorageConfig = remaining
		return nil
	}); err != nil {
		log.fail("commit configuration: %v", err)
		return fail(fmt.Errorf("commit: %w", err))
	}
	log.ok("removed %s from pool; data on the disk is untouched", diskID)

	s.updateGauges(remaining)
	s.observe("remove_disk", nil)
	res.Success = true
	res.Log = log.lines()
	return res, nil
}

// MountStandalone mounts a disk by name outside the union filesystem. Pool
// membership and the union mount are never touched.
func (s *Service) MountStandalone(ctx context.Context, diskID, name string, format bool) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := &stepLog{}
	res := Result{OpID: uuid.NewString()}
	fail := func(err error) (Result, error) {
		res.Success = false
		res.ErrorKind = Kind(err)
		res.Detail = err.Error()
		res.Log = log.lines()
		s.observe("mount_standalone", err)
		return res, err
	}

	if err := validate.DeviceName(diskID); err != nil {
		return fail(fmt.Errorf("%w: disk id %q", ErrInvalidInput, diskID))
	}
	if err := validate.VolumeName(name); err != nil {
		return fail(fmt.Errorf("%w: volume name %q", ErrInvalidInput, name))
	}
	doc, err := s.store.Load()
	if err != nil {
		return fail(fmt.Errorf("load configuration: %w", err))
	}
	if _, ok := findEntry(doc.StorageConfig, diskID); ok {
		return fail(fmt.Errorf("%w: disk %s is a pool member", ErrInvalidInput, diskID))
	}
	for _, v := range doc.StandaloneVolumes {
		if v.DiskID == diskID {
			return fail(fmt.Errorf("%w: disk %s already mounted as %q", ErrInvalidInput, diskID, v.Name))
		}
		if v.Name == name {
			return fail(fmt.Errorf("%w: volume name %q taken", ErrInvalidInput, name))
		}
	}

	d, found, err := s.scanner.Disk(ctx, diskID)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrScanFailed, err))
	}
	if !found {
		return fail(fmt.Errorf("%w: %s", ErrDeviceNotFound, diskID))
	}
	if isBootDisk(d) {
		return fail(fmt.Errorf("%w: %s is the boot device", ErrInvalidInput, diskID))
	}
	log.ok("mounting /dev/%s (%s) as standalone volume %q", diskID, humanize.IBytes(d.SizeBytes), name)

	for _, p := range d.Partitions {
		if p.Mountpoint == nil {
			continue
		}
		if _, err := s.run.Run(ctx, "umount", *p.Mountpoint); err != nil {
			log.warn("unmount %s: %v", *p.Mountpoint, err)
		}
	}
	switch {
	case format:
		log.ok("formatting /dev/%s as ext4", diskID)
		if err := s.formatDisk(ctx, diskID, RoleData); err != nil {
			log.fail("format /dev/%s: %v", diskID, err)
			return fail(err)
		}
	case len(d.Partitions) == 0:
		return fail(fmt.Errorf("%w: %s has no partitions and format was not requested", ErrInvalidInput, diskID))
	}
	part := partitionFor(d, format)

	fsUUID, err := s.resolveUUID(ctx, part)
	if err != nil {
		log.fail("resolve uuid for %s: %v", part, err)
		return fail(fmt.Errorf("%w: %s", ErrUuidUnresolvable, part))
	}

	mp := filepath.Join(s.cfg.StandaloneBase, name)
	if err := os.MkdirAll(mp, 0o755); err != nil {
		return fail(fmt.Errorf("create mount point %s: %w", mp, err))
	}
	if _, err := s.run.Run(ctx, "mount", part, mp); err != nil {
		log.fail("mount %s at %s: %v", part, mp, err)
		return fail(fmt.Errorf("%w: %s", ErrNotMountable, part))
	}
	log.ok("mounted %s at %s", part, mp)

	vol := StandaloneVolume{DiskID: diskID, Name: name, UUID: fsUUID, MountPoint: mp, AddedAt: time.Now().UTC()}
	volumes := append(append([]StandaloneVolume{}, doc.StandaloneVolumes...), vol)
	if err := s.rewriteFstab(ctx, doc.StorageConfig, volumes); err != nil {
		log.warn("rewrite %s: %v", s.cfg.FstabPath, err)
	}
	if err := s.store.Update(ctx, func(dd *Document) error {
		dd.StandaloneVolumes = volumes
		return nil
	}); err != nil {
		log.fail("commit configuration: %v", err)
		return fail(fmt.Errorf("commit: %w", err))
	}
	log.ok("committed standalone volume %q", name)

	s.observe("mount_standalone", nil)
	res.Success = true
	res.Log = log.lines()
	return res, nil
}

// IgnoreDisk hides a disk from the unconfigured inventory. Pure metadata, no OS
// side effects.
func (s *Service) IgnoreDisk(ctx context.Context, diskID string) error {
	if err := validate.DeviceName(diskID); err != nil {
		return fmt.Errorf("%w: disk id %q", ErrInvalidInput, diskID)
	}
	return s.store.Update(ctx, func(d *Document) error {
		for _, id := range d.IgnoredDisks {
			if id == diskID {
				return nil
			}
		}
		d.IgnoredDisks = append(d.IgnoredDisks, diskID)
		return nil
	})
}

func (s *Service) UnignoreDisk(ctx context.Context, diskID string) error {
	if err := validate.DeviceName(diskID); err != nil {
		return fmt.Errorf("%w: disk id %q", ErrInvalidInput, diskID)
	}
	return s.store.Update(ctx, func(d *Document) error {
		out := d.IgnoredDisks[:0]
		for _, id := range d.IgnoredDisks {
			if id != diskID {
				out = append(out, id)
			}
		}
		d.IgnoredDisks = out
		return nil
	})
}
