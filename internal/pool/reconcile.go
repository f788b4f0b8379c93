package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"poold/pkg/validate"
)

func validateTarget(target []TargetDisk) error {
	if len(target) == 0 {
		return fmt.Errorf("%w: empty target disk set", ErrInvalidInput)
	}
	seen := map[string]bool{}
	dataDisks := 0
	for _, t := range target {
		if err := validate.DeviceName(t.DiskID); err != nil {
			return fmt.Errorf("%w: disk id %q", ErrInvalidInput, t.DiskID)
		}
		if !t.Role.Valid() {
			return fmt.Errorf("%w: role %q for disk %s", ErrInvalidInput, t.Role, t.DiskID)
		}
		if seen[t.DiskID] {
			return fmt.Errorf("%w: disk %s listed twice", ErrInvalidInput, t.DiskID)
		}
		seen[t.DiskID] = true
		if t.Role == RoleData {
			dataDisks++
		}
	}
	if dataDisks == 0 {
		return fmt.Errorf("%w: at least one data disk required", ErrInvalidInput)
	}
	return nil
}

// Reconfigure converges the live system to the target disk set: format, mount,
// snapraid config, union mount, permissions, boot persistence, commit. It fails
// atomically at the validation stage; once privileged operations begin,
// non-critical failures become warnings in the step log and the sequence
// continues. Critical failures (a requested format, the union mount itself, the
// final commit) abort with the log reporting exactly how far it progressed.
func (s *Service) Reconfigure(ctx context.Context, target []TargetDisk) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := &stepLog{}
	res := Result{OpID: uuid.NewString(), PoolMount: s.cfg.PoolMount}
	fail := func(err error) (Result, error) {
		res.Success = false
		res.ErrorKind = Kind(err)
		res.Detail = err.Error()
		res.Log = log.lines()
		s.observe("reconfigure", err)
		return res, err
	}

	// Validation phase: no side effects on failure.
	if err := validateTarget(target); err != nil {
		return fail(err)
	}
	doc, err := s.store.Load()
	if err != nil {
		return fail(fmt.Errorf("load configuration: %w", err))
	}

	// Phase 1: format every disk flagged for it. A failed format on a disk the
	// caller explicitly asked to format is critical.
	for _, t := range target {
		if !t.Format {
			continue
		}
		log.ok("formatting /dev/%s as ext4 (label %s)", t.DiskID, ext4Label(t.Role, t.DiskID))
		if err := s.formatDisk(ctx, t.DiskID, t.Role); err != nil {
			log.fail("format /dev/%s: %v", t.DiskID, err)
			return fail(err)
		}
	}

	// Phase 2: mount members at sequential mount points in encounter order.
	// Mount failures are tolerated; the disk may already be mounted from a
	// prior run.
	var entries []PoolDiskEntry
	var dataN, cacheN, parityN int
	for _, t := range target {
		var mp string
		switch t.Role {
		case RoleData:
			dataN++
			mp = filepath.Join(s.cfg.MountBase, "disk"+strconv.Itoa(dataN))
		case RoleCache:
			cacheN++
			mp = filepath.Join(s.cfg.MountBase, "cache"+strconv.Itoa(cacheN))
		case RoleParity:
			parityN++
			mp = filepath.Join(s.cfg.ParityBase, "parity"+strconv.Itoa(parityN))
		}
		entry := PoolDiskEntry{DiskID: t.DiskID, Role: t.Role, MountPoint: mp, AddedAt: time.Now().UTC()}
		if prev, ok := findEntry(doc.StorageConfig, t.DiskID); ok && prev.Role == t.Role {
			entry.AddedAt = prev.AddedAt
		}
		if err := os.MkdirAll(mp, 0o755); err != nil {
			log.warn("create mount point %s: %v", mp, err)
		}
		if _, err := s.run.Run(ctx, "mount", partitionPath(t.DiskID), mp); err != nil {
			log.warn("mount %s at %s: %v (may already be mounted)", partitionPath(t.DiskID), mp, err)
		} else {
			log.ok("mounted %s at %s", partitionPath(t.DiskID), mp)
		}
		if t.Role == RoleData {
			if err := os.MkdirAll(filepath.Join(mp, ".snapraid"), 0o755); err != nil {
				log.warn("create snapraid marker under %s: %v", mp, err)
			}
		}
		entries = append(entries, entry)
	}

	// Phase 3: snapraid config, only when parity disks are committed.
	if parityN > 0 {
		if err := s.writeSnapraidConfig(ctx, entries); err != nil {
			log.warn("write snapraid config: %v", err)
		} else {
			log.ok("wrote snapraid config (%d parity, %d data)", parityN, dataN)
		}
	} else {
		if err := s.removeSnapraidConfig(ctx); err != nil {
			log.warn("remove stale snapraid config: %v", err)
		}
		log.ok("no parity disks; snapraid config skipped")
	}

	// Phase 4: union mount. A stale or missing previous mount is not an error;
	// a failed remount is.
	if err := s.unmountUnion(ctx, false); err == nil {
		log.ok("detached previous union mount at %s", s.cfg.PoolMount)
	}
	if err := os.MkdirAll(s.cfg.PoolMount, 0o755); err != nil {
		log.warn("create union mount point %s: %v", s.cfg.PoolMount, err)
	}
	if err := s.mountUnion(ctx, entries); err != nil {
		log.fail("mount union at %s: %v", s.cfg.PoolMount, err)
		return fail(fmt.Errorf("union mount: %w", err))
	}
	log.ok("union mounted at %s (create policy %s, %d branches)", s.cfg.PoolMount, CreatePolicy(entries), len(Branches(entries)))

	// Phase 5: permission normalization so the file-sharing layer can write.
	if _, err := s.run.Run(ctx, "chgrp", "-R", s.cfg.ShareGroup, s.cfg.PoolMount); err != nil {
		log.warn("set group ownership on %s: %v", s.cfg.PoolMount, err)
	}
	if _, err := s.run.Run(ctx, "chmod", "-R", "2775", s.cfg.PoolMount); err != nil {
		log.warn("set permissions on %s: %v", s.cfg.PoolMount, err)
	}

	// Phase 6: boot persistence, UUID-preferred. The managed fstab block is
	// rewritten wholesale, never incrementally patched.
	for i := range entries {
		u, err := s.resolveUUID(ctx, partitionPath(entries[i].DiskID))
		if err != nil {
			log.warn("resolve uuid for %s: %v (falling back to device path)", partitionPath(entries[i].DiskID), err)
			continue
		}
		entries[i].UUID = u
	}
	if err := s.rewriteFstab(ctx, entries, doc.StandaloneVolumes); err != nil {
		log.warn("rewrite %s: %v", s.cfg.FstabPath, err)
	} else {
		log.ok("rewrote boot persistence records in %s", s.cfg.FstabPath)
	}

	// Phase 7: commit the new entry list wholesale.
	if err := s.store.Update(ctx, func(d *Document) error {
		d.StorageConfig = entries
		return nil
	}); err != nil {
		log.fail("commit configuration: %v", err)
		return fail(fmt.Errorf("commit: %w", err))
	}
	log.ok("committed %d pool disks", len(entries))

	s.updateGauges(entries)
	s.observe("reconfigure", nil)
	res.Success = true
	res.Log = log.lines()
	return res, nil
}
