package pool

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// Branches computes the union branch list from committed entries: cache mount
// points first so new writes preferentially land on fast storage, then data.
// Parity disks are never part of the union namespace.
func Branches(entries []PoolDiskEntry) []string {
	var cache, data []string
	for _, e := range entries {
		switch e.Role {
		case RoleCache:
			cache = append(cache, e.MountPoint)
		case RoleData:
			data = append(data, e.MountPoint)
		}
	}
	return append(cache, data...)
}

// CreatePolicy picks the MergerFS create policy: least-free-space-first when a
// cache disk is present (writes target the cache branch), most-free-space-first
// otherwise (writes balance across data disks).
func CreatePolicy(entries []PoolDiskEntry) string {
	if countRole(entries, RoleCache) > 0 {
		return "lfs"
	}
	return "mfs"
}

// MountOptions renders the full -o string for the union mount.
func MountOptions(entries []PoolDiskEntry, cacheHeadroom string) string {
	opts := []string{
		"defaults",
		"allow_other",
		"use_ino",
		"cache.files=partial",
		"dropcacheonclose=true",
		"category.create=" + CreatePolicy(entries),
	}
	if countRole(entries, RoleCache) > 0 {
		// spill to data once the cache branch drops below the headroom
		opts = append(opts, "moveonenospc=true", "minfreespace="+cacheHeadroom)
	}
	return strings.Join(opts, ",")
}

// mountUnion mounts the MergerFS union over the given entries.
func (s *Service) mountUnion(ctx context.Context, entries []PoolDiskEntry) error {
	branches := Branches(entries)
	_, err := s.run.Run(ctx, "mergerfs", "-o", MountOptions(entries, s.cfg.CacheHeadroom), strings.Join(branches, ":"), s.cfg.PoolMount)
	return err
}

// unmountUnion detaches the union mount. Best-effort callers tolerate failure
// (a stale or nonexistent mount is not an error); strict callers escalate to a
// lazy unmount and report ErrFilesInUse if even that refuses.
func (s *Service) unmountUnion(ctx context.Context, strict bool) error {
	if _, err := s.run.Run(ctx, "umount", s.cfg.PoolMount); err == nil {
		return nil
	} else if !strict {
		return err
	}
	if _, err := s.run.Run(ctx, "umount", "-l", s.cfg.PoolMount); err != nil {
		return ErrFilesInUse
	}
	return nil
}

// Topology reports the live union-mount state from the running mount table.
// The persisted entry list says what the topology should be; this is what it is.
func (s *Service) Topology(ctx context.Context) (Topology, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return Topology{Branches: []string{}}, err
	}
	topo := Topology{Branches: []string{}}
	for _, p := range parts {
		if p.Mountpoint != s.cfg.PoolMount || !strings.Contains(p.Fstype, "mergerfs") {
			continue
		}
		topo.Mounted = true
		topo.Branches = strings.Split(p.Device, ":")
		topo.Options = strings.Join(p.Opts, ",")
		break
	}
	if !topo.Mounted {
		return topo, nil
	}
	if u, err := disk.UsageWithContext(ctx, s.cfg.PoolMount); err == nil {
		topo.Total, topo.Used, topo.Free = u.Total, u.Used, u.Free
	}
	for _, b := range topo.Branches {
		if u, err := disk.UsageWithContext(ctx, b); err == nil {
			topo.Usage = append(topo.Usage, BranchUsage{Path: b, Total: u.Total, Used: u.Used, Free: u.Free})
		}
	}
	return topo, nil
}
