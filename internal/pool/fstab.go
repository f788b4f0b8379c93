package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fstabTag marks every record owned by this system. The whole tagged block is
// deleted and rewritten on each persistence pass so duplicate or conflicting
// entries never accumulate across repeated reconfigurations.
const fstabTag = "# managed by poold"

// RenderFstab returns the new fstab content: all foreign lines preserved
// verbatim, the managed block replaced wholesale by managed.
func RenderFstab(current string, managed []string) string {
	var kept []string
	for _, line := range strings.Split(current, "\n") {
		if strings.Contains(line, fstabTag) {
			continue
		}
		kept = append(kept, line)
	}
	// drop trailing blank lines before appending the managed block
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	out := strings.Join(kept, "\n")
	if len(managed) > 0 {
		out += "\n"
		for _, line := range managed {
			out += line + " " + fstabTag + "\n"
		}
	} else if out != "" {
		out += "\n"
	}
	return out
}

// fstabEntryLine renders the boot-persistence record for one member disk.
// Filesystem UUID preferred; device-path fallback when the UUID is unknown.
func fstabEntryLine(e PoolDiskEntry) string {
	src := "UUID=" + e.UUID
	if e.UUID == "" {
		src = partitionPath(e.DiskID)
	}
	return fmt.Sprintf("%s %s ext4 defaults,nofail 0 2", src, e.MountPoint)
}

func fstabVolumeLine(v StandaloneVolume) string {
	src := "UUID=" + v.UUID
	if v.UUID == "" {
		src = partitionPath(v.DiskID)
	}
	return fmt.Sprintf("%s %s ext4 defaults,nofail 0 2", src, v.MountPoint)
}

// fstabUnionLine renders the union-mount record. fuse mounts are ordered after
// local filesystems at boot, which is the only ordering requirement: every
// member disk mounts before the union mount attempts to.
func (s *Service) fstabUnionLine(entries []PoolDiskEntry) string {
	return fmt.Sprintf("%s %s fuse.mergerfs %s 0 0",
		strings.Join(Branches(entries), ":"), s.cfg.PoolMount, MountOptions(entries, s.cfg.CacheHeadroom))
}

// managedFstabLines builds the full managed block for the given state.
func (s *Service) managedFstabLines(entries []PoolDiskEntry, volumes []StandaloneVolume) []string {
	lines := make([]string, 0, len(entries)+len(volumes)+1)
	for _, e := range entries {
		lines = append(lines, fstabEntryLine(e))
	}
	for _, v := range volumes {
		lines = append(lines, fstabVolumeLine(v))
	}
	if countRole(entries, RoleData) > 0 {
		lines = append(lines, s.fstabUnionLine(entries))
	}
	return lines
}

// rewriteFstab replaces the managed block on disk atomically.
func (s *Service) rewriteFstab(ctx context.Context, entries []PoolDiskEntry, volumes []StandaloneVolume) error {
	current, err := os.ReadFile(s.cfg.FstabPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	content := RenderFstab(string(current), s.managedFstabLines(entries, volumes))
	dir := filepath.Dir(s.cfg.FstabPath)
	tmp, err := os.CreateTemp(dir, ".fstab-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.cfg.FstabPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
