package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// snapraidExcludes is the fixed exclude block: temp files, trash and OS
// metadata that would churn parity for no benefit.
var snapraidExcludes = []string{
	"*.unrecoverable",
	"/tmp/",
	"/lost+found/",
	".Trash-*/",
	".DS_Store",
	"._*",
	"Thumbs.db",
	"desktop.ini",
}

// RenderSnapraidConfig generates the parity-layer configuration from the
// committed entries. The file is a derived artifact: regenerated wholesale on
// every reconfiguration, never hand-patched.
func RenderSnapraidConfig(entries []PoolDiskEntry) string {
	var b strings.Builder
	b.WriteString("# generated by poold; do not edit\n\n")
	parityN := 0
	for _, e := range entries {
		if e.Role != RoleParity {
			continue
		}
		parityN++
		key := "parity"
		if parityN > 1 {
			key = strconv.Itoa(parityN) + "-parity"
		}
		fmt.Fprintf(&b, "%s %s\n", key, filepath.Join(e.MountPoint, "snapraid.parity"))
	}
	b.WriteString("\n")
	dataN := 0
	for _, e := range entries {
		if e.Role != RoleData {
			continue
		}
		dataN++
		fmt.Fprintf(&b, "content %s\n", filepath.Join(e.MountPoint, ".snapraid", "snapraid.content"))
	}
	b.WriteString("\n")
	dataN = 0
	for _, e := range entries {
		if e.Role != RoleData {
			continue
		}
		dataN++
		fmt.Fprintf(&b, "disk d%d %s\n", dataN, e.MountPoint)
	}
	b.WriteString("\n")
	for _, pat := range snapraidExcludes {
		fmt.Fprintf(&b, "exclude %s\n", pat)
	}
	return b.String()
}

// writeSnapraidConfig lands the generated config via a temp file plus a
// privileged copy so a partial write never reaches the system path.
func (s *Service) writeSnapraidConfig(ctx context.Context, entries []PoolDiskEntry) error {
	content := RenderSnapraidConfig(entries)
	tmp, err := os.CreateTemp("", "snapraid-*.conf")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if _, err := s.run.Run(ctx, "cp", tmpPath, s.cfg.SnapraidConf); err != nil {
		return fmt.Errorf("install %s: %w", s.cfg.SnapraidConf, err)
	}
	return nil
}

// removeSnapraidConfig drops the generated config. The file is a derived
// artifact that exists only while at least one parity disk is committed; a
// stale copy naming detached parity mounts must not survive.
func (s *Service) removeSnapraidConfig(ctx context.Context) error {
	if _, err := s.run.Run(ctx, "rm", "-f", s.cfg.SnapraidConf); err != nil {
		return fmt.Errorf("remove %s: %w", s.cfg.SnapraidConf, err)
	}
	return nil
}
