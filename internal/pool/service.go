package pool

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"poold/internal/config"
	"poold/internal/observability"
	"poold/internal/scan"
	"poold/pkg/shell"
)

// Service owns all pool state mutation. Every reconfiguration and single-disk
// operation serializes behind mu: concurrent unmount/remount of the same union
// path is unsafe, so concurrent requests queue rather than interleave.
type Service struct {
	cfg     config.Storage
	store   *Store
	scanner *scan.Scanner
	run     shell.Runner
	log     zerolog.Logger
	metrics *observability.Metrics

	mu sync.Mutex

	syncMu   sync.Mutex
	syncStat SyncStatus
	cron     *cron.Cron
}

func New(cfg config.Storage, store *Store, scanner *scan.Scanner, runner shell.Runner, logger zerolog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		scanner: scanner,
		run:     runner,
		log:     logger.With().Str("component", "pool").Logger(),
		metrics: metrics,
	}
}

func (s *Service) Store() *Store { return s.store }

// Scan runs the inventory scanner against the persisted configuration.
func (s *Service) Scan(ctx context.Context) (scan.Result, error) {
	doc, err := s.store.Load()
	if err != nil {
		return scan.Result{}, err
	}
	roles := map[string]string{}
	for _, e := range doc.StorageConfig {
		roles[e.DiskID] = string(e.Role)
	}
	for _, v := range doc.StandaloneVolumes {
		roles[v.DiskID] = "standalone"
	}
	ignored := map[string]bool{}
	for _, id := range doc.IgnoredDisks {
		ignored[id] = true
	}
	res, err := s.scanner.Scan(ctx, scan.Query{Roles: roles, Ignored: ignored, MountBase: s.cfg.MountBase})
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}
	return res, nil
}

// partitionPath returns the first-partition device path for a disk. Disks whose
// kernel name ends in a digit (nvme0n1, mmcblk0) take a "p" separator.
func partitionPath(diskID string) string {
	if len(diskID) > 0 {
		last := diskID[len(diskID)-1]
		if last >= '0' && last <= '9' {
			return "/dev/" + diskID + "p1"
		}
	}
	return "/dev/" + diskID + "1"
}

// ext4Label derives the filesystem label from role and disk, truncated to the
// ext4 16-character limit.
func ext4Label(role Role, diskID string) string {
	label := string(role) + "_" + diskID
	if len(label) > 16 {
		label = label[:16]
	}
	return label
}

// mountPointFor assigns the next free mount point for a role, scanning the
// trailing index of existing same-role mount points so removed slots are not
// reused out from under a live mount.
func (s *Service) mountPointFor(entries []PoolDiskEntry, role Role) string {
	prefix := ""
	switch role {
	case RoleData:
		prefix = filepath.Join(s.cfg.MountBase, "disk")
	case RoleCache:
		prefix = filepath.Join(s.cfg.MountBase, "cache")
	case RoleParity:
		prefix = filepath.Join(s.cfg.ParityBase, "parity")
	}
	max := 0
	for _, e := range entries {
		if e.Role != role {
			continue
		}
		rest := strings.TrimPrefix(e.MountPoint, prefix)
		if n, err := strconv.Atoi(rest); err == nil && n > max {
			max = n
		}
	}
	return prefix + strconv.Itoa(max+1)
}

// resolveUUID asks blkid for the filesystem UUID of a partition.
func (s *Service) resolveUUID(ctx context.Context, partition string) (string, error) {
	res, err := s.run.Run(ctx, "blkid", "-s", "UUID", "-o", "value", partition)
	if err != nil {
		return "", err
	}
	uuid := res.Out()
	if uuid == "" {
		return "", fmt.Errorf("no uuid reported for %s", partition)
	}
	return uuid, nil
}

// formatDisk partitions and formats one disk: GPT label, a single primary
// partition spanning the device, kernel re-read, then mkfs.ext4.
func (s *Service) formatDisk(ctx context.Context, diskID string, role Role) error {
	dev := "/dev/" + diskID
	if _, err := s.run.Run(ctx, "parted", "-s", dev, "mklabel", "gpt", "mkpart", "primary", "ext4", "0%", "100%"); err != nil {
		return fmt.Errorf("partition %s: %w", dev, err)
	}
	// wait for the kernel to pick up the new partition table
	if _, err := s.run.Run(ctx, "udevadm", "settle"); err != nil {
		return fmt.Errorf("settle after partitioning %s: %w", dev, err)
	}
	part := partitionPath(diskID)
	if _, err := s.run.Run(ctx, "mkfs.ext4", "-F", "-L", ext4Label(role, diskID), part); err != nil {
		return fmt.Errorf("mkfs.ext4 %s: %w", part, err)
	}
	return nil
}

func (s *Service) observe(op string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, err == nil)
	}
	if err != nil {
		s.log.Warn().Str("op", op).Err(err).Msg("operation failed")
	} else {
		s.log.Info().Str("op", op).Msg("operation completed")
	}
}

func (s *Service) updateGauges(entries []PoolDiskEntry) {
	if s.metrics == nil {
		return
	}
	counts := map[string]int{}
	for _, e := range entries {
		counts[string(e.Role)]++
	}
	s.metrics.SetPoolDisks(counts)
}
