package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Port     int
	LogLevel zerolog.Level
	StateDir string
	Storage  Storage
}

// Storage holds the pool-layer settings. Loaded from the YAML file pointed at by
// POOLD_CONFIG when present; defaults otherwise.
type Storage struct {
	// MountBase is where data/cache member disks are mounted (disk1, cache1, ...).
	MountBase string `yaml:"mount_base"`
	// PoolMount is the MergerFS union mount point.
	PoolMount string `yaml:"pool_mount"`
	// ParityBase is the directory parity mounts are created under (parity1, ...).
	ParityBase string `yaml:"parity_base"`
	// StandaloneBase is where standalone volumes are mounted by name.
	StandaloneBase string `yaml:"standalone_base"`
	FstabPath      string `yaml:"fstab_path"`
	SnapraidConf   string `yaml:"snapraid_conf"`
	// ShareGroup is the group ownership applied to the pool mount so the
	// file-sharing layer can write.
	ShareGroup string `yaml:"share_group"`
	// CacheHeadroom is the MergerFS minfreespace value used when cache disks
	// are present, so writes spill to data once the cache fills up.
	CacheHeadroom string `yaml:"cache_headroom"`
	// SyncSchedule is an optional cron expression for scheduled snapraid sync.
	SyncSchedule   string        `yaml:"sync_schedule"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// SyncTimeout caps one snapraid sync run. It sits far above CommandTimeout
	// because parity sync on a full pool runs for hours.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

func defaultStorage() Storage {
	return Storage{
		MountBase:      "/mnt/storage",
		PoolMount:      "/mnt/pool",
		ParityBase:     "/mnt",
		StandaloneBase: "/mnt",
		FstabPath:      "/etc/fstab",
		SnapraidConf:   "/etc/snapraid.conf",
		ShareGroup:     "storage",
		CacheHeadroom:  "50G",
		CommandTimeout: 5 * time.Minute,
		SyncTimeout:    24 * time.Hour,
	}
}

// FromEnv builds the configuration from environment variables plus the
// optional YAML file named by POOLD_CONFIG. A named file that is missing or
// malformed is an error: silently falling back to default paths would point
// the daemon at the wrong fstab and snapraid config.
func FromEnv() (Config, error) {
	port := 9000
	if v := os.Getenv("POOLD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			port = p
		}
	}

	level := zerolog.InfoLevel
	if v := os.Getenv("POOLD_LOG"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			level = l
		}
	}

	stateDir := "/var/lib/poold"
	if v := os.Getenv("POOLD_STATE_DIR"); v != "" {
		stateDir = v
	}

	cfg := Config{
		Port:     port,
		LogLevel: level,
		StateDir: stateDir,
		Storage:  defaultStorage(),
	}
	if path := os.Getenv("POOLD_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw struct {
		Storage Storage `yaml:"storage"`
	}
	raw.Storage = c.Storage
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}
	merged := raw.Storage
	def := defaultStorage()
	if merged.MountBase == "" {
		merged.MountBase = def.MountBase
	}
	if merged.PoolMount == "" {
		merged.PoolMount = def.PoolMount
	}
	if merged.ParityBase == "" {
		merged.ParityBase = def.ParityBase
	}
	if merged.StandaloneBase == "" {
		merged.StandaloneBase = def.StandaloneBase
	}
	if merged.FstabPath == "" {
		merged.FstabPath = def.FstabPath
	}
	if merged.SnapraidConf == "" {
		merged.SnapraidConf = def.SnapraidConf
	}
	if merged.ShareGroup == "" {
		merged.ShareGroup = def.ShareGroup
	}
	if merged.CacheHeadroom == "" {
		merged.CacheHeadroom = def.CacheHeadroom
	}
	if merged.CommandTimeout == 0 {
		merged.CommandTimeout = def.CommandTimeout
	}
	if merged.SyncTimeout == 0 {
		merged.SyncTimeout = def.SyncTimeout
	}
	c.Storage = merged
	return nil
}
