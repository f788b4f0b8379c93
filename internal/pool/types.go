package pool

import "time"

type Role string

const (
	RoleData   Role = "data"
	RoleParity Role = "parity"
	RoleCache  Role = "cache"
)

func (r Role) Valid() bool {
	switch r {
	case RoleData, RoleParity, RoleCache:
		return true
	}
	return false
}

// PoolDiskEntry is one disk's committed membership in the pool. The persisted
// entry list is the source of truth for what the topology should be; everything
// else is reconstructed from it plus live OS queries.
type PoolDiskEntry struct {
	DiskID     string    `json:"diskId"`
	Role       Role      `json:"role"`
	UUID       string    `json:"uuid,omitempty"`
	MountPoint string    `json:"mountPoint"`
	AddedAt    time.Time `json:"addedAt"`
}

// StandaloneVolume is a disk mounted by name outside the union filesystem.
type StandaloneVolume struct {
	DiskID     string    `json:"diskId"`
	Name       string    `json:"name"`
	UUID       string    `json:"uuid,omitempty"`
	MountPoint string    `json:"mountPoint"`
	AddedAt    time.Time `json:"addedAt"`
}

// TargetDisk is one desired assignment in a full reconfiguration request.
type TargetDisk struct {
	DiskID string `json:"diskId"`
	Role   Role   `json:"role"`
	Format bool   `json:"format"`
}

// Result is the structured outcome every pool operation returns. Log is always
// present, one line per step, so a caller can render exactly how far the
// operation progressed even on failure.
type Result struct {
	OpID      string   `json:"opId"`
	Success   bool     `json:"success"`
	Log       []string `json:"log"`
	ErrorKind string   `json:"errorKind,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	HasData   bool     `json:"hasData,omitempty"`
	PoolMount string   `json:"poolMount,omitempty"`
}

// Topology is the live union-mount state, derived from the running mount table.
type Topology struct {
	Mounted  bool          `json:"mounted"`
	Branches []string      `json:"branches"`
	Options  string        `json:"options,omitempty"`
	Total    uint64        `json:"total,omitempty"`
	Used     uint64        `json:"used,omitempty"`
	Free     uint64        `json:"free,omitempty"`
	Usage    []BranchUsage `json:"usage,omitempty"`
}

type BranchUsage struct {
	Path  string `json:"path"`
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}
