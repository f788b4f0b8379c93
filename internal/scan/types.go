package scan

// Partition is one child partition of a physical disk.
type Partition struct {
	Name       string  `json:"name"`
	SizeBytes  uint64  `json:"size"`
	FSType     string  `json:"fstype,omitempty"`
	UUID       string  `json:"uuid,omitempty"`
	Mountpoint *string `json:"mountpoint,omitempty"`
}

// Disk is one physical block device as observed by a scan. Rebuilt from live
// lsblk output on every call, never stored.
type Disk struct {
	Name       string      `json:"name"`
	Path       string      `json:"path"`
	SizeBytes  uint64      `json:"size"`
	Model      string      `json:"model,omitempty"`
	Serial     string      `json:"serial,omitempty"`
	Tran       string      `json:"tran,omitempty"`
	Rota       *bool       `json:"rota,omitempty"`
	Partitions []Partition `json:"partitions"`
}

// ConfiguredDisk is a disk committed to the pool (or observed mounted under the
// storage base, which counts the same so drift is surfaced rather than hidden).
type ConfiguredDisk struct {
	Disk
	Role string `json:"role,omitempty"`
}

// UnconfiguredDisk is a candidate disk plus the facts a caller needs before
// deciding to format it.
type UnconfiguredDisk struct {
	Disk
	HasData   bool `json:"hasData"`
	Formatted bool `json:"formatted"`
}

// Result is the full classified inventory.
type Result struct {
	Configured   []ConfiguredDisk   `json:"configured"`
	Unconfigured []UnconfiguredDisk `json:"unconfigured"`
}

// Query carries the persisted facts a scan classifies against.
type Query struct {
	// Roles maps committed disk ids to their pool role.
	Roles map[string]string
	// Ignored disks are dropped from the unconfigured list entirely.
	Ignored map[string]bool
	// MountBase is the storage mount base; a disk with any partition mounted
	// under it is classified configured even without a committed record.
	MountBase string
}
