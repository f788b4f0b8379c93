package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"poold/pkg/shell"
)

var ErrScanFailed = errors.New("device scan failed")

// safeFilesystems are the types treated as "formatted" for unconfigured disks.
var safeFilesystems = map[string]bool{"ext4": true, "xfs": true, "btrfs": true, "ntfs": true}

const minDiskBytes = 1 << 30 // ignore anything under 1 GiB

type lsblkJSON struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Size       any           `json:"size"`
	Rota       *bool         `json:"rota"`
	RM         *bool         `json:"rm"`
	Type       string        `json:"type"`
	Tran       string        `json:"tran"`
	Model      string        `json:"model"`
	Serial     string        `json:"serial"`
	Mountpoint *string       `json:"mountpoint"`
	FSType     string        `json:"fstype"`
	UUID       string        `json:"uuid"`
	Children   []lsblkDevice `json:"children"`
}

type Scanner struct {
	Run shell.Runner
	Log zerolog.Logger
}

func New(runner shell.Runner, logger zerolog.Logger) *Scanner {
	return &Scanner{Run: runner, Log: logger.With().Str("component", "scanner").Logger()}
}

// Collect enumerates physical disks with partitions, pseudo-devices and boot
// media filtered out. Pure read; no side effects.
func (s *Scanner) Collect(ctx context.Context) ([]Disk, error) {
	args := []string{"--bytes", "--json", "-o", "NAME,PATH,SIZE,ROTA,RM,TYPE,TRAN,MODEL,SERIAL,MOUNTPOINT,FSTYPE,UUID"}
	res, err := s.Run.Run(ctx, "lsblk", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: lsblk: %v", ErrScanFailed, err)
	}
	var tree lsblkJSON
	if err := json.Unmarshal(res.Stdout, &tree); err != nil {
		return nil, fmt.Errorf("%w: parse lsblk output: %v", ErrScanFailed, err)
	}
	out := []Disk{}
	for _, d := range tree.Blockdevices {
		if !eligible(d) {
			continue
		}
		disk := Disk{
			Name:       d.Name,
			Path:       firstNonEmpty(d.Path, "/dev/"+d.Name),
			SizeBytes:  normalizeSize(d.Size),
			Model:      strings.TrimSpace(d.Model),
			Serial:     strings.TrimSpace(d.Serial),
			Tran:       d.Tran,
			Rota:       d.Rota,
			Partitions: []Partition{},
		}
		for _, c := range d.Children {
			if c.Type != "part" {
				continue
			}
			disk.Partitions = append(disk.Partitions, Partition{
				Name:       c.Name,
				SizeBytes:  normalizeSize(c.Size),
				FSType:     c.FSType,
				UUID:       c.UUID,
				Mountpoint: c.Mountpoint,
			})
		}
		out = append(out, disk)
	}
	return out, nil
}

// Scan classifies every eligible disk as configured or unconfigured per q.
func (s *Scanner) Scan(ctx context.Context, q Query) (Result, error) {
	disks, err := s.Collect(ctx)
	if err != nil {
		// never partial results: empty on failure
		return Result{Configured: []ConfiguredDisk{}, Unconfigured: []UnconfiguredDisk{}}, err
	}
	res := Result{Configured: []ConfiguredDisk{}, Unconfigured: []UnconfiguredDisk{}}
	for _, d := range disks {
		role, committed := q.Roles[d.Name]
		if committed || mountedUnder(d, q.MountBase) {
			res.Configured = append(res.Configured, ConfiguredDisk{Disk: d, Role: role})
			continue
		}
		if q.Ignored[d.Name] {
			continue
		}
		u := UnconfiguredDisk{Disk: d}
		for _, p := range d.Partitions {
			if p.FSType != "" {
				u.HasData = true
				if safeFilesystems[strings.ToLower(p.FSType)] {
					u.Formatted = true
				}
			}
		}
		res.Unconfigured = append(res.Unconfigured, u)
	}
	return res, nil
}

// Disk looks up a single disk by kernel name.
func (s *Scanner) Disk(ctx context.Context, name string) (Disk, bool, error) {
	disks, err := s.Collect(ctx)
	if err != nil {
		return Disk{}, false, err
	}
	for _, d := range disks {
		if d.Name == name {
			return d, true, nil
		}
	}
	return Disk{}, false, nil
}

func eligible(d lsblkDevice) bool {
	if d.Type != "disk" {
		return false
	}
	for _, pfx := range []string{"loop", "ram", "zram", "sr", "fd", "dm-", "md"} {
		if strings.HasPrefix(d.Name, pfx) {
			return false
		}
	}
	// MMC/SD devices are almost always boot media on the boards this runs on
	if strings.HasPrefix(d.Name, "mmcblk") {
		return false
	}
	if normalizeSize(d.Size) < minDiskBytes {
		return false
	}
	return true
}

func mountedUnder(d Disk, base string) bool {
	if base == "" {
		return false
	}
	prefix := strings.TrimSuffix(base, "/") + "/"
	for _, p := range d.Partitions {
		if p.Mountpoint != nil && strings.HasPrefix(*p.Mountpoint, prefix) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalizeSize(v any) uint64 {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n
		}
	case json.Number:
		if n, err := t.Int64(); err == nil && n >= 0 {
			return uint64(n)
		}
	}
	return 0
}
