package pool

import (
	"context"
	"path/filepath"

	"poold/internal/fsatomic"
)

// Document is the persisted three-key configuration: committed pool members,
// standalone volumes and the ignored-disk set. It is the only state that
// survives a restart.
type Document struct {
	StorageConfig     []PoolDiskEntry    `json:"storageConfig"`
	StandaloneVolumes []StandaloneVolume `json:"standaloneVolumes"`
	IgnoredDisks      []string           `json:"ignoredDisks"`
}

// Store persists the Document as a single JSON file with read-modify-write
// semantics under an advisory lock.
type Store struct {
	path string
}

func NewStore(stateDir string) *Store {
	return &Store{path: filepath.Join(stateDir, "storage.json")}
}

func (s *Store) Load() (Document, error) {
	var doc Document
	if _, err := fsatomic.LoadJSON(s.path, &doc); err != nil {
		return Document{}, err
	}
	if doc.StorageConfig == nil {
		doc.StorageConfig = []PoolDiskEntry{}
	}
	if doc.StandaloneVolumes == nil {
		doc.StandaloneVolumes = []StandaloneVolume{}
	}
	if doc.IgnoredDisks == nil {
		doc.IgnoredDisks = []string{}
	}
	return doc, nil
}

// Update applies fn to the current document and persists the result atomically.
func (s *Store) Update(ctx context.Context, fn func(*Document) error) error {
	return fsatomic.WithLock(s.path, func() error {
		doc, err := s.Load()
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return fsatomic.SaveJSON(ctx, s.path, doc, 0o600)
	})
}

// Entries returns the committed pool member list.
func (s *Store) Entries() ([]PoolDiskEntry, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	return doc.StorageConfig, nil
}

func findEntry(entries []PoolDiskEntry, diskID string) (PoolDiskEntry, bool) {
	for _, e := range entries {
		if e.DiskID == diskID {
			return e, true
		}
	}
	return PoolDiskEntry{}, false
}

func countRole(entries []PoolDiskEntry, role Role) int {
	n := 0
	for _, e := range entries {
		if e.Role == role {
			n++
		}
	}
	return n
}
