package pool

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"poold/internal/config"
	"poold/internal/scan"
	"poold/pkg/shell"
)

type fakeResponse struct {
	out   string
	err   error
	block chan struct{}
}

// fakeRunner records every argv vector and answers from prefix-matched
// canned responses; unmatched commands succeed with empty output.
type fakeRunner struct {
	mu        sync.Mutex
	calls     [][]string
	deadlines []time.Time
	responses map[string]fakeResponse
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]fakeResponse{}}
}

func (f *fakeRunner) respond(prefix, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = fakeResponse{out: out, err: err}
}

func (f *fakeRunner) blockOn(prefix string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.responses[prefix] = fakeResponse{block: ch}
	f.mu.Unlock()
	return ch
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (shell.Result, error) {
	call := append([]string{name}, args...)
	joined := strings.Join(call, " ")
	f.mu.Lock()
	f.calls = append(f.calls, call)
	dl, _ := ctx.Deadline()
	f.deadlines = append(f.deadlines, dl)
	var best string
	for k := range f.responses {
		if strings.HasPrefix(joined, k) && len(k) > len(best) {
			best = k
		}
	}
	resp, matched := f.responses[best]
	f.mu.Unlock()
	if matched && best != "" {
		if resp.block != nil {
			<-resp.block
			return shell.Result{}, nil
		}
		return shell.Result{Stdout: []byte(resp.out)}, resp.err
	}
	return shell.Result{}, nil
}

func (f *fakeRunner) commandCalls(name string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := [][]string{}
	for _, c := range f.calls {
		if c[0] == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// deadlineFor returns the context deadline observed on the first call matching
// prefix; ok is false when the call carried no deadline.
func (f *fakeRunner) deadlineFor(prefix string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if strings.HasPrefix(strings.Join(c, " "), prefix) {
			return f.deadlines[i], !f.deadlines[i].IsZero()
		}
	}
	return time.Time{}, false
}

// joinedCalls renders every recorded call for substring assertions.
func (f *fakeRunner) joinedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

func testStorageConfig(t *testing.T) config.Storage {
	t.Helper()
	dir := t.TempDir()
	return config.Storage{
		MountBase:      filepath.Join(dir, "storage"),
		PoolMount:      filepath.Join(dir, "pool"),
		ParityBase:     filepath.Join(dir, "par"),
		StandaloneBase: filepath.Join(dir, "vol"),
		FstabPath:      filepath.Join(dir, "fstab"),
		SnapraidConf:   filepath.Join(dir, "snapraid.conf"),
		ShareGroup:     "storage",
		CacheHeadroom:  "50G",
		CommandTimeout: time.Minute,
		SyncTimeout:    24 * time.Hour,
	}
}

func newTestService(t *testing.T, fr *fakeRunner) (*Service, config.Storage) {
	t.Helper()
	cfg := testStorageConfig(t)
	store := NewStore(t.TempDir())
	scanner := scan.New(fr, zerolog.Nop())
	svc := New(cfg, store, scanner, fr, zerolog.Nop(), nil)
	return svc, cfg
}

func seedEntries(t *testing.T, svc *Service, entries []PoolDiskEntry) {
	t.Helper()
	if err := svc.Store().Update(context.Background(), func(d *Document) error {
		d.StorageConfig = entries
		return nil
	}); err != nil {
		t.Fatalf("seed entries: %v", err)
	}
}
