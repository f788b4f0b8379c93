package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"poold/internal/config"
	"poold/internal/pool"
	"poold/internal/scan"
	"poold/pkg/shell"
)

// stubRunner answers prefix-matched canned output; everything else succeeds
// silently so handlers can be exercised without a real system underneath.
type stubRunner struct {
	responses map[string]string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) (shell.Result, error) {
	joined := strings.Join(append([]string{name}, args...), " ")
	for k, out := range s.responses {
		if strings.HasPrefix(joined, k) {
			return shell.Result{Stdout: []byte(out)}, nil
		}
	}
	return shell.Result{}, nil
}

const lsblkOneBlank = `{"blockdevices":[
  {"name":"sdb","path":"/dev/sdb","size":4000787030016,"type":"disk","tran":"sata","children":[]}
]}`

func testHandler(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		LogLevel: zerolog.Disabled,
		StateDir: dir,
		Storage: config.Storage{
			MountBase:      filepath.Join(dir, "storage"),
			PoolMount:      filepath.Join(dir, "pool"),
			ParityBase:     filepath.Join(dir, "par"),
			StandaloneBase: filepath.Join(dir, "vol"),
			FstabPath:      filepath.Join(dir, "fstab"),
			SnapraidConf:   filepath.Join(dir, "snapraid.conf"),
			ShareGroup:     "storage",
			CacheHeadroom:  "50G",
			CommandTimeout: time.Minute,
		},
	}
	run := &stubRunner{responses: map[string]string{"lsblk": lsblkOneBlank}}
	store := pool.NewStore(dir)
	scanner := scan.New(run, zerolog.Nop())
	svc := pool.New(cfg.Storage, store, scanner, run, zerolog.Nop(), nil)
	return NewRouter(cfg, svc, nil)
}

func TestHealth(t *testing.T) {
	h := testHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || !body.OK {
		t.Fatalf("body: %v %s", err, rec.Body.String())
	}
}

func TestListDisks(t *testing.T) {
	h := testHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/disks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Unconfigured []struct {
			Name string `json:"name"`
		} `json:"unconfigured"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Unconfigured) != 1 || body.Unconfigured[0].Name != "sdb" {
		t.Fatalf("unconfigured: %s", rec.Body.String())
	}
}

func TestReconfigureSchemaRejection(t *testing.T) {
	h := testHandler(t)
	for _, body := range []string{
		`{}`,
		`{"disks":[]}`,
		`{"disks":[{"diskId":"sdb","role":"mirror"}]}`,
		`{"disks":[{"role":"data"}]}`,
		`{"disks":[{"diskId":"sdb","role":"data","extra":1}]}`,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/pool/reconfigure", strings.NewReader(body))
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status %d, want 400", body, rec.Code)
		}
	}
}

func TestReconfigureInvalidTarget(t *testing.T) {
	h := testHandler(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pool/reconfigure",
		strings.NewReader(`{"disks":[{"diskId":"sdb","role":"parity"}]}`))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	var res pool.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Success || res.ErrorKind != "InvalidInput" {
		t.Fatalf("result: %+v", res)
	}
}

func TestRemoveUnknownDisk(t *testing.T) {
	h := testHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/pool/disks/sdq", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
}

func TestIgnoreRoundTrip(t *testing.T) {
	h := testHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/disks/sdb/ignore", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ignore: %d body: %s", rec.Code, rec.Body.String())
	}

	// the ignored disk disappears from the inventory
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/disks", nil))
	if strings.Contains(rec.Body.String(), `"sdb"`) {
		t.Fatalf("ignored disk still listed: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/disks/sdb/ignore", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unignore: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/disks", nil))
	if !strings.Contains(rec.Body.String(), `"sdb"`) {
		t.Fatalf("disk must reappear after unignore: %s", rec.Body.String())
	}
}

func TestIgnoreRejectsBadDeviceName(t *testing.T) {
	h := testHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/disks/notadisk/ignore", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
}

func TestSyncStatusEmpty(t *testing.T) {
	h := testHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pool/sync", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var st pool.SyncStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || st.Running {
		t.Fatalf("status body: %v %s", err, rec.Body.String())
	}
}

func TestStartSyncWithoutParity(t *testing.T) {
	h := testHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pool/sync", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
}
