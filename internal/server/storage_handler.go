package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"

	"poold/internal/pool"
	"poold/pkg/httpx"
)

// reconfigureSchema rejects malformed target specs before the core ever sees
// them; the core re-validates semantics (roles, allow-listed ids) itself.
const reconfigureSchema = `{
  "type": "object",
  "required": ["disks"],
  "additionalProperties": false,
  "properties": {
    "disks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["diskId", "role"],
        "additionalProperties": false,
        "properties": {
          "diskId": {"type": "string"},
          "role": {"enum": ["data", "parity", "cache"]},
          "format": {"type": "boolean"}
        }
      }
    }
  }
}`

var reconfigureSchemaLoader = gojsonschema.NewStringLoader(reconfigureSchema)

func statusForKind(kind string) int {
	switch kind {
	case "InvalidInput":
		return http.StatusBadRequest
	case "DeviceNotFound":
		return http.StatusNotFound
	case "RequiresConfirmation", "PoolInvariantViolation", "FilesInUse", "Busy":
		return http.StatusConflict
	case "NotMountable", "UuidUnresolvable":
		return http.StatusUnprocessableEntity
	case "ScanFailed":
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeResult renders the operation contract: success flag, the full ordered
// step log (always present, even on failure), and the error pair when set.
func writeResult(w http.ResponseWriter, res pool.Result, err error) {
	status := http.StatusOK
	if err != nil {
		status = statusForKind(res.ErrorKind)
	}
	writeJSON(w, status, res)
}

func handleScan(svc *pool.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Scan(r.Context())
		if err != nil {
			httpx.WriteError(w, statusForKind(pool.Kind(err)), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handlePoolStatus(svc *pool.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.Store().Entries()
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		topo, err := svc.Topology(r.Context())
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"disks":      entries,
			"configured": len(entries) > 0,
			"topology":   topo,
		})
	}
}

func handleReconfigure(svc *pool.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "read body")
			return
		}
		check, err := gojsonschema.Validate(reconfigureSchemaLoader, gojsonschema.NewBytesLoader(body))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if !check.Valid() {
			msgs := make([]string, 0, len(check.Errors()))
			for _, e := range check.Errors() {
				msgs = append(msgs, e.String())
			}
			httpx.WriteErrorWithDetails(w, http.StatusBadRequest, "InvalidInput", "request does not match schema", map[string]any{"violations": strings.Join(msgs, "; ")})
			return
		}
		var req struct {
			Disks []pool.TargetDisk `json:"disks"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
		res, err := svc.Reconfigure(r.Context(), req.Disks)
		writeResult(w, res, err)
	}
}

func handleAddDisk(svc *pool.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DiskID string    `json:"diskId"`
			Role   pool.Role `json:"role"`
			Format bool      `json:"format"`
			Force  bool      `json:"force"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
		res, err := svc.AddDisk(r.Context(), req.DiskID, req.Role, req.Format, req.Force)
		writeResult(w, res, err)
	}
}

func handleRemoveDisk(svc *pool.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.RemoveDisk(r.Context(), chi.URLParam(r, "disk"))
		writeResult(w, res, err)
	}
}

func handleMountStandalone(svc *pool.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DiskID string `json:"diskId"`
			Name   string `json:"name"`
			Format bool   `json:"format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
		res, err := svc.MountStandalone(r.Context(), req.DiskID, req.Name, req.Format)
		writeResult(w, res, err)
	}
}

func handleIgnore(svc *pool.Service, ignore bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disk := chi.URLParam(r, "disk")
		var err error
		if ignore {
			err = svc.IgnoreDisk(r.Context(), disk)
		} else {
			err = svc.UnignoreDisk(r.Context(), disk)
		}
		if err != nil {
			httpx.WriteErrorWithDetails(w, statusForKind(pool.Kind(err)), pool.Kind(err), err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func handleSyncStatus(svc *pool.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.SyncStatus())
	}
}

func handleStartSync(svc *pool.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.StartSync(r.Context())
		if err != nil {
			if errors.Is(err, pool.ErrBusy) {
				writeJSON(w, http.StatusConflict, st)
				return
			}
			httpx.WriteErrorWithDetails(w, statusForKind(pool.Kind(err)), pool.Kind(err), err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, st)
	}
}
