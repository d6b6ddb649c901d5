package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/provenant/internal/service"
)

// journal persists one entry per completed request so aborted and
// committed runs can be reviewed later. Journal writes are best-effort:
// a failed write is logged and never fails the request.
type journal struct {
	dir string
	log service.Logger
}

type journalEntry struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Scope  string    `json:"scope,omitempty"`
	Action string    `json:"action,omitempty"`
	Binary string    `json:"binary,omitempty"`
	State  string    `json:"state"`
	Error  string    `json:"error,omitempty"`
	Index  *uint64   `json:"record_index,omitempty"`
}

func (j *journal) save(out *Outcome, req Request) {
	if j == nil || j.dir == "" {
		return
	}
	entry := journalEntry{
		ID:     out.ID,
		Time:   time.Now().UTC(),
		Scope:  req.Scope,
		Action: string(req.Action),
		State:  string(out.State),
	}
	if out.Err != nil {
		entry.Error = out.Err.Error()
	}
	if out.Record != nil {
		entry.Binary = out.Record.Binary.String()
		idx := out.Record.Index
		entry.Index = &idx
	} else if req.Binary != nil {
		entry.Binary = req.Binary.Digest().String()
	} else if !req.Digest.IsZero() {
		entry.Binary = req.Digest.String()
	}

	if err := os.MkdirAll(j.dir, 0o700); err != nil {
		j.log.Warn("creating journal directory failed", "error", err)
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		j.log.Warn("encoding journal entry failed", "id", out.ID, "error", err)
		return
	}
	path := filepath.Join(j.dir, out.ID+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		j.log.Warn("writing journal entry failed", "id", out.ID, "error", err)
	}
}
