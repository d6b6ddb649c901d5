package integrity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
)

// snapshotVersion is the schema version of the serialized tree.
const snapshotVersion = 1

type snapshotFile struct {
	Version int            `json:"version"`
	Leaves  []snapshotLeaf `json:"leaves"`
}

type snapshotLeaf struct {
	Binary  string `json:"binary"`
	Removed bool   `json:"removed,omitempty"`
}

// Save writes the ordered leaf list to path so inclusion proofs can be
// reconstructed without rehashing every binary. Uses write-then-rename
// for atomicity.
func (t *Tree) Save(path string) error {
	snap := snapshotFile{Version: snapshotVersion, Leaves: make([]snapshotLeaf, len(t.leaves))}
	for i, l := range t.leaves {
		snap.Leaves[i] = snapshotLeaf{Binary: l.Binary.String(), Removed: l.Removed}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tree snapshot: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temporary snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot file: %w", err)
	}

	// Sync directory for durability
	if df, err := os.Open(filepath.Dir(path)); err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync snapshot directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}

// Load reads a tree snapshot written by Save and rebuilds the node cache.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal tree snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported tree snapshot version %d", snap.Version)
	}

	t := New()
	t.leaves = make([]Leaf, len(snap.Leaves))
	for i, sl := range snap.Leaves {
		d, err := digest.Parse(sl.Binary)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		t.leaves[i] = Leaf{Binary: d, Removed: sl.Removed}
		// Later positions win so pos always points at the most recent
		// leaf for a digest.
		t.pos[d] = i
	}
	t.rebuildAll()
	return t, nil
}
