package integrity

import (
	"fmt"

	fmtlog "github.com/transparency-dev/formats/log"
	"golang.org/x/mod/sumdb/note"

	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
)

// SignCheckpoint renders (size, root) as a checkpoint in the
// transparency-dev log format under the given origin and signs it as a
// note. Auditors open it with the matching note verifier and need no
// write access to the scope.
func SignCheckpoint(origin string, size uint64, root digest.Digest, signer note.Signer) ([]byte, error) {
	cp := fmtlog.Checkpoint{
		Origin: origin,
		Size:   size,
		Hash:   root.Bytes(),
	}
	signed, err := note.Sign(&note.Note{Text: string(cp.Marshal())}, signer)
	if err != nil {
		return nil, fmt.Errorf("sign checkpoint: %w", err)
	}
	return signed, nil
}

// OpenCheckpoint verifies a signed checkpoint against origin and the note
// verifier and returns its parsed contents.
func OpenCheckpoint(raw []byte, origin string, verifier note.Verifier) (*fmtlog.Checkpoint, error) {
	cp, _, _, err := fmtlog.ParseCheckpoint(raw, origin, verifier)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp, nil
}
