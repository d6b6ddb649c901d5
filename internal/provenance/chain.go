package provenance

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
)

// TamperError reports the index of the first record whose link or
// signature failed to validate. Every later record is unreachable as
// "verified". This is a hard integrity violation requiring external
// remediation; it must never be silently retried.
type TamperError struct {
	Index  uint64
	Reason string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("provenance chain tampered at record %d: %s", e.Index, e.Reason)
}

// Chain is the ordered provenance record sequence of one trust scope.
// Appends are serialized by the owning scope's writer lock; reads take an
// internal read lock so auditors can run concurrently with each other.
type Chain struct {
	mu      sync.RWMutex
	scope   string
	records []Record
	path    string // append-only log file; empty means memory only
}

// New returns an empty, memory-only chain for a scope.
func New(scopeName string) *Chain {
	return &Chain{scope: scopeName}
}

// Open returns the chain backed by the append-only log file at path,
// loading any existing records. A missing file is an empty chain.
func Open(scopeName, path string) (*Chain, error) {
	c := &Chain{scope: scopeName, path: path}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("open chain log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("unmarshal record %d: %w", len(c.records), err)
		}
		c.records = append(c.records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan chain log: %w", err)
	}
	return c, nil
}

// Len returns the number of records in the chain.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Scope returns the scope name this chain belongs to.
func (c *Chain) Scope() string {
	return c.scope
}

// Tip returns the most recent record, or false if the chain is empty.
func (c *Chain) Tip() (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.records) == 0 {
		return Record{}, false
	}
	return c.records[len(c.records)-1].Clone(), true
}

// Records returns a deep copy of the full record sequence in chain
// order. Mutating the result never touches chain state.
func (c *Chain) Records() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, len(c.records))
	for i := range c.records {
		out[i] = c.records[i].Clone()
	}
	return out
}

// Append constructs, signs, appends, and persists a new record linking to
// the current tip. replaced is the digest an upgrade tombstoned in the
// same commit, zero for other actions. It fails with ErrSigningFailed if
// the authority cannot produce a signature, leaving the chain unchanged.
func (c *Chain) Append(action Action, binary, replaced, treeRoot digest.Digest, auth Authority, now time.Time) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := genesisPrev
	if n := len(c.records); n > 0 {
		prev = c.records[n-1].Hash()
	}

	r := Record{
		Index:          uint64(len(c.records)),
		Prev:           prev,
		Action:         action,
		Binary:         binary,
		Replaced:       replaced,
		TreeRoot:       treeRoot,
		Authorizer:     auth.Name,
		AuthorizerKind: auth.Kind,
		PublicKey:      auth.PublicKey,
		Timestamp:      now.UTC(),
	}

	if auth.Signer == nil {
		return nil, fmt.Errorf("%w: authority %q holds no local key", ErrSigningFailed, auth.Name)
	}
	sig, err := auth.Signer.Sign(r.signingPayload())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	r.Signature = sig

	if err := c.persist(&r); err != nil {
		return nil, err
	}

	// Store and return independent copies so neither the caller's
	// authority key slice nor the returned record aliases chain state.
	c.records = append(c.records, r.Clone())
	out := r.Clone()
	return &out, nil
}

// persist writes the record as one JSON line to the append-only log.
func (c *Chain) persist(r *Record) error {
	if c.path == "" {
		return nil
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open chain log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync chain log: %w", err)
	}
	return nil
}

// Verify walks the chain from genesis, recomputing every hash link and
// checking every signature and index. It returns nil for a valid chain or
// a *TamperError naming the first inconsistent record.
func (c *Chain) Verify() error {
	c.mu.RLock()
	records := c.records
	defer c.mu.RUnlock()
	return VerifyRecords(records)
}

// VerifyRecords checks an arbitrary record sequence for chain
// consistency. Pure and restartable: callers may re-run it at any time.
func VerifyRecords(records []Record) error {
	prev := genesisPrev
	for i := range records {
		r := &records[i]
		if r.Index != uint64(i) {
			return &TamperError{Index: uint64(i), Reason: fmt.Sprintf("index %d out of sequence", r.Index)}
		}
		if r.Prev != prev {
			return &TamperError{Index: uint64(i), Reason: "previous-record hash mismatch"}
		}
		if _, err := ParseAction(string(r.Action)); err != nil {
			return &TamperError{Index: uint64(i), Reason: err.Error()}
		}
		if !r.VerifySignature() {
			return &TamperError{Index: uint64(i), Reason: "signature does not verify"}
		}
		prev = r.Hash()
	}
	return nil
}
