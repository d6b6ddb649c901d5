// Package orchestrator drives installation requests through the fixed
// pipeline: received, verifying, tree updating, chain appending,
// committed. A request that fails at any stage moves to aborted and the
// scope's committed state is left exactly as it was. The tree insert and
// the chain append commit together or not at all.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-semver/semver"
	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/provenant/internal/binary"
	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
	"github.com/ZebulonRouseFrantzich/provenant/internal/integrity"
	"github.com/ZebulonRouseFrantzich/provenant/internal/provenance"
	"github.com/ZebulonRouseFrantzich/provenant/internal/scope"
	"github.com/ZebulonRouseFrantzich/provenant/internal/service"
)

// State names a stage of the installation pipeline.
type State string

const (
	StateReceived       State = "received"
	StateVerifying      State = "verifying"
	StateTreeUpdating   State = "tree_updating"
	StateChainAppending State = "chain_appending"
	StateCommitted      State = "committed"
	StateAborted        State = "aborted"
)

// ErrVersionNotNewer is returned when an upgrade request does not carry
// a version strictly greater than the installed one.
var ErrVersionNotNewer = errors.New("upgrade version is not newer than the installed version")

// Request describes one installation action against a trust scope.
type Request struct {
	// Scope is the trust scope the action targets.
	Scope string

	// Action is install, upgrade, or uninstall.
	Action provenance.Action

	// Binary carries the content and identity claim. Required for
	// install and upgrade, ignored for uninstall.
	Binary *binary.Binary

	// Digest identifies the binary to remove. Used only by uninstall.
	Digest digest.Digest

	// Previous is the digest the upgrade replaces. When set, the old
	// leaf is tombstoned in the same commit that inserts the new one.
	Previous digest.Digest

	// Version and InstalledVersion gate upgrades: the new version must
	// be strictly greater. Either may be nil, which skips the check.
	Version          *semver.Version
	InstalledVersion *semver.Version
}

// Outcome reports how far a request got and what it committed.
type Outcome struct {
	// ID is the journal id assigned to this request.
	ID string

	// State is the terminal state, committed or aborted.
	State State

	// Err is the abort cause, nil when committed.
	Err error

	// Grant holds the capabilities the identity check granted. Nil for
	// uninstalls and aborted requests.
	Grant *binary.Grant

	// Record, Root, and Proof describe the committed result. Proof is
	// nil for uninstalls.
	Record *provenance.Record
	Root   digest.Digest
	Proof  *integrity.Proof
}

// Orchestrator executes requests against a scope registry.
type Orchestrator struct {
	scopes    *scope.Registry
	verifier  *binary.Verifier
	authority provenance.Authority
	clock     service.Clock
	log       service.Logger
	journal   *journal
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log service.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithClock sets the clock used for record timestamps.
func WithClock(c service.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithJournalDir persists a journal entry per request under dir.
func WithJournalDir(dir string) Option {
	return func(o *Orchestrator) {
		o.journal = &journal{dir: dir, log: o.log}
	}
}

// New creates an orchestrator. The authority signs every provenance
// record the orchestrator appends; its Signer may be nil, in which case
// every commit aborts with ErrSigningFailed.
func New(scopes *scope.Registry, verifier *binary.Verifier, authority provenance.Authority, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		scopes:    scopes,
		verifier:  verifier,
		authority: authority,
		clock:     service.RealClock{},
		log:       service.NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.journal != nil {
		o.journal.log = o.log
	}
	return o
}

// Run drives one request to a terminal state. The returned error is
// non-nil exactly when the outcome is aborted, and is also recorded in
// Outcome.Err.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	out := &Outcome{ID: uuid.NewString(), State: StateReceived}
	o.log.Debug("request received", "id", out.ID, "scope", req.Scope, "action", req.Action)

	if err := ctx.Err(); err != nil {
		return o.abort(out, req, err)
	}
	if req.Scope == "" {
		return o.abort(out, req, fmt.Errorf("request has no trust scope"))
	}
	if _, err := provenance.ParseAction(string(req.Action)); err != nil {
		return o.abort(out, req, err)
	}

	sc, err := o.scopes.Get(req.Scope)
	if err != nil {
		return o.abort(out, req, err)
	}

	out.State = StateVerifying
	target, err := o.verify(req, out)
	if err != nil {
		return o.abort(out, req, err)
	}

	if err := ctx.Err(); err != nil {
		return o.abort(out, req, err)
	}

	out.State = StateTreeUpdating
	err = sc.Update(func(tree *integrity.Tree, chain *provenance.Chain) error {
		root, replaced, revert, err := o.updateTree(tree, req, target)
		if err != nil {
			return err
		}
		out.State = StateChainAppending
		rec, err := chain.Append(req.Action, target, replaced, root, o.authority, o.clock.Now())
		if err != nil {
			revert()
			return err
		}
		out.Record = rec
		out.Root = root
		if req.Action != provenance.ActionUninstall {
			p, err := tree.Proof(target)
			if err != nil {
				// The leaf was inserted above, so this is unreachable
				// short of a tree bug.
				return err
			}
			out.Proof = p
		}
		return nil
	})
	if err != nil {
		return o.abort(out, req, err)
	}

	out.State = StateCommitted
	o.log.Info("request committed", "id", out.ID, "scope", req.Scope,
		"action", req.Action, "binary", target, "index", out.Record.Index)
	o.journal.save(out, req)
	return out, nil
}

// verify runs the identity and version checks and returns the digest the
// tree and chain operate on. Uninstalls skip signature verification: the
// authority is removing, not endorsing, the binary.
func (o *Orchestrator) verify(req Request, out *Outcome) (digest.Digest, error) {
	if req.Action == provenance.ActionUninstall {
		if req.Digest.IsZero() {
			return digest.Digest{}, fmt.Errorf("uninstall request has no digest")
		}
		return req.Digest, nil
	}

	if req.Binary == nil {
		return digest.Digest{}, fmt.Errorf("%s request has no binary", req.Action)
	}
	grant, err := o.verifier.Verify(req.Binary)
	if err != nil {
		return digest.Digest{}, err
	}
	out.Grant = grant

	if req.Action == provenance.ActionUpgrade && req.Version != nil && req.InstalledVersion != nil {
		if !req.InstalledVersion.LessThan(*req.Version) {
			return digest.Digest{}, fmt.Errorf("installed %s, requested %s: %w",
				req.InstalledVersion, req.Version, ErrVersionNotNewer)
		}
	}
	return req.Binary.Digest(), nil
}

// updateTree applies the request's tree mutation and returns the new
// root, the digest it tombstoned (zero unless an upgrade replaced a
// build), and a revert that undoes everything it did.
func (o *Orchestrator) updateTree(tree *integrity.Tree, req Request, target digest.Digest) (digest.Digest, digest.Digest, integrity.Revert, error) {
	switch req.Action {
	case provenance.ActionUninstall:
		root, revert, err := tree.Remove(target)
		if err != nil {
			return digest.Digest{}, digest.Digest{}, nil, err
		}
		return root, digest.Digest{}, revert, nil

	case provenance.ActionUpgrade:
		var replaced digest.Digest
		var revertOld integrity.Revert
		if !req.Previous.IsZero() {
			if _, r, err := tree.Remove(req.Previous); err == nil {
				replaced = req.Previous
				revertOld = r
			} else if !errors.Is(err, integrity.ErrLeafNotFound) {
				return digest.Digest{}, digest.Digest{}, nil, err
			}
		}
		root, _, revertNew := tree.Insert(target)
		revert := func() {
			revertNew()
			if revertOld != nil {
				revertOld()
			}
		}
		return root, replaced, revert, nil

	default:
		root, _, revert := tree.Insert(target)
		return root, digest.Digest{}, revert, nil
	}
}

func (o *Orchestrator) abort(out *Outcome, req Request, err error) (*Outcome, error) {
	out.State = StateAborted
	out.Err = err
	o.log.Warn("request aborted", "id", out.ID, "error", err)
	o.journal.save(out, req)
	return out, err
}
