// Package binary defines candidate binaries, their identity variants, and
// the verifier that gates which capabilities a binary may be granted.
//
// # Security Model
//
// Every binary presented for installation carries exactly one identity:
//   - Entity-signed: a certificate chain rooted in a configured trusted
//     authority. Portable across machines. Entitled to the capability set
//     encoded in its leaf certificate, and nothing more.
//   - Dev-signed: a signature by this machine's local key, tagged with the
//     machine identifier that produced it. Explicitly non-portable:
//     presenting a dev-signed binary on another machine is a hard refusal,
//     not a warning. Entitled to the full local capability set.
//   - Unsigned: no identity. Entitled only to the empty capability set;
//     requesting anything is refused before any state is touched.
//
// # Verification Outcomes
//
// Verification either returns a Grant naming the verified identity and the
// granted capabilities, or one of the sentinel errors in verify.go. The
// verifier never mutates state; the orchestrator turns its errors into
// aborted outcomes.
package binary
