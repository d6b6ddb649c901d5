package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/provenant/internal/binary"
	"github.com/ZebulonRouseFrantzich/provenant/internal/capability"
	"github.com/ZebulonRouseFrantzich/provenant/internal/orchestrator"
	"github.com/ZebulonRouseFrantzich/provenant/internal/provenance"
)

// installFlags are shared between install and upgrade.
type installFlags struct {
	scope    string
	caps     string
	unsigned bool
	certPath string
	sigPath  string
	rest     []string
	showHelp bool
}

func parseInstallFlags(args []string) (*installFlags, error) {
	f := &installFlags{scope: "user"}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--help", "-h":
			f.showHelp = true
		case "--unsigned":
			f.unsigned = true
		case "--scope":
			i++
			if i >= len(args) {
				return nil, fmt.Errorf("--scope requires a value")
			}
			f.scope = args[i]
		case "--caps":
			i++
			if i >= len(args) {
				return nil, fmt.Errorf("--caps requires a value")
			}
			f.caps = args[i]
		case "--cert":
			i++
			if i >= len(args) {
				return nil, fmt.Errorf("--cert requires a value")
			}
			f.certPath = args[i]
		case "--sig":
			i++
			if i >= len(args) {
				return nil, fmt.Errorf("--sig requires a value")
			}
			f.sigPath = args[i]
		default:
			if strings.HasPrefix(args[i], "-") {
				return nil, fmt.Errorf("unknown flag: %s", args[i])
			}
			f.rest = append(f.rest, args[i])
		}
	}
	return f, nil
}

// loadBinary reads the binary file and attaches the identity claim the
// flags select: entity cert chain, machine dev signature, or none.
func loadBinary(e *env, f *installFlags, path string) (*binary.Binary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read binary: %w", err)
	}

	b := &binary.Binary{
		Content:   content,
		Scope:     f.scope,
		Requested: capability.ParseList(f.caps),
	}

	switch {
	case f.unsigned:
		// No identity claim.
	case f.certPath != "":
		id, err := loadEntityIdentity(f.certPath, f.sigPath)
		if err != nil {
			return nil, err
		}
		b.Identity = id
	default:
		id, err := e.machine.SignBinary(content)
		if err != nil {
			return nil, fmt.Errorf("dev-sign binary: %w", err)
		}
		b.Identity = id
	}
	return b, nil
}

// loadEntityIdentity reads a PEM certificate chain (leaf first) and a
// raw signature file.
func loadEntityIdentity(certPath, sigPath string) (*binary.EntityIdentity, error) {
	if sigPath == "" {
		return nil, fmt.Errorf("--cert requires --sig")
	}
	pemData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate chain: %w", err)
	}
	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no certificates in %s", certPath)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	return &binary.EntityIdentity{Chain: chain, Signature: sig}, nil
}

// runInstall handles the `provenant install` subcommand
func runInstall(args []string) error {
	f, err := parseInstallFlags(args)
	if err != nil {
		return err
	}
	if f.showHelp {
		printInstallHelp()
		return nil
	}
	if len(f.rest) != 1 {
		return fmt.Errorf("install requires exactly one binary file\nUsage: provenant install [options] <file>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	b, err := loadBinary(e, f, f.rest[0])
	if err != nil {
		return err
	}

	out, err := e.orc.Run(ctx, orchestrator.Request{
		Scope:  f.scope,
		Action: provenance.ActionInstall,
		Binary: b,
	})
	if err != nil {
		return fmt.Errorf("install aborted: %w", err)
	}

	fmt.Printf("Installed %s into scope %q\n", b.Digest(), f.scope)
	fmt.Printf("  record index: %d\n", out.Record.Index)
	fmt.Printf("  tree root:    %s\n", out.Root)
	if out.Grant != nil && !out.Grant.Granted.Empty() {
		fmt.Printf("  granted:      %s\n", out.Grant.Granted)
	}
	return nil
}

func printInstallHelp() {
	fmt.Println("Usage: provenant install [options] <file>")
	fmt.Println()
	fmt.Println("Verify a binary's identity claim, add it to the scope's integrity")
	fmt.Println("tree, and append a signed provenance record. The tree update and the")
	fmt.Println("record commit together or not at all.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --scope <name>   Trust scope to install into (default: user)")
	fmt.Println("  --caps <list>    Comma-separated capabilities to request")
	fmt.Println("  --cert <pem>     Entity certificate chain, leaf first")
	fmt.Println("  --sig <file>     Detached signature over the binary digest")
	fmt.Println("  --unsigned       Install with no identity claim (no capabilities)")
}
