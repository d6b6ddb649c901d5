package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZebulonRouseFrantzich/provenant/internal/provenance"
)

// runAudit handles the `provenant audit` subcommand.
// Returns an exit code (0 = clean, 1 = tampered or error).
func runAudit(args []string) (int, error) {
	scopeName := "user"
	showCheckpoint := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--help", "-h":
			printAuditHelp()
			return 0, nil
		case "--checkpoint":
			showCheckpoint = true
		case "--scope":
			i++
			if i >= len(args) {
				return 1, fmt.Errorf("--scope requires a value")
			}
			scopeName = args[i]
		default:
			return 1, fmt.Errorf("unknown argument: %s", args[i])
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	e, err := loadEnv(ctx)
	if err != nil {
		return 1, err
	}
	sc, err := e.scopes.Get(scopeName)
	if err != nil {
		return 1, err
	}

	sum, err := e.scopes.Summary(scopeName)
	if err != nil {
		return 1, err
	}

	fmt.Printf("Audit of scope %q\n", scopeName)
	fmt.Printf("  tree root:   %s\n", sum.Head.Root)
	fmt.Printf("  tree size:   %d (%d live)\n", sum.Head.TreeSize, sc.Live())
	if sum.Head.Tip != nil {
		fmt.Printf("  chain tip:   #%d %s %s\n", sum.Head.Tip.Index, sum.Head.Tip.Action, sum.Head.Tip.Binary)
	} else {
		fmt.Println("  chain tip:   (empty)")
	}

	// Nested scopes are reported by head only. Their leaves stay in
	// their own trees; the parent audit folds in the roots.
	if len(sum.Children) > 0 {
		fmt.Println("  child scopes:")
		for _, child := range sum.Children {
			fmt.Printf("    %-12s root %s size %d\n", child.Name, child.Head.Root, child.Head.TreeSize)
		}
	}
	fmt.Println()

	err = sc.VerifyChain()
	var tamper *provenance.TamperError
	switch {
	case err == nil:
		fmt.Println("Chain verified: every link and signature checks out.")
	case errors.As(err, &tamper):
		fmt.Printf("TAMPER DETECTED at record %d: %s\n", tamper.Index, tamper.Reason)
		return 1, nil
	default:
		return 1, fmt.Errorf("verify chain: %w", err)
	}

	if showCheckpoint {
		cp, err := sc.SignedCheckpoint()
		if err != nil {
			return 1, fmt.Errorf("sign checkpoint: %w", err)
		}
		fmt.Println()
		fmt.Print(string(cp))
		fmt.Printf("\nVerifier key: %s\n", sc.VerifierKey())
	}
	return 0, nil
}

func printAuditHelp() {
	fmt.Println("Usage: provenant audit [options]")
	fmt.Println()
	fmt.Println("Verify a scope's provenance chain and report its committed head,")
	fmt.Println("including the heads of directly nested scopes.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --scope <name>   Trust scope to audit (default: user)")
	fmt.Println("  --checkpoint     Print a signed checkpoint of the tree head")
}
