package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZebulonRouseFrantzich/provenant/internal/provenance"
)

// runHistory handles the `provenant history` subcommand
func runHistory(args []string) error {
	scopeName := "user"
	verify := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--help", "-h":
			printHistoryHelp()
			return nil
		case "--verify":
			verify = true
		case "--scope":
			i++
			if i >= len(args) {
				return fmt.Errorf("--scope requires a value")
			}
			scopeName = args[i]
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	sc, err := e.scopes.Get(scopeName)
	if err != nil {
		return err
	}

	records := sc.Records()
	if len(records) == 0 {
		fmt.Printf("Scope %q has no provenance records.\n", scopeName)
		return nil
	}

	fmt.Printf("Provenance chain for scope %q (%d records)\n\n", scopeName, len(records))
	for _, r := range records {
		fmt.Printf("#%d  %s  %s\n", r.Index, r.Timestamp.Format(time.RFC3339), r.Action)
		fmt.Printf("    binary:     %s\n", r.Binary)
		if !r.Replaced.IsZero() {
			fmt.Printf("    replaced:   %s\n", r.Replaced)
		}
		fmt.Printf("    tree root:  %s\n", r.TreeRoot)
		fmt.Printf("    authorizer: %s (%s)\n", r.Authorizer, r.AuthorizerKind)
		fmt.Println()
	}

	if verify {
		err := sc.VerifyChain()
		var tamper *provenance.TamperError
		switch {
		case err == nil:
			fmt.Println("Chain verified: every link and signature checks out.")
		case errors.As(err, &tamper):
			return fmt.Errorf("chain tampered at record %d: %s", tamper.Index, tamper.Reason)
		default:
			return fmt.Errorf("verify chain: %w", err)
		}
	}
	return nil
}

func printHistoryHelp() {
	fmt.Println("Usage: provenant history [options]")
	fmt.Println()
	fmt.Println("Print a scope's provenance chain, oldest record first.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --scope <name>   Trust scope to read (default: user)")
	fmt.Println("  --verify         Re-verify every hash link and signature")
}
