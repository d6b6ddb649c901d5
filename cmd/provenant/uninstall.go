package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
	"github.com/ZebulonRouseFrantzich/provenant/internal/orchestrator"
	"github.com/ZebulonRouseFrantzich/provenant/internal/provenance"
)

// runUninstall handles the `provenant uninstall` subcommand
func runUninstall(args []string) error {
	scopeName := "user"
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--help", "-h":
			printUninstallHelp()
			return nil
		case "--scope":
			i++
			if i >= len(args) {
				return fmt.Errorf("--scope requires a value")
			}
			scopeName = args[i]
		default:
			if strings.HasPrefix(args[i], "-") {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
			rest = append(rest, args[i])
		}
	}
	if len(rest) != 1 {
		return fmt.Errorf("uninstall requires exactly one digest\nUsage: provenant uninstall [options] <digest>")
	}
	d, err := digest.Parse(rest[0])
	if err != nil {
		return fmt.Errorf("parse digest: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	out, err := e.orc.Run(ctx, orchestrator.Request{
		Scope:  scopeName,
		Action: provenance.ActionUninstall,
		Digest: d,
	})
	if err != nil {
		return fmt.Errorf("uninstall aborted: %w", err)
	}

	fmt.Printf("Removed %s from scope %q\n", d, scopeName)
	fmt.Printf("  record index: %d\n", out.Record.Index)
	fmt.Printf("  tree root:    %s\n", out.Root)
	return nil
}

func printUninstallHelp() {
	fmt.Println("Usage: provenant uninstall [options] <digest>")
	fmt.Println()
	fmt.Println("Tombstone the binary's leaf in the scope's integrity tree and append")
	fmt.Println("an uninstall record to the provenance chain. The leaf position is")
	fmt.Println("preserved so earlier inclusion proofs stay checkable.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --scope <name>   Trust scope to remove from (default: user)")
}
