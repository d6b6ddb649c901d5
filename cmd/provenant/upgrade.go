package main

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-semver/semver"

	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
	"github.com/ZebulonRouseFrantzich/provenant/internal/orchestrator"
	"github.com/ZebulonRouseFrantzich/provenant/internal/provenance"
)

// runUpgrade handles the `provenant upgrade` subcommand
func runUpgrade(args []string) error {
	var prevStr, versionStr, installedStr string
	var filtered []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--previous":
			i++
			if i >= len(args) {
				return fmt.Errorf("--previous requires a value")
			}
			prevStr = args[i]
		case "--version":
			i++
			if i >= len(args) {
				return fmt.Errorf("--version requires a value")
			}
			versionStr = args[i]
		case "--installed":
			i++
			if i >= len(args) {
				return fmt.Errorf("--installed requires a value")
			}
			installedStr = args[i]
		default:
			filtered = append(filtered, args[i])
		}
	}

	f, err := parseInstallFlags(filtered)
	if err != nil {
		return err
	}
	if f.showHelp {
		printUpgradeHelp()
		return nil
	}
	if len(f.rest) != 1 {
		return fmt.Errorf("upgrade requires exactly one binary file\nUsage: provenant upgrade [options] <file>")
	}

	req := orchestrator.Request{
		Scope:  f.scope,
		Action: provenance.ActionUpgrade,
	}
	if prevStr != "" {
		d, err := digest.Parse(prevStr)
		if err != nil {
			return fmt.Errorf("parse --previous digest: %w", err)
		}
		req.Previous = d
	}
	if versionStr != "" {
		v, err := semver.NewVersion(versionStr)
		if err != nil {
			return fmt.Errorf("parse --version: %w", err)
		}
		req.Version = v
	}
	if installedStr != "" {
		v, err := semver.NewVersion(installedStr)
		if err != nil {
			return fmt.Errorf("parse --installed: %w", err)
		}
		req.InstalledVersion = v
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
	req.Binary = b

	out, err := e.orc.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("upgrade aborted: %w", err)
	}

	fmt.Printf("Upgraded to %s in scope %q\n", b.Digest(), f.scope)
	if !req.Previous.IsZero() {
		fmt.Printf("  replaced:     %s\n", req.Previous)
	}
	fmt.Printf("  record index: %d\n", out.Record.Index)
	fmt.Printf("  tree root:    %s\n", out.Root)
	return nil
}

func printUpgradeHelp() {
	fmt.Println("Usage: provenant upgrade [options] <file>")
	fmt.Println()
	fmt.Println("Install a newer build of an already-installed binary. The previous")
	fmt.Println("leaf is tombstoned and the new one gets a fresh position. When both")
	fmt.Println("versions are given, the upgrade is refused unless the new version is")
	fmt.Println("strictly greater.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --scope <name>      Trust scope (default: user)")
	fmt.Println("  --previous <digest> Digest of the build being replaced")
	fmt.Println("  --version <semver>  Version of the new build")
	fmt.Println("  --installed <semver> Version currently installed")
	fmt.Println("  --caps <list>       Comma-separated capabilities to request")
	fmt.Println("  --cert <pem>        Entity certificate chain, leaf first")
	fmt.Println("  --sig <file>        Detached signature over the binary digest")
	fmt.Println("  --unsigned          Upgrade with no identity claim")
}
