package main

import (
	"fmt"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

func main() {
	// Handle subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version":
			fmt.Printf("provenant %s\n", Version)
			fmt.Println("Binary provenance and privilege gating")
			return
		case "install":
			if err := runInstall(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "uninstall":
			if err := runUninstall(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "upgrade":
			if err := runUpgrade(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "history":
			if err := runHistory(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "audit":
			code, err := runAudit(os.Args[2:])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(code)
		case "keys":
			if err := runKeys(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "sign":
			if err := runSign(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	// Default: show help
	fmt.Println("provenant - binary provenance and privilege gating")
	fmt.Println()
	fmt.Println("Every installed binary is recorded in a per-scope integrity tree")
	fmt.Println("and an append-only signed provenance chain.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  provenant --version              Show version information")
	fmt.Println("  provenant install [options] <file>    Verify and install a binary")
	fmt.Println("  provenant upgrade [options] <file>    Upgrade an installed binary")
	fmt.Println("  provenant uninstall [options] <digest>  Remove a binary from its scope")
	fmt.Println("  provenant history [options]      Show a scope's provenance chain")
	fmt.Println("  provenant audit [options]        Verify a scope's tree and chain")
	fmt.Println("  provenant keys                   Show machine and checkpoint keys")
	fmt.Println("  provenant sign <file>            Dev-sign a binary for this machine")
}
