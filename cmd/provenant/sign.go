package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ZebulonRouseFrantzich/provenant/internal/binary"
	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
)

// runSign handles the `provenant sign` subcommand
func runSign(args []string) error {
	var rest []string
	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			printSignHelp()
			return nil
		default:
			rest = append(rest, arg)
		}
	}
	if len(rest) != 1 {
		return fmt.Errorf("sign requires exactly one binary file\nUsage: provenant sign <file>")
	}
	path := rest[0]

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read binary: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Signing only needs the machine identity, not the full registry.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	machine, err := binary.LoadMachine(ctx, keyDir(cfg))
	if err != nil {
		return fmt.Errorf("load machine identity: %w", err)
	}

	id, err := machine.SignBinary(content)
	if err != nil {
		return fmt.Errorf("sign binary: %w", err)
	}

	sigPath := path + ".sig"
	if err := os.WriteFile(sigPath, id.Signature, 0o644); err != nil {
		return fmt.Errorf("write signature: %w", err)
	}

	fmt.Printf("Dev-signed %s\n", path)
	fmt.Printf("  digest:    %s\n", digest.Sum(content))
	fmt.Printf("  machine:   %s\n", id.MachineID)
	fmt.Printf("  signature: %s\n", sigPath)
	fmt.Println()
	fmt.Println("This signature is valid only on this machine. Other machines will")
	fmt.Println("refuse the binary unless it carries an entity certificate chain.")
	return nil
}

func printSignHelp() {
	fmt.Println("Usage: provenant sign <file>")
	fmt.Println()
	fmt.Println("Sign a binary with this machine's dev key. Dev signatures are bound")
	fmt.Println("to the machine identity and never transfer to other machines.")
}
