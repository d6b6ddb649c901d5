package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"
)

// runKeys handles the `provenant keys` subcommand
func runKeys(args []string) error {
	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			printKeysHelp()
			return nil
		default:
			return fmt.Errorf("unknown argument: %s", arg)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Machine identity")
	fmt.Printf("  id:         %s\n", e.machine.ID)
	fmt.Printf("  public key: %s\n", hex.EncodeToString(e.machine.Public()))
	fmt.Println()

	fmt.Println("Scope checkpoint keys")
	for _, name := range e.scopes.Names() {
		sc, err := e.scopes.Get(name)
		if err != nil {
			return err
		}
		fmt.Printf("  %-12s %s\n", name, sc.VerifierKey())
	}
	return nil
}

func printKeysHelp() {
	fmt.Println("Usage: provenant keys")
	fmt.Println()
	fmt.Println("Print the machine identity key and each scope's checkpoint")
	fmt.Println("verifier key. Share the verifier keys with auditors who need to")
	fmt.Println("check signed checkpoints offline.")
}
