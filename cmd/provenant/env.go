package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/ZebulonRouseFrantzich/provenant/internal/binary"
	"github.com/ZebulonRouseFrantzich/provenant/internal/capability"
	"github.com/ZebulonRouseFrantzich/provenant/internal/config"
	"github.com/ZebulonRouseFrantzich/provenant/internal/orchestrator"
	"github.com/ZebulonRouseFrantzich/provenant/internal/provenance"
	"github.com/ZebulonRouseFrantzich/provenant/internal/scope"
	"github.com/ZebulonRouseFrantzich/provenant/internal/service"
)

// klogLogger adapts klog to the service.Logger interface.
type klogLogger struct{}

func (klogLogger) Debug(msg string, keysAndValues ...interface{}) {
	klog.V(2).InfoS(msg, keysAndValues...)
}

func (klogLogger) Info(msg string, keysAndValues ...interface{}) {
	klog.V(1).InfoS(msg, keysAndValues...)
}

func (klogLogger) Warn(msg string, keysAndValues ...interface{}) {
	klog.InfoS("warning: "+msg, keysAndValues...)
}

func (klogLogger) Error(msg string, keysAndValues ...interface{}) {
	klog.ErrorS(nil, msg, keysAndValues...)
}

// env bundles everything a subcommand needs.
type env struct {
	cfg       *config.Config
	scopes    *scope.Registry
	machine   *binary.Machine
	verifier  *binary.Verifier
	authority provenance.Authority
	orc       *orchestrator.Orchestrator
}

func configPath() (string, error) {
	if p := os.Getenv("PROVENANT_CONFIG"); p != "" {
		return p, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(base, "provenant", "provenant.lua"), nil
}

func defaultStateDir() (string, error) {
	if p := os.Getenv("PROVENANT_STATE_DIR"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "provenant"), nil
}

// loadConfig reads the Lua configuration. A missing config file is not
// an error: the CLI falls back to a single "user" scope with machine-
// local capabilities.
func loadConfig() (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.ParseFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			stateDir, err := defaultStateDir()
			if err != nil {
				return nil, err
			}
			return &config.Config{
				StateDir:     stateDir,
				Scopes:       []config.ScopeDef{{Name: "user"}},
				Capabilities: []string{"fs.read", "fs.write"},
			}, nil
		}
		return nil, err
	}
	if p := os.Getenv("PROVENANT_STATE_DIR"); p != "" {
		cfg.StateDir = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func keyDir(cfg *config.Config) string {
	if p := os.Getenv("PROVENANT_KEY_DIR"); p != "" {
		return p
	}
	return filepath.Join(cfg.StateDir, "keys")
}

// loadEnv wires the registry, machine identity, verifier, and
// orchestrator from the configuration.
func loadEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := klogLogger{}
	scopes, err := scope.FromConfig(cfg, scope.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("build scope registry: %w", err)
	}

	machine, err := binary.LoadMachine(ctx, keyDir(cfg))
	if err != nil {
		return nil, fmt.Errorf("load machine identity: %w", err)
	}

	roots, err := binary.LoadRoots(cfg.TrustedRoots)
	if err != nil {
		return nil, fmt.Errorf("load trusted roots: %w", err)
	}

	localCaps := capability.NewSet(cfg.Capabilities...)
	verifier := binary.NewVerifier(roots, machine, localCaps, service.RealClock{})

	authority := provenance.Authority{
		Name:      machine.ID,
		Kind:      "dev-machine",
		PublicKey: machine.Public(),
		Signer:    machine.Signer(),
	}

	orc := orchestrator.New(scopes, verifier, authority,
		orchestrator.WithLogger(log),
		orchestrator.WithJournalDir(filepath.Join(cfg.StateDir, "journal")),
	)

	return &env{
		cfg:       cfg,
		scopes:    scopes,
		machine:   machine,
		verifier:  verifier,
		authority: authority,
		orc:       orc,
	}, nil
}
