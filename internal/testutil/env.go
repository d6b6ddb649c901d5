// Package testutil provides utilities for testing provenant in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestEnv creates isolated test directories for each test.
// This ensures provenant tests never interfere with:
// - The machine's real state directory and scope stores
// - The user's real configuration
// - The machine identity key
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) {
	t.Helper()

	// Create temp directory (auto-cleaned by testing framework)
	tmpDir := t.TempDir()

	// Point provenant paths at the temp location
	t.Setenv("PROVENANT_CONFIG", filepath.Join(tmpDir, "config", "provenant.lua"))
	t.Setenv("PROVENANT_STATE_DIR", filepath.Join(tmpDir, "state"))
	t.Setenv("PROVENANT_KEY_DIR", filepath.Join(tmpDir, "keys"))

	// Mark as test mode
	t.Setenv("PROVENANT_TEST_MODE", "1")

	// Create the directories
	dirs := []string{
		filepath.Join(tmpDir, "config"),
		filepath.Join(tmpDir, "state"),
		filepath.Join(tmpDir, "keys"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}
}
