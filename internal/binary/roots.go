package binary

import (
	"crypto/x509"
	"fmt"
	"os"
)

// LoadRoots reads PEM certificate files into the pool of trusted roots.
// The root set is consumed input: the secure-boot handoff (or the scope
// configuration standing in for it) decides which authorities exist.
func LoadRoots(paths []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read trusted root %s: %w", path, err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no certificates found in %s", path)
		}
	}
	return pool, nil
}
