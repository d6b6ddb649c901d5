package binary

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
)

// machineKeyFile is the machine signing key inside the key directory.
const machineKeyFile = "machine.pem"

// Machine is this host's local signing identity: a stable machine id and
// an Ed25519 key held only on this machine. Dev-signed binaries verify
// against this key and nothing else.
type Machine struct {
	// ID is the stable machine identifier baked into dev-signed
	// identities.
	ID string

	priv ed25519.PrivateKey
}

// LoadMachine resolves the machine id and loads the machine key from
// keyDir, generating and persisting a fresh key on first use. The key
// must be stable across invocations: dev-signed binaries installed
// earlier keep verifying until the key file is wiped.
func LoadMachine(ctx context.Context, keyDir string) (*Machine, error) {
	id, err := host.HostIDWithContext(ctx)
	if err != nil || id == "" {
		// Graceful fallback when the platform exposes no machine id.
		hostname, herr := os.Hostname()
		if herr != nil {
			return nil, fmt.Errorf("resolve machine id: %w", errors.Join(err, herr))
		}
		id = hostname
	}

	priv, err := loadOrCreateKey(filepath.Join(keyDir, machineKeyFile))
	if err != nil {
		return nil, err
	}

	return &Machine{ID: id, priv: priv}, nil
}

// Public returns the public half of the machine key.
func (m *Machine) Public() ed25519.PublicKey {
	return m.priv.Public().(ed25519.PublicKey)
}

// Signer returns a signer over the machine key.
func (m *Machine) Signer() digest.Signer {
	return digest.NewKeySigner(m.priv)
}

// SignBinary produces the dev-signed identity for content: this machine's
// id plus the machine key's signature over the content digest.
func (m *Machine) SignBinary(content []byte) (*DevIdentity, error) {
	d := digest.Sum(content)
	sig, err := m.Signer().Sign(d.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign binary digest: %w", err)
	}
	return &DevIdentity{MachineID: m.ID, Signature: sig}, nil
}

// loadOrCreateKey reads a PKCS#8 PEM Ed25519 key, generating one at path
// if none exists yet.
func loadOrCreateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return parseKeyPEM(path, data)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read machine key: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate machine key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal machine key: %w", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, pemData, 0600); err != nil {
		return nil, fmt.Errorf("write machine key: %w", err)
	}

	return priv, nil
}

func parseKeyPEM(path string, data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("machine key %s: no PEM block", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse machine key %s: %w", path, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("machine key %s: expected Ed25519, found %T", path, key)
	}
	return priv, nil
}
