package sponsor

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
)

// Signer is the house identity that sends and co-signs transactions.
type Signer interface {
	Address() string
	SignTransaction(txBytes []byte) (string, error)
}

// Ed25519Signer signs with an ed25519 key.
type Ed25519Signer struct {
	key     ed25519.PrivateKey
	address string
}

// NewEd25519Signer wraps a private key.
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{
		key:     key,
		address: ledger.AddressFromPublicKey(key.Public().(ed25519.PublicKey)),
	}
}

// ParseEd25519Signer decodes a 32-byte seed given as hex or base64. A
// leading scheme flag byte (33 bytes total) is accepted and stripped.
func ParseEd25519Signer(raw string) (*Ed25519Signer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("house private key is required")
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		seed, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("house private key is neither hex nor base64")
		}
	}
	if len(seed) == ed25519.SeedSize+1 && seed[0] == ledger.SchemeEd25519 {
		seed = seed[1:]
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("house private key has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

// Address implements Signer.
func (s *Ed25519Signer) Address() string {
	return s.address
}

// SignTransaction implements Signer.
func (s *Ed25519Signer) SignTransaction(txBytes []byte) (string, error) {
	if len(txBytes) == 0 {
		return "", fmt.Errorf("transaction bytes are empty")
	}
	return ledger.SignEd25519(s.key, txBytes), nil
}
