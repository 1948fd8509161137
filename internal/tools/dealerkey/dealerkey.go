// Package dealerkey generates the key material the dealer daemon reads at
// startup and prints it as shell exports.
package dealerkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/louisbranch/housedealer/internal/services/dealer/domain/draw"
	"github.com/louisbranch/housedealer/internal/services/dealer/sponsor"
)

const defaultSecretBytes = 32

// Config holds configuration for key generation.
type Config struct {
	SecretBytes int
	// MasterSecret reuses an existing secret instead of generating one, so
	// the published draw key can be recomputed.
	MasterSecret string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{SecretBytes: defaultSecretBytes}
	fs.IntVar(&cfg.SecretBytes, "bytes", cfg.SecretBytes, "random bytes in a generated master secret")
	fs.StringVar(&cfg.MasterSecret, "master-secret", cfg.MasterSecret, "existing master secret to derive from")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the master secret, house signing key and trigger key pair
// and writes them to out. The draw public key is what the house treasury
// object must publish.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if cfg.MasterSecret == "" && cfg.SecretBytes <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	if reader == nil {
		reader = rand.Reader
	}

	secret := cfg.MasterSecret
	if secret == "" {
		buf := make([]byte, cfg.SecretBytes)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return fmt.Errorf("generate master secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}
	drawKey, err := draw.DeriveSigningKey([]byte(secret))
	if err != nil {
		return fmt.Errorf("derive draw key: %w", err)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return fmt.Errorf("generate house key: %w", err)
	}
	house := sponsor.NewEd25519Signer(ed25519.NewKeyFromSeed(seed))

	triggerPublic, triggerPrivate, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate trigger key: %w", err)
	}

	lines := []string{
		"export DEALER_MASTER_SECRET=" + secret,
		"export DEALER_HOUSE_PRIVATE_KEY=" + hex.EncodeToString(seed),
		"export DEALER_TRIGGER_PUBLIC_KEY=" + base64.RawStdEncoding.EncodeToString(triggerPublic),
		"# house address: " + house.Address(),
		"# draw public key: " + drawKey.PublicKey().Hex(),
		"# trigger private key: " + base64.RawStdEncoding.EncodeToString(triggerPrivate),
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
