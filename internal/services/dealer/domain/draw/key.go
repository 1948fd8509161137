// Package draw implements the house's verifiable card draws.
//
// A draw is a BLS signature over the player's committed randomness and the
// game's draw counter. Nobody can predict it before the house signs, and
// anyone holding the published public key can check it afterwards. The
// card is derived from the signature bytes alone.
package draw

import (
	"crypto/hkdf"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/pairing/bn256"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
)

const (
	keySalt = "housedealer/draw/salt/v1"
	keyInfo = "housedealer/draw/bls-bn256/v1"
	// Over-long output keeps the modular reduction into the scalar field
	// close to uniform.
	keyMaterialLength = 64
)

var suite = bn256.NewSuite()

// SigningKey is the house's private draw key. It is only ever used for
// draws.
type SigningKey struct {
	secret kyber.Scalar
	public kyber.Point
}

// PublicKey verifies draws. It is what the house publishes in HouseData.
type PublicKey struct {
	point kyber.Point
}

// DeriveSigningKey derives the draw key from the operator master secret.
// The same secret always yields the same key.
func DeriveSigningKey(masterSecret []byte) (SigningKey, error) {
	if len(masterSecret) == 0 {
		return SigningKey{}, apperrors.New(apperrors.CodeDrawKeyInvalid, "master secret is required")
	}
	okm, err := hkdf.Key(sha256.New, masterSecret, []byte(keySalt), keyInfo, keyMaterialLength)
	if err != nil {
		return SigningKey{}, apperrors.Wrap(apperrors.CodeDrawKeyInvalid, "derive draw key", err)
	}
	secret := suite.G2().Scalar().SetBytes(okm)
	if secret.Equal(suite.G2().Scalar().Zero()) {
		return SigningKey{}, apperrors.New(apperrors.CodeDrawKeyInvalid, "derived draw key is zero")
	}
	return SigningKey{
		secret: secret,
		public: suite.G2().Point().Mul(secret, nil),
	}, nil
}

// ParseMasterSecret accepts a hex string (optionally 0x-prefixed) or, when
// the value is not hex, the raw bytes of the string.
func ParseMasterSecret(raw string) []byte {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if decoded, err := hex.DecodeString(trimmed); err == nil && len(decoded) > 0 {
		return decoded
	}
	return []byte(strings.TrimSpace(raw))
}

// IsZero reports whether the key was never derived.
func (k SigningKey) IsZero() bool {
	return k.secret == nil
}

// PublicKey returns the verification key.
func (k SigningKey) PublicKey() PublicKey {
	return PublicKey{point: k.public}
}

// ParsePublicKey decodes a marshaled G2 point.
func ParsePublicKey(b []byte) (PublicKey, error) {
	if len(b) == 0 {
		return PublicKey{}, errors.New("public key is empty")
	}
	point := suite.G2().Point()
	if err := point.UnmarshalBinary(b); err != nil {
		return PublicKey{}, fmt.Errorf("unmarshal public key: %w", err)
	}
	return PublicKey{point: point}, nil
}

// ParsePublicKeyHex decodes a hex encoded public key.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return PublicKey{}, fmt.Errorf("decode public key hex: %w", err)
	}
	return ParsePublicKey(b)
}

// Bytes returns the marshaled point.
func (p PublicKey) Bytes() []byte {
	if p.point == nil {
		return nil
	}
	b, err := p.point.MarshalBinary()
	if err != nil {
		return nil
	}
	return b
}

// Hex returns the 0x-prefixed hex encoding.
func (p PublicKey) Hex() string {
	return "0x" + hex.EncodeToString(p.Bytes())
}

// Equal compares two keys.
func (p PublicKey) Equal(other PublicKey) bool {
	if p.point == nil || other.point == nil {
		return p.point == nil && other.point == nil
	}
	return p.point.Equal(other.point)
}
