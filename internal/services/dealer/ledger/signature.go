package ledger

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SchemeEd25519 is the signature scheme flag for ed25519 keys.
const SchemeEd25519 byte = 0x00

// transactionIntent prefixes transaction bytes before hashing for
// signatures and digests.
var transactionIntent = []byte{0, 0, 0}

// SigningDigest is the 32-byte message a transaction signature covers.
func SigningDigest(txBytes []byte) [32]byte {
	msg := make([]byte, 0, len(transactionIntent)+len(txBytes))
	msg = append(msg, transactionIntent...)
	msg = append(msg, txBytes...)
	return blake2b.Sum256(msg)
}

// TransactionDigest identifies a transaction by its bytes.
func TransactionDigest(txBytes []byte) string {
	d := SigningDigest(txBytes)
	return hex.EncodeToString(d[:])
}

// AddressFromPublicKey derives the 0x address of an ed25519 public key.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, SchemeEd25519)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// SignEd25519 returns the serialized signature flag || sig || pubkey in
// base64 over txBytes.
func SignEd25519(priv ed25519.PrivateKey, txBytes []byte) string {
	digest := SigningDigest(txBytes)
	sig := ed25519.Sign(priv, digest[:])
	pub := priv.Public().(ed25519.PublicKey)

	out := make([]byte, 0, 1+len(sig)+len(pub))
	out = append(out, SchemeEd25519)
	out = append(out, sig...)
	out = append(out, pub...)
	return base64.StdEncoding.EncodeToString(out)
}

// VerifySignature checks a serialized signature over txBytes and returns
// the signer's address.
func VerifySignature(serialized string, txBytes []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(serialized)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize {
		return "", fmt.Errorf("signature has %d bytes", len(raw))
	}
	if raw[0] != SchemeEd25519 {
		return "", fmt.Errorf("unsupported signature scheme %#x", raw[0])
	}
	sig := raw[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(raw[1+ed25519.SignatureSize:])
	digest := SigningDigest(txBytes)
	if !ed25519.Verify(pub, digest[:], sig) {
		return "", errors.New("signature does not verify")
	}
	return AddressFromPublicKey(pub), nil
}
