package draw

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v4/sign/bls"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
)

// Signature is a marshaled BLS signature (a G1 point).
type Signature []byte

// Hex returns the hex encoding without prefix.
func (s Signature) Hex() string {
	return hex.EncodeToString(s)
}

// Message is the signed payload: the player's randomness followed by the
// counter as a little-endian u64, the same bytes the contract rebuilds.
func Message(userRandomness []byte, counter uint64) []byte {
	msg := make([]byte, 0, len(userRandomness)+8)
	msg = append(msg, userRandomness...)
	return binary.LittleEndian.AppendUint64(msg, counter)
}

// SignDraw signs the draw for (userRandomness, counter). BLS signing is
// deterministic, so repeating the call returns identical bytes.
func SignDraw(key SigningKey, userRandomness []byte, counter uint64) (Signature, error) {
	if key.IsZero() {
		return nil, apperrors.New(apperrors.CodeDrawKeyInvalid, "draw key is not initialised")
	}
	if len(userRandomness) == 0 {
		return nil, errors.New("user randomness is required")
	}
	sig, err := bls.Sign(suite, key.secret, Message(userRandomness, counter))
	if err != nil {
		return nil, fmt.Errorf("sign draw %d: %w", counter, err)
	}
	return sig, nil
}

// Verify checks a draw signature against the committed inputs.
func Verify(pub PublicKey, userRandomness []byte, counter uint64, sig Signature) error {
	return VerifyMessage(pub, Message(userRandomness, counter), sig)
}

// VerifyMessage checks sig over an already-built message.
func VerifyMessage(pub PublicKey, msg []byte, sig Signature) error {
	if pub.point == nil {
		return errors.New("public key is empty")
	}
	if len(sig) == 0 {
		return errors.New("signature is empty")
	}
	if err := bls.Verify(suite, pub.point, msg, sig); err != nil {
		return fmt.Errorf("verify draw: %w", err)
	}
	return nil
}
