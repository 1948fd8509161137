package draw

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
)

// maxSampleRounds bounds rejection sampling. Each round is rejected with
// probability 16/2^64, so the fallback is unreachable in practice.
const maxSampleRounds = 8

// sampleLimit is the largest multiple of 52 that fits below 2^64. Values at
// or above it would bias the low cards and are re-hashed.
var sampleLimit = func() uint64 {
	rem := uint64(math.MaxUint64%game.DeckSize+1) % game.DeckSize
	return math.MaxUint64 - rem + 1
}()

// NextCard maps signature bytes to a card. The first eight bytes of
// SHA-256(signature), read big-endian, are reduced mod 52 when below
// sampleLimit; otherwise the digest is hashed again.
func NextCard(signature []byte) game.CardIndex {
	digest := sha256.Sum256(signature)
	var v uint64
	for round := 0; round < maxSampleRounds; round++ {
		v = binary.BigEndian.Uint64(digest[:8])
		if v < sampleLimit {
			break
		}
		digest = sha256.Sum256(digest[:])
	}
	return game.CardIndex(v % game.DeckSize)
}

// CardAt returns card k of a multi-card draw made from one signature.
// CardAt(sig, 0) equals NextCard(sig).
func CardAt(signature []byte, k int) game.CardIndex {
	if k <= 0 {
		return NextCard(signature)
	}
	buf := make([]byte, 0, len(signature)+4)
	buf = append(buf, signature...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(k))
	digest := sha256.Sum256(buf)
	return NextCard(digest[:])
}
