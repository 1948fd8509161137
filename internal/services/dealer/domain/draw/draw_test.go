package draw

import (
	"bytes"
	"crypto/sha256"
	"testing"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
)

var testSecret = []byte("operator-master-secret-for-tests")

func mustKey(t *testing.T, secret []byte) SigningKey {
	t.Helper()
	key, err := DeriveSigningKey(secret)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	return key
}

func TestDeriveSigningKeyIsDeterministic(t *testing.T) {
	a := mustKey(t, testSecret)
	b := mustKey(t, testSecret)
	if !a.PublicKey().Equal(b.PublicKey()) {
		t.Fatal("same secret produced different keys")
	}
	other := mustKey(t, []byte("another-secret"))
	if a.PublicKey().Equal(other.PublicKey()) {
		t.Fatal("different secrets produced the same key")
	}
	if _, err := DeriveSigningKey(nil); !apperrors.HasCode(err, apperrors.CodeDrawKeyInvalid) {
		t.Fatalf("empty secret err = %v, want draw key invalid", err)
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	pub := mustKey(t, testSecret).PublicKey()
	parsed, err := ParsePublicKeyHex(pub.Hex())
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	if !parsed.Equal(pub) {
		t.Fatal("parsed key differs")
	}
	if _, err := ParsePublicKey([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for garbage key")
	}
}

func TestSignDrawIsDeterministic(t *testing.T) {
	key := mustKey(t, testSecret)
	randomness := []byte("player-entropy-0001")

	for counter := uint64(0); counter < 5; counter++ {
		first, err := SignDraw(key, randomness, counter)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		second, err := SignDraw(key, randomness, counter)
		if err != nil {
			t.Fatalf("sign again: %v", err)
		}
		if !bytes.Equal(first, second) {
			t.Fatalf("counter %d: signatures differ", counter)
		}
	}

	a, _ := SignDraw(key, randomness, 1)
	b, _ := SignDraw(key, randomness, 2)
	if bytes.Equal(a, b) {
		t.Fatal("counter must separate signatures")
	}
}

func TestVerifyAcceptsOnlyMatchingInputs(t *testing.T) {
	key := mustKey(t, testSecret)
	pub := key.PublicKey()
	randomness := []byte{0xde, 0xad, 0xbe, 0xef}

	sig, err := SignDraw(key, randomness, 7)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(pub, randomness, 7, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := Verify(pub, randomness, 8, sig); err == nil {
		t.Fatal("wrong counter verified")
	}
	if err := Verify(mustKey(t, []byte("impostor")).PublicKey(), randomness, 7, sig); err == nil {
		t.Fatal("wrong key verified")
	}

	msg := Message(randomness, 7)
	for i := 0; i < len(msg)*8; i++ {
		flipped := append([]byte(nil), msg...)
		flipped[i/8] ^= 1 << (i % 8)
		if err := VerifyMessage(pub, flipped, sig); err == nil {
			t.Fatalf("bit flip %d verified", i)
		}
	}
}

func TestMessageLayout(t *testing.T) {
	got := Message([]byte{0xaa}, 0x0102)
	want := []byte{0xaa, 0x02, 0x01, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("message = %x, want %x", got, want)
	}
}

func TestNextCardAlwaysInDeck(t *testing.T) {
	inputs := [][]byte{
		nil,
		bytes.Repeat([]byte{0x00}, 64),
		bytes.Repeat([]byte{0xff}, 64),
		{0x00},
		{0xff},
	}
	for i := 0; i < 2000; i++ {
		d := sha256.Sum256([]byte{byte(i), byte(i >> 8)})
		inputs = append(inputs, d[:])
	}
	for _, in := range inputs {
		if c := NextCard(in); !c.Valid() {
			t.Fatalf("NextCard(%x) = %d, outside deck", in, c)
		}
	}
}

func TestNextCardCoversDeck(t *testing.T) {
	seen := make(map[game.CardIndex]int)
	for i := 0; i < 5000; i++ {
		d := sha256.Sum256([]byte{byte(i), byte(i >> 8), 0x42})
		seen[NextCard(d[:])]++
	}
	if len(seen) != game.DeckSize {
		t.Fatalf("saw %d distinct cards, want %d", len(seen), game.DeckSize)
	}
}

func TestSampleLimitIsMultipleOfDeck(t *testing.T) {
	if sampleLimit%game.DeckSize != 0 {
		t.Fatalf("sample limit %d not a multiple of %d", sampleLimit, game.DeckSize)
	}
	if ^uint64(0)-sampleLimit >= game.DeckSize {
		t.Fatal("sample limit is not the largest multiple")
	}
}

func TestCardAt(t *testing.T) {
	sig, err := SignDraw(mustKey(t, testSecret), []byte("r"), 0)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if CardAt(sig, 0) != NextCard(sig) {
		t.Fatal("CardAt(sig, 0) must equal NextCard(sig)")
	}
	for k := 0; k < 10; k++ {
		if c := CardAt(sig, k); !c.Valid() {
			t.Fatalf("CardAt(%d) = %d outside deck", k, c)
		}
		if CardAt(sig, k) != CardAt(sig, k) {
			t.Fatalf("CardAt(%d) not deterministic", k)
		}
	}
}
