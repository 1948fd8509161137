package ledger

import (
	"bytes"
	"crypto/ed25519"
	"testing"
)

func TestCallEncodingRoundTrip(t *testing.T) {
	call := Call{
		Package:  "0xpkg",
		Module:   "single_player_blackjack",
		Function: "do_hit",
		Args: []Arg{
			ObjectArg("0xgame"),
			BytesArg([]byte{1, 2, 3}),
			U64Arg(42),
		},
	}
	decoded, err := DecodeCall(EncodeCall(call))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Target() != "0xpkg::single_player_blackjack::do_hit" {
		t.Fatalf("target = %s", decoded.Target())
	}
	if len(decoded.Args) != 3 || decoded.Args[0].Object != "0xgame" || !bytes.Equal(decoded.Args[1].Pure, []byte{1, 2, 3}) {
		t.Fatalf("args = %+v", decoded.Args)
	}
	if v, err := decoded.Args[2].Uint64(); err != nil || v != 42 {
		t.Fatalf("u64 arg = %d, %v", v, err)
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	data := TransactionData{Kind: []byte("kind"), Sender: "0xa", GasOwner: "0xb", GasPayment: "0xc", GasBudget: 50_000_000}.Encode()
	if _, err := DecodeTransactionData(data[:len(data)-2]); err == nil {
		t.Fatal("expected truncated error")
	}
	if _, err := DecodeTransactionData(append(data, 0)); err == nil {
		t.Fatal("expected trailing bytes error")
	}
	if _, err := DecodeCall([]byte{0xff}); err == nil {
		t.Fatal("expected garbage call error")
	}
}

func TestSignatureVerifiesAndNamesSigner(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx := []byte("transaction bytes")
	sig := SignEd25519(priv, tx)

	addr, err := VerifySignature(sig, tx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if addr != AddressFromPublicKey(pub) {
		t.Fatalf("address = %s, want %s", addr, AddressFromPublicKey(pub))
	}
	if _, err := VerifySignature(sig, []byte("other bytes")); err == nil {
		t.Fatal("signature verified over different bytes")
	}
	if len(addr) != 66 {
		t.Fatalf("address length = %d, want 66", len(addr))
	}
}

func TestStructName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"0xpkg::single_player_blackjack::HitRequest", "HitRequest"},
		{"0x2::coin::Coin<0x2::sui::SUI>", "Coin"},
		{"HouseData", "HouseData"},
	}
	for _, tc := range cases {
		if got := StructName(tc.in); got != tc.want {
			t.Fatalf("StructName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
