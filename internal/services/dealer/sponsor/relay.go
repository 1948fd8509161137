package sponsor

import "context"

// SponsorRequest asks the relay to pay for a transaction kind.
type SponsorRequest struct {
	TxKind    []byte
	Sender    string
	GasBudget uint64
	// FeeUnit is the gas object the sponsor should pay with. Empty lets
	// the relay choose.
	FeeUnit string
	// AllowedMoveCallTargets and AllowedAddresses constrain what the
	// sponsor agrees to authorize.
	AllowedMoveCallTargets []string
	AllowedAddresses       []string
}

// SponsoredTx is the relay's answer: full transaction bytes and the
// sponsor's signature over them.
type SponsoredTx struct {
	TxBytes          []byte
	SponsorSignature string
	Digest           string
}

// Relay is the third-party fee sponsorship service.
type Relay interface {
	Sponsor(ctx context.Context, req SponsorRequest) (SponsoredTx, error)
}
