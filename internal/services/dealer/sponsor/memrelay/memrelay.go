// Package memrelay is an in-process fee sponsor used by tests and
// scenarios. It behaves like a gas station: it validates the call, checks
// allow-lists, refuses to double-spend a fee unit and signs as the gas
// owner.
package memrelay

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
	"github.com/louisbranch/housedealer/internal/services/dealer/sponsor"
)

// DefaultLeaseTTL is how long a fee unit stays reserved for a sponsored
// transaction that never lands.
const DefaultLeaseTTL = 30 * time.Second

// TxLookup reports whether a digest has been executed. memledger.Ledger
// satisfies it.
type TxLookup interface {
	Executed(digest string) bool
}

// Options configures a Relay.
type Options struct {
	// Key signs as the sponsor. A fresh key is generated when nil.
	Key ed25519.PrivateKey
	// DefaultFeeUnit pays for requests that do not name one.
	DefaultFeeUnit string
	// Targets restricts which calls the relay sponsors at all. Empty
	// allows any target.
	Targets []string
	// Ledger frees fee units once their transaction executes. Without it
	// units are only freed by LeaseTTL.
	Ledger   TxLookup
	LeaseTTL time.Duration
	Now      func() time.Time
}

type lease struct {
	digest  string
	expires time.Time
}

// Relay implements sponsor.Relay in memory.
type Relay struct {
	opts    Options
	address string

	mu       sync.Mutex
	failNext int
	calls    int
	leases   map[string]lease
}

// New builds a relay.
func New(opts Options) (*Relay, error) {
	if opts.Key == nil {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate sponsor key: %w", err)
		}
		opts.Key = priv
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Relay{
		opts:    opts,
		address: ledger.AddressFromPublicKey(opts.Key.Public().(ed25519.PublicKey)),
		leases:  map[string]lease{},
	}, nil
}

// Address is the sponsor's address, the owner of the fee units it pays
// with.
func (r *Relay) Address() string {
	return r.address
}

// FailNext makes the next n calls fail as if the relay were unreachable.
func (r *Relay) FailNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = n
}

// Calls returns how many sponsorship requests were received.
func (r *Relay) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Sponsor implements sponsor.Relay.
func (r *Relay) Sponsor(ctx context.Context, req sponsor.SponsorRequest) (sponsor.SponsoredTx, error) {
	if err := ctx.Err(); err != nil {
		return sponsor.SponsoredTx{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++

	if r.failNext > 0 {
		r.failNext--
		return sponsor.SponsoredTx{}, apperrors.New(apperrors.CodeTransientNetwork, "relay unavailable")
	}

	call, err := ledger.DecodeCall(req.TxKind)
	if err != nil {
		return sponsor.SponsoredTx{}, fmt.Errorf("invalid transaction kind: %w", err)
	}
	target := call.Target()
	if len(r.opts.Targets) > 0 && !slices.Contains(r.opts.Targets, target) {
		return sponsor.SponsoredTx{}, fmt.Errorf("target %s is not sponsored", target)
	}
	if len(req.AllowedMoveCallTargets) > 0 && !slices.Contains(req.AllowedMoveCallTargets, target) {
		return sponsor.SponsoredTx{}, fmt.Errorf("target %s outside allowed move call targets", target)
	}
	if len(req.AllowedAddresses) > 0 && !slices.Contains(req.AllowedAddresses, req.Sender) {
		return sponsor.SponsoredTx{}, fmt.Errorf("sender %s outside allowed addresses", req.Sender)
	}
	if req.Sender == "" {
		return sponsor.SponsoredTx{}, errors.New("sender is required")
	}

	unit := req.FeeUnit
	if unit == "" {
		unit = r.opts.DefaultFeeUnit
	}
	data := ledger.TransactionData{
		Kind:       req.TxKind,
		Sender:     req.Sender,
		GasOwner:   r.address,
		GasPayment: unit,
		GasBudget:  req.GasBudget,
	}
	txBytes := data.Encode()
	digest := ledger.TransactionDigest(txBytes)
	now := r.opts.Now()
	if unit != "" {
		if held, ok := r.leases[unit]; ok && held.digest != digest && !r.released(held, now) {
			return sponsor.SponsoredTx{}, apperrors.WithMetadata(
				apperrors.CodeFeeUnitBusy,
				"fee unit is in use by another transaction",
				map[string]string{"fee_unit": unit, "digest": held.digest},
			)
		}
		r.leases[unit] = lease{digest: digest, expires: now.Add(r.opts.LeaseTTL)}
	}
	return sponsor.SponsoredTx{
		TxBytes:          txBytes,
		SponsorSignature: ledger.SignEd25519(r.opts.Key, txBytes),
		Digest:           digest,
	}, nil
}

func (r *Relay) released(held lease, now time.Time) bool {
	if !now.Before(held.expires) {
		return true
	}
	return r.opts.Ledger != nil && r.opts.Ledger.Executed(held.digest)
}

var _ sponsor.Relay = (*Relay)(nil)
