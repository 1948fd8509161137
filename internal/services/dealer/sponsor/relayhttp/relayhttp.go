// Package relayhttp is a sponsor.Relay backed by a gas station's JSON-RPC
// endpoint.
package relayhttp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	rpc "github.com/louisbranch/housedealer/internal/platform/jsonrpc"
	"github.com/louisbranch/housedealer/internal/platform/timeouts"
	"github.com/louisbranch/housedealer/internal/services/dealer/sponsor"
)

// APIKeyHeader carries the relay credential.
const APIKeyHeader = "X-API-Key"

const methodSponsor = "gas_sponsorTransactionBlock"

// Client sponsors transactions over HTTP.
type Client struct {
	rpc *rpc.Client
}

// New builds a relay client. apiKey may be empty for unauthenticated
// relays; callTimeout zero uses timeouts.RelayCall.
func New(url, apiKey string, callTimeout time.Duration, opts ...rpc.Option) *Client {
	if callTimeout <= 0 {
		callTimeout = timeouts.RelayCall
	}
	base := []rpc.Option{rpc.WithTimeout(callTimeout)}
	if apiKey != "" {
		base = append(base, rpc.WithHeader(APIKeyHeader, apiKey))
	}
	return &Client{rpc: rpc.New(url, append(base, opts...)...)}
}

type sponsorOptions struct {
	GasPayment             string   `json:"gasPayment,omitempty"`
	AllowedMoveCallTargets []string `json:"allowedMoveCallTargets,omitempty"`
	AllowedAddresses       []string `json:"allowedAddresses,omitempty"`
}

// Sponsor implements sponsor.Relay.
func (c *Client) Sponsor(ctx context.Context, req sponsor.SponsorRequest) (sponsor.SponsoredTx, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(req.TxKind),
		req.Sender,
		fmt.Sprintf("%d", req.GasBudget),
		sponsorOptions{
			GasPayment:             req.FeeUnit,
			AllowedMoveCallTargets: req.AllowedMoveCallTargets,
			AllowedAddresses:       req.AllowedAddresses,
		},
	}
	result, err := c.rpc.Call(ctx, methodSponsor, params)
	if err != nil {
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) {
			return sponsor.SponsoredTx{}, fmt.Errorf("relay refused sponsorship: %w", err)
		}
		return sponsor.SponsoredTx{}, apperrors.Wrap(apperrors.CodeTransientNetwork, "relay call failed", err)
	}

	txBytes, err := base64.StdEncoding.DecodeString(result.Get("txBytes").String())
	if err != nil {
		return sponsor.SponsoredTx{}, fmt.Errorf("decode sponsored tx bytes: %w", err)
	}
	return sponsor.SponsoredTx{
		TxBytes:          txBytes,
		SponsorSignature: result.Get("signature").String(),
		Digest:           result.Get("txDigest").String(),
	}, nil
}

var _ sponsor.Relay = (*Client)(nil)
