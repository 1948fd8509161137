// Package timeouts defines shared timeout constants used across the dealer.
// Every network call made by the engine is bounded by one of these values
// unless configuration overrides it.
package timeouts

import "time"

// LedgerCall caps a single read or submit round-trip to the ledger node.
const LedgerCall = 10 * time.Second

// Finality caps how long a submission waits for the ledger to report a
// terminal execution result.
const Finality = 10 * time.Second

// RelayCall caps a single sponsorship request to the fee relay.
const RelayCall = 10 * time.Second

// Confirmation caps the post-submission snapshot polling.
const Confirmation = 15 * time.Second

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// GRPCRequest caps the time allowed for a single dealerctl request.
const GRPCRequest = 45 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
