// Package dealerctl is a command-line client for the dealer gRPC service.
package dealerctl

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	entrypoint "github.com/louisbranch/housedealer/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/housedealer/internal/platform/grpc"
	"github.com/louisbranch/housedealer/internal/platform/timeouts"
	"github.com/louisbranch/housedealer/internal/services/dealer/api/grpcapi"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
)

const commandGame = "game"

// Config holds dealerctl configuration.
type Config struct {
	Addr        string        `env:"CTL_ADDR"         envDefault:"localhost:8081"`
	DialTimeout time.Duration `env:"CTL_DIAL_TIMEOUT" envDefault:"2s"`
	Timeout     time.Duration `env:"CTL_TIMEOUT"      envDefault:"45s"`

	Command         string
	GameID          string
	RequestObjectID string
	PriorTxDigest   string
	// PlayerSum is negative when unset.
	PlayerSum int
}

// ParseConfig parses environment and flags. The positional arguments are
// the command (deal, hit, stand or game) and the game id.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{PlayerSum: -1}
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The dealer gRPC address")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "gRPC dial timeout")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Request timeout")
	fs.StringVar(&cfg.RequestObjectID, "request-id", "", "Request object id, skipping the search")
	fs.StringVar(&cfg.PriorTxDigest, "prior-tx", "", "Digest of the player's request transaction")
	fs.IntVar(&cfg.PlayerSum, "player-sum", cfg.PlayerSum, "Player sum the request was made at")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return Config{}, errors.New("usage: dealerctl [flags] <deal|hit|stand|game> <game-id>")
	}
	cfg.Command = strings.ToLower(rest[0])
	cfg.GameID = rest[1]
	return cfg, nil
}

// Caller is the subset of the gRPC client dealerctl uses.
type Caller interface {
	Move(ctx context.Context, kind game.MoveKind, req grpcapi.MoveRequest) (grpcapi.Reply, error)
	GetGame(ctx context.Context, gameID string) (grpcapi.Reply, error)
}

// Run dials the dealer and executes the command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDealerCtl, func(ctx context.Context, logger *zap.Logger) error {
		dialTimeout := cfg.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = timeouts.GRPCDial
		}
		conn, err := platformgrpc.DialWithHealth(ctx, nil, cfg.Addr, dialTimeout, logger, platformgrpc.DefaultClientDialOptions()...)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		return Execute(ctx, grpcapi.NewClient(conn), cfg, out)
	})
}

// Execute runs one command against caller and prints the reply as JSON.
func Execute(ctx context.Context, caller Caller, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = timeouts.GRPCRequest
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		reply grpcapi.Reply
		err   error
	)
	if cfg.Command == commandGame {
		reply, err = caller.GetGame(ctx, cfg.GameID)
	} else {
		kind, parseErr := game.ParseMoveKind(cfg.Command)
		if parseErr != nil {
			return parseErr
		}
		req := grpcapi.MoveRequest{
			GameID:          cfg.GameID,
			RequestObjectID: cfg.RequestObjectID,
			PriorTxDigest:   cfg.PriorTxDigest,
		}
		if cfg.PlayerSum >= 0 {
			sum := cfg.PlayerSum
			req.PlayerSum = &sum
		}
		reply, err = caller.Move(ctx, kind, req)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", cfg.Command, cfg.GameID, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(reply)
}
