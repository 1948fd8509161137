package grpcapi

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	platformgrpc "github.com/louisbranch/housedealer/internal/platform/grpc"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/orchestrator"
)

type fakeDealer struct {
	kind  game.MoveKind
	input orchestrator.MoveInput
	out   orchestrator.Outcome
	game  game.Game
	err   error
}

func (f *fakeDealer) Move(_ context.Context, kind game.MoveKind, in orchestrator.MoveInput) (orchestrator.Outcome, error) {
	f.kind = kind
	f.input = in
	return f.out, f.err
}

func (f *fakeDealer) Snapshot(_ context.Context, gameID string) (game.Game, error) {
	if f.err != nil {
		return game.Game{}, f.err
	}
	g := f.game
	g.ID = gameID
	return g, nil
}

func startServer(t *testing.T, dealer Dealer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server, _ := platformgrpc.NewServer()
	RegisterDealerServer(server, NewServer(dealer, nil))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestMoveRoundTrip(t *testing.T) {
	dealer := &fakeDealer{out: orchestrator.Outcome{
		TxDigest: "digest-7",
		Game: game.Game{
			ID:          "g1",
			Counter:     4,
			Status:      game.StatusInProgress,
			PlayerCards: []game.CardIndex{0, 12, 25},
			DealerCards: []game.CardIndex{40},
			PlayerSum:   14,
		},
	}}
	client := startServer(t, dealer)

	sum := 11
	reply, err := client.Move(context.Background(), game.MoveHit, MoveRequest{
		GameID:          "g1",
		RequestObjectID: "0xreq",
		PriorTxDigest:   "tx-1",
		PlayerSum:       &sum,
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if dealer.kind != game.MoveHit {
		t.Fatalf("kind = %s, want hit", dealer.kind)
	}
	in := dealer.input
	if in.GameID != "g1" || in.RequestID != "0xreq" || in.PriorTxDigest != "tx-1" || in.ExpectedPlayerSum == nil || *in.ExpectedPlayerSum != 11 {
		t.Fatalf("input = %+v", in)
	}
	if reply.TxDigest != "digest-7" || reply.Counter != 4 || reply.Message != "hit settled" {
		t.Fatalf("reply = %+v", reply)
	}
	if len(reply.PlayerCards) != 3 || len(reply.DealerCards) != 1 {
		t.Fatalf("cards = %v / %v", reply.PlayerCards, reply.DealerCards)
	}
}

func TestDomainErrorsSurviveTheWire(t *testing.T) {
	dealer := &fakeDealer{err: apperrors.WithMetadata(
		apperrors.CodeIllegalPhaseTransition,
		"game already settled",
		map[string]string{"game_id": "g1"},
	)}
	client := startServer(t, dealer)

	_, err := client.Move(context.Background(), game.MoveStand, MoveRequest{GameID: "g1"})
	if !apperrors.HasCode(err, apperrors.CodeIllegalPhaseTransition) {
		t.Fatalf("err = %v, want ILLEGAL_PHASE_TRANSITION", err)
	}
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) || domainErr.Metadata["game_id"] != "g1" {
		t.Fatalf("metadata lost: %v", err)
	}
}

func TestGetGameReportsLegalActions(t *testing.T) {
	dealer := &fakeDealer{game: game.Game{Status: game.StatusCreated}}
	client := startServer(t, dealer)

	reply, err := client.GetGame(context.Background(), "g9")
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if reply.GameID != "g9" || reply.Status != game.StatusCreated.String() {
		t.Fatalf("reply = %+v", reply)
	}
	if len(reply.LegalActions) != 1 || reply.LegalActions[0] != "deal" {
		t.Fatalf("legal actions = %v, want [deal]", reply.LegalActions)
	}
}

func TestGetGameRequiresID(t *testing.T) {
	client := startServer(t, &fakeDealer{})
	_, err := client.GetGame(context.Background(), "")
	if !apperrors.HasCode(err, apperrors.CodeGameIDEmpty) {
		t.Fatalf("err = %v, want GAME_ID_EMPTY", err)
	}
}

func TestFromStatusLeavesForeignErrors(t *testing.T) {
	plain := status.Error(codes.Unavailable, "down")
	if got := FromStatus(plain); got != plain {
		t.Fatalf("FromStatus changed a foreign status: %v", got)
	}
}

func TestClientRejectsUnknownKind(t *testing.T) {
	client := NewClient(nil)
	_, err := client.Move(context.Background(), game.MoveKind(9), MoveRequest{GameID: "g1"})
	if !apperrors.HasCode(err, apperrors.CodeInvalidMoveKind) {
		t.Fatalf("err = %v, want INVALID_MOVE_KIND", err)
	}
}
