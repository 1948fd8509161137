package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
)

// MoveRequest is a client-side move trigger.
type MoveRequest struct {
	GameID          string
	RequestObjectID string
	PriorTxDigest   string
	PlayerSum       *int
}

// Reply is the decoded response of any DealerService method.
type Reply struct {
	Message        string
	TxDigest       string
	AlreadyApplied bool
	GameID         string
	Counter        uint64
	Status         string
	PlayerSum      int
	DealerSum      int
	PlayerCards    []string
	DealerCards    []string
	LegalActions   []string
}

// Client calls dealer.v1.DealerService.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Move triggers kind for req.GameID.
func (c *Client) Move(ctx context.Context, kind game.MoveKind, req MoveRequest) (Reply, error) {
	var method string
	switch kind {
	case game.MoveInitialDeal:
		method = MethodPerformInitialDeal
	case game.MoveHit:
		method = MethodRespondToHit
	case game.MoveStand:
		method = MethodRespondToStand
	default:
		return Reply{}, apperrors.New(apperrors.CodeInvalidMoveKind, "unknown move kind "+kind.String())
	}
	fields := map[string]any{FieldGameID: req.GameID}
	if req.RequestObjectID != "" {
		fields[FieldRequestObjectID] = req.RequestObjectID
	}
	if req.PriorTxDigest != "" {
		fields[FieldPriorTxDigest] = req.PriorTxDigest
	}
	if req.PlayerSum != nil {
		fields[FieldPlayerSum] = float64(*req.PlayerSum)
	}
	return c.invoke(ctx, method, fields)
}

// GetGame reads a game snapshot.
func (c *Client) GetGame(ctx context.Context, gameID string) (Reply, error) {
	return c.invoke(ctx, MethodGetGame, map[string]any{FieldGameID: gameID})
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (Reply, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return Reply{}, fmt.Errorf("build request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return Reply{}, FromStatus(err)
	}
	return decodeReply(out), nil
}

func decodeReply(s *structpb.Struct) Reply {
	f := s.GetFields()
	return Reply{
		Message:        f[FieldMessage].GetStringValue(),
		TxDigest:       f[FieldTxDigest].GetStringValue(),
		AlreadyApplied: f[FieldAlreadyApplied].GetBoolValue(),
		GameID:         f[FieldGameID].GetStringValue(),
		Counter:        uint64(f[FieldCounter].GetNumberValue()),
		Status:         f[FieldStatus].GetStringValue(),
		PlayerSum:      int(f[FieldPlayerSum].GetNumberValue()),
		DealerSum:      int(f[FieldDealerSum].GetNumberValue()),
		PlayerCards:    stringList(f[FieldPlayerCards]),
		DealerCards:    stringList(f[FieldDealerCards]),
		LegalActions:   stringList(f[FieldLegalActions]),
	}
}

func stringList(v *structpb.Value) []string {
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}

// FromStatus turns a gRPC status carrying dealer ErrorInfo back into a
// domain error. Other errors are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != apperrors.Domain {
			continue
		}
		return apperrors.WithMetadata(apperrors.Code(info.GetReason()), st.Message(), info.GetMetadata())
	}
	return err
}
