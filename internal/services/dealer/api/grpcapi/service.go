// Package grpcapi serves the house moves over gRPC.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated code; the field names match the HTTP trigger body.
package grpcapi

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/orchestrator"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dealer.v1.DealerService"

// Full method names.
const (
	MethodPerformInitialDeal = "/" + ServiceName + "/PerformInitialDeal"
	MethodRespondToHit       = "/" + ServiceName + "/RespondToHit"
	MethodRespondToStand     = "/" + ServiceName + "/RespondToStand"
	MethodGetGame            = "/" + ServiceName + "/GetGame"
)

// Request and reply field names.
const (
	FieldGameID          = "gameId"
	FieldRequestObjectID = "requestObjectId"
	FieldPriorTxDigest   = "priorTxDigest"
	FieldPlayerSum       = "playerSum"
	FieldMessage         = "message"
	FieldTxDigest        = "txDigest"
	FieldAlreadyApplied  = "alreadyApplied"
	FieldCounter         = "counter"
	FieldStatus          = "status"
	FieldDealerSum       = "dealerSum"
	FieldPlayerCards     = "playerCards"
	FieldDealerCards     = "dealerCards"
	FieldLegalActions    = "legalActions"
)

// DealerServer is the server API for dealer.v1.DealerService.
type DealerServer interface {
	PerformInitialDeal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RespondToHit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RespondToStand(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetGame(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(DealerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DealerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DealerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes dealer.v1.DealerService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DealerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PerformInitialDeal", Handler: unaryHandler(MethodPerformInitialDeal, DealerServer.PerformInitialDeal)},
		{MethodName: "RespondToHit", Handler: unaryHandler(MethodRespondToHit, DealerServer.RespondToHit)},
		{MethodName: "RespondToStand", Handler: unaryHandler(MethodRespondToStand, DealerServer.RespondToStand)},
		{MethodName: "GetGame", Handler: unaryHandler(MethodGetGame, DealerServer.GetGame)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dealer/v1/dealer.proto",
}

// RegisterDealerServer registers srv on s.
func RegisterDealerServer(s grpc.ServiceRegistrar, srv DealerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Dealer is what the service needs from the orchestrator.
type Dealer interface {
	Move(ctx context.Context, kind game.MoveKind, in orchestrator.MoveInput) (orchestrator.Outcome, error)
	Snapshot(ctx context.Context, gameID string) (game.Game, error)
}

// Server implements DealerServer on top of the orchestrator.
type Server struct {
	dealer Dealer
	logger *zap.Logger
}

// NewServer builds the service. logger may be nil.
func NewServer(dealer Dealer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{dealer: dealer, logger: logger}
}

// PerformInitialDeal implements DealerServer.
func (s *Server) PerformInitialDeal(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.move(ctx, game.MoveInitialDeal, in)
}

// RespondToHit implements DealerServer.
func (s *Server) RespondToHit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.move(ctx, game.MoveHit, in)
}

// RespondToStand implements DealerServer.
func (s *Server) RespondToStand(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.move(ctx, game.MoveStand, in)
}

// GetGame returns the current snapshot and the house's legal actions.
func (s *Server) GetGame(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	gameID := stringField(in, FieldGameID)
	if gameID == "" {
		return nil, apperrors.GRPCStatus(apperrors.New(apperrors.CodeGameIDEmpty, "game id is required"))
	}
	g, err := s.dealer.Snapshot(ctx, gameID)
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	out, err := structpb.NewStruct(gameFields(g))
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return out, nil
}

func (s *Server) move(ctx context.Context, kind game.MoveKind, in *structpb.Struct) (*structpb.Struct, error) {
	input := orchestrator.MoveInput{
		GameID:        stringField(in, FieldGameID),
		RequestID:     stringField(in, FieldRequestObjectID),
		PriorTxDigest: stringField(in, FieldPriorTxDigest),
	}
	if v, ok := in.GetFields()[FieldPlayerSum]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			sum := int(v.GetNumberValue())
			input.ExpectedPlayerSum = &sum
		}
	}

	out, err := s.dealer.Move(ctx, kind, input)
	if err != nil {
		s.logger.Info("grpc trigger failed",
			zap.String("game_id", input.GameID),
			zap.String("move", kind.String()),
			zap.Error(err),
		)
		return nil, apperrors.GRPCStatus(err)
	}

	message := kind.String() + " settled"
	if out.AlreadyApplied {
		message = kind.String() + " already applied"
	}
	fields := gameFields(out.Game)
	fields[FieldMessage] = message
	fields[FieldTxDigest] = out.TxDigest
	fields[FieldAlreadyApplied] = out.AlreadyApplied
	reply, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return reply, nil
}

func gameFields(g game.Game) map[string]any {
	actions := []any{}
	for _, k := range game.LegalHouseActions(g).Kinds() {
		actions = append(actions, k.String())
	}
	return map[string]any{
		FieldGameID:       g.ID,
		FieldCounter:      float64(g.Counter),
		FieldStatus:       g.Status.String(),
		FieldPlayerSum:    float64(g.PlayerSum),
		FieldDealerSum:    float64(g.DealerSum),
		FieldPlayerCards:  cardList(g.PlayerCards),
		FieldDealerCards:  cardList(g.DealerCards),
		FieldLegalActions: actions,
	}
}

func cardList(cards []game.CardIndex) []any {
	out := make([]any, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.String())
	}
	return out
}

func stringField(s *structpb.Struct, name string) string {
	return strings.TrimSpace(s.GetFields()[name].GetStringValue())
}
