// Package httpapi exposes the house moves as HTTP triggers.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/platform/httpx"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/observability"
	"github.com/louisbranch/housedealer/internal/services/dealer/orchestrator"
)

// maxBodyBytes bounds trigger request bodies.
const maxBodyBytes = 16 << 10

// Mover performs a house move. *orchestrator.Dealer implements it.
type Mover interface {
	Move(ctx context.Context, kind game.MoveKind, in orchestrator.MoveInput) (orchestrator.Outcome, error)
}

// Options configures the handler.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Auth, when set, requires a bearer token on move triggers.
	Auth *TriggerAuth
	// Ready backs /healthz. Nil reports healthy.
	Ready func(context.Context) error
}

// MoveRequest is the optional trigger body.
type MoveRequest struct {
	RequestObjectID string `json:"requestObjectId,omitempty"`
	PriorTxDigest   string `json:"priorTxDigest,omitempty"`
	PlayerSum       *int   `json:"playerSum,omitempty"`
}

// MoveResponse is returned when a move settled.
type MoveResponse struct {
	Message        string `json:"message"`
	TxDigest       string `json:"txDigest"`
	AlreadyApplied bool   `json:"alreadyApplied,omitempty"`
	Counter        uint64 `json:"counter"`
	Status         string `json:"status"`
	PlayerSum      int    `json:"playerSum"`
	DealerSum      int    `json:"dealerSum"`
}

type handler struct {
	mover  Mover
	opts   Options
	logger *zap.Logger
}

// NewHandler returns the dealer HTTP surface:
//
//	POST /v1/games/{gameID}/{deal|hit|stand}
//	GET  /healthz
//	GET  /metrics
func NewHandler(mover Mover, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{mover: mover, opts: opts, logger: logger}

	mux := http.NewServeMux()
	mux.Handle("/v1/games/{gameID}/{move}", httpx.RequireMethod(http.MethodPost)(http.HandlerFunc(h.handleMove)))
	mux.Handle("/healthz", httpx.RequireMethod(http.MethodGet)(http.HandlerFunc(h.handleHealth)))
	if opts.Metrics != nil {
		mux.Handle("/metrics", httpx.RequireMethod(http.MethodGet)(opts.Metrics.Handler()))
	}
	return httpx.Chain(mux, httpx.RequestID("dealer"), httpx.RecoverPanic(logger))
}

func (h *handler) handleMove(w http.ResponseWriter, r *http.Request) {
	gameID := strings.TrimSpace(r.PathValue("gameID"))
	kind, err := game.ParseMoveKind(r.PathValue("move"))
	if err != nil {
		_ = httpx.WriteError(w, r, apperrors.Wrap(apperrors.CodeInvalidMoveKind, "unknown move", err))
		return
	}
	if err := h.opts.Auth.Authorize(r, gameID); err != nil {
		_ = httpx.WriteError(w, r, err)
		return
	}

	var body MoveRequest
	if err := decodeBody(r, &body); err != nil {
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	out, err := h.mover.Move(r.Context(), kind, orchestrator.MoveInput{
		GameID:            gameID,
		ExpectedPlayerSum: body.PlayerSum,
		RequestID:         strings.TrimSpace(body.RequestObjectID),
		PriorTxDigest:     strings.TrimSpace(body.PriorTxDigest),
	})
	if err != nil {
		h.logger.Info("trigger failed",
			zap.String("game_id", gameID),
			zap.String("move", kind.String()),
			zap.String("request_id", r.Header.Get(httpx.RequestIDHeader)),
			zap.Error(err),
		)
		_ = httpx.WriteError(w, r, err)
		return
	}

	message := kind.String() + " settled"
	if out.AlreadyApplied {
		message = kind.String() + " already applied"
	}
	_ = httpx.WriteJSON(w, http.StatusOK, MoveResponse{
		Message:        message,
		TxDigest:       out.TxDigest,
		AlreadyApplied: out.AlreadyApplied,
		Counter:        out.Game.Counter,
		Status:         out.Game.Status.String(),
		PlayerSum:      out.Game.PlayerSum,
		DealerSum:      out.Game.DealerSum,
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		if err := h.opts.Ready(r.Context()); err != nil {
			_ = httpx.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody accepts an empty body.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
