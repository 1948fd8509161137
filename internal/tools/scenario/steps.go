package scenario

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/orchestrator"
)

const (
	stepGame            = "game"
	stepUse             = "use"
	stepDeal            = "deal"
	stepHit             = "hit"
	stepStand           = "stand"
	stepRerun           = "rerun"
	stepExpect          = "expect"
	stepExpectSettled   = "expect_settled"
	stepSponsorFailures = "sponsor_failures"
	stepDropResponses   = "drop_responses"
)

const defaultScenarioStake = 100_000_000

type assertFunc func(format string, args ...any) error

// gameRef tracks one named game across steps.
type gameRef struct {
	id          string
	lastKind    game.MoveKind
	lastInput   orchestrator.MoveInput
	lastOutcome orchestrator.Outcome
	before      uint64
	moved       bool
}

type state struct {
	env     *env
	games   map[string]*gameRef
	current string
}

func (s *state) currentGame() (*gameRef, error) {
	ref, ok := s.games[s.current]
	if !ok {
		return nil, fmt.Errorf("no game selected; call game{} first")
	}
	return ref, nil
}

func runStep(ctx context.Context, st *state, step Step, assert assertFunc) error {
	switch step.Kind {
	case stepGame:
		return runGame(st, step.Args)
	case stepUse:
		name, _ := argString(step.Args, "name")
		if _, ok := st.games[name]; !ok {
			return fmt.Errorf("unknown game %q", name)
		}
		st.current = name
		return nil
	case stepDeal:
		return runMove(ctx, st, game.MoveInitialDeal, step.Args, assert)
	case stepHit:
		return runMove(ctx, st, game.MoveHit, step.Args, assert)
	case stepStand:
		return runMove(ctx, st, game.MoveStand, step.Args, assert)
	case stepRerun:
		return runRerun(ctx, st, step.Args, assert)
	case stepExpect:
		return runExpect(ctx, st, step.Args, assert)
	case stepExpectSettled:
		return runExpectSettled(ctx, st, assert)
	case stepSponsorFailures:
		n, _ := argInt(step.Args, "count")
		st.env.relay.FailNext(n)
		return nil
	case stepDropResponses:
		n, _ := argInt(step.Args, "count")
		st.env.ledger.DropResponses(n)
		return nil
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

func runGame(st *state, args map[string]any) error {
	name, _ := argString(args, "name")
	if name == "" {
		name = fmt.Sprintf("game-%d", len(st.games)+1)
	}
	if _, exists := st.games[name]; exists {
		return fmt.Errorf("game %q already exists", name)
	}
	stake, ok := argInt(args, "stake")
	if !ok {
		stake = defaultScenarioStake
	}
	if stake <= 0 {
		return fmt.Errorf("stake must be positive")
	}
	randomness, _ := argString(args, "randomness")
	if randomness == "" {
		randomness = "randomness:" + name
	}
	id, err := st.env.ledger.CreateGame(st.env.player, []byte(randomness), uint64(stake), st.env.houseDataID)
	if err != nil {
		return fmt.Errorf("create game: %w", err)
	}
	st.games[name] = &gameRef{id: id}
	st.current = name
	return nil
}

func runMove(ctx context.Context, st *state, kind game.MoveKind, args map[string]any, assert assertFunc) error {
	ref, err := st.currentGame()
	if err != nil {
		return err
	}
	in := orchestrator.MoveInput{GameID: ref.id}

	noRequest, _ := argBool(args, "no_request")
	if kind.ConsumesRequest() && !noRequest {
		request := st.env.ledger.RequestStand
		if kind == game.MoveHit {
			request = st.env.ledger.RequestHit
		}
		requestID, digest, err := request(st.env.player, ref.id)
		if err != nil {
			return fmt.Errorf("player %s request: %w", kind, err)
		}
		in.PriorTxDigest = digest
		if direct, _ := argBool(args, "direct"); direct {
			in.RequestID = requestID
		}
	}
	if sum, ok := argInt(args, "player_sum"); ok {
		in.ExpectedPlayerSum = &sum
	}
	return execute(ctx, st, ref, kind, in, args, assert)
}

// runRerun replays the current game's last move with the same input.
func runRerun(ctx context.Context, st *state, args map[string]any, assert assertFunc) error {
	ref, err := st.currentGame()
	if err != nil {
		return err
	}
	if !ref.moved {
		return fmt.Errorf("nothing to rerun")
	}
	if _, set := args["already_applied"]; !set {
		args["already_applied"] = true
	}
	return execute(ctx, st, ref, ref.lastKind, ref.lastInput, args, assert)
}

func execute(ctx context.Context, st *state, ref *gameRef, kind game.MoveKind, in orchestrator.MoveInput, args map[string]any, assert assertFunc) error {
	before, err := st.env.dealer.Snapshot(ctx, ref.id)
	if err != nil {
		return fmt.Errorf("snapshot before %s: %w", kind, err)
	}
	out, moveErr := st.env.dealer.Move(ctx, kind, in)

	ref.lastKind = kind
	ref.lastInput = in
	ref.moved = true
	ref.before = before.Counter

	if want, ok := argString(args, "expect_error"); ok {
		if moveErr == nil {
			return assert("%s: expected error %s, got success", kind, want)
		}
		if got := apperrors.CodeOf(moveErr); string(got) != want {
			return assert("%s: error code = %s, want %s (%v)", kind, got, want, moveErr)
		}
		return nil
	}
	if moveErr != nil {
		return fmt.Errorf("%s: %w", kind, moveErr)
	}
	ref.lastOutcome = out
	if want, ok := argBool(args, "already_applied"); ok && out.AlreadyApplied != want {
		return assert("%s: already applied = %t, want %t", kind, out.AlreadyApplied, want)
	}
	return nil
}

func runExpect(ctx context.Context, st *state, args map[string]any, assert assertFunc) error {
	ref, err := st.currentGame()
	if err != nil {
		return err
	}
	g, err := st.env.dealer.Snapshot(ctx, ref.id)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	if want, ok := argInt(args, "counter"); ok && g.Counter != uint64(want) {
		if err := assert("counter = %d, want %d", g.Counter, want); err != nil {
			return err
		}
	}
	if want, ok := argInt(args, "counter_delta"); ok {
		if got := int(g.Counter) - int(ref.before); got != want {
			if err := assert("counter delta = %d, want %d", got, want); err != nil {
				return err
			}
		}
	}
	if want, ok := argString(args, "status"); ok {
		status, err := game.ParseStatus(want)
		if err != nil {
			return err
		}
		if g.Status != status {
			if err := assert("status = %s, want %s", g.Status, status); err != nil {
				return err
			}
		}
	}
	if want, ok := argInt(args, "player_cards"); ok && len(g.PlayerCards) != want {
		if err := assert("player cards = %d, want %d", len(g.PlayerCards), want); err != nil {
			return err
		}
	}
	if want, ok := argInt(args, "dealer_cards"); ok && len(g.DealerCards) != want {
		if err := assert("dealer cards = %d, want %d", len(g.DealerCards), want); err != nil {
			return err
		}
	}
	if raw, ok := args["legal"]; ok {
		want, err := parseActionSet(raw)
		if err != nil {
			return err
		}
		if got := game.LegalHouseActions(g); got != want {
			if err := assert("legal actions = %s, want %s", got, want); err != nil {
				return err
			}
		}
	}
	if want, ok := argInt(args, "sponsor_attempts"); ok && ref.lastOutcome.SponsorAttempts != want {
		if err := assert("sponsor attempts = %d, want %d", ref.lastOutcome.SponsorAttempts, want); err != nil {
			return err
		}
	}
	return nil
}

func runExpectSettled(ctx context.Context, st *state, assert assertFunc) error {
	ref, err := st.currentGame()
	if err != nil {
		return err
	}
	g, err := st.env.dealer.Snapshot(ctx, ref.id)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if !g.Status.Terminal() {
		return assert("status = %s, want a settled game", g.Status)
	}
	if actions := game.LegalHouseActions(g); !actions.Empty() {
		return assert("settled game still allows %s", actions)
	}
	if g.Counter != uint64(g.CardsDrawn()) {
		return assert("counter %d does not match %d cards drawn", g.Counter, g.CardsDrawn())
	}
	return nil
}

func parseActionSet(raw any) (game.ActionSet, error) {
	var names []string
	switch v := raw.(type) {
	case string:
		for name := range strings.SplitSeq(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	case []any:
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return 0, fmt.Errorf("legal actions must be strings")
			}
			names = append(names, name)
		}
	case map[string]any:
		if len(v) != 0 {
			return 0, fmt.Errorf("legal actions must be a list")
		}
	default:
		return 0, fmt.Errorf("legal actions must be a list")
	}
	kinds := make([]game.MoveKind, 0, len(names))
	for _, name := range names {
		kind, err := game.ParseMoveKind(name)
		if err != nil {
			return 0, err
		}
		kinds = append(kinds, kind)
	}
	return game.NewActionSet(kinds...), nil
}

func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func argInt(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func argBool(args map[string]any, key string) (bool, bool) {
	v, ok := args[key].(bool)
	return v, ok
}
