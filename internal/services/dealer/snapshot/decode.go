package snapshot

import (
	"fmt"

	"github.com/tidwall/gjson"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/services/dealer/contract"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
)

func malformed(obj ledger.Object, format string, args ...any) error {
	return apperrors.WithMetadata(
		apperrors.CodeSnapshotMalformed,
		fmt.Sprintf(format, args...),
		map[string]string{"object_id": obj.ID, "type": obj.Type},
	)
}

// requireFields checks that every path exists in the object fields.
func requireFields(obj ledger.Object, fields gjson.Result, paths ...string) error {
	for _, p := range paths {
		if !fields.Get(p).Exists() {
			return malformed(obj, "field %s missing", p)
		}
	}
	return nil
}

// DecodeGame decodes a Game object.
func DecodeGame(obj ledger.Object) (game.Game, error) {
	if obj.TypeName() != contract.TypeGame {
		return game.Game{}, malformed(obj, "object is a %s, not a game", obj.TypeName())
	}
	if !gjson.ValidBytes(obj.Fields) {
		return game.Game{}, malformed(obj, "fields are not valid JSON")
	}
	fields := gjson.ParseBytes(obj.Fields)
	if err := requireFields(obj, fields, "player", "user_randomness", "counter", "status"); err != nil {
		return game.Game{}, err
	}

	randomness, err := byteVector(fields.Get("user_randomness"))
	if err != nil {
		return game.Game{}, malformed(obj, "user_randomness: %v", err)
	}
	playerCards, err := cardVector(fields.Get("player_cards"))
	if err != nil {
		return game.Game{}, malformed(obj, "player_cards: %v", err)
	}
	dealerCards, err := cardVector(fields.Get("dealer_cards"))
	if err != nil {
		return game.Game{}, malformed(obj, "dealer_cards: %v", err)
	}
	status := game.Status(fields.Get("status").Uint())
	if !status.Valid() {
		return game.Game{}, malformed(obj, "unknown status %s", fields.Get("status").Raw)
	}

	id := fields.Get("id.id").String()
	if id == "" {
		id = obj.ID
	}
	return game.Game{
		ID:             id,
		Player:         fields.Get("player").String(),
		UserRandomness: randomness,
		Counter:        fields.Get("counter").Uint(),
		PlayerCards:    playerCards,
		DealerCards:    dealerCards,
		PlayerSum:      int(fields.Get("player_sum").Int()),
		DealerSum:      int(fields.Get("dealer_sum").Int()),
		Status:         status,
		TotalStake:     fields.Get("total_stake").Uint(),
	}, nil
}

// DecodeRequest decodes a HitRequest or StandRequest object.
func DecodeRequest(obj ledger.Object) (game.MoveRequest, error) {
	var kind game.MoveKind
	switch obj.TypeName() {
	case contract.TypeHitRequest:
		kind = game.MoveHit
	case contract.TypeStandRequest:
		kind = game.MoveStand
	default:
		return game.MoveRequest{}, malformed(obj, "object is a %s, not a move request", obj.TypeName())
	}
	fields := gjson.ParseBytes(obj.Fields)
	if err := requireFields(obj, fields, "game_id", "current_player_hand_sum"); err != nil {
		return game.MoveRequest{}, err
	}
	return game.MoveRequest{
		ID:               obj.ID,
		GameID:           fields.Get("game_id").String(),
		CurrentPlayerSum: int(fields.Get("current_player_hand_sum").Int()),
		Kind:             kind,
	}, nil
}

// DecodeHouseData decodes the house treasury object.
func DecodeHouseData(obj ledger.Object) (game.HouseData, error) {
	if obj.TypeName() != contract.TypeHouseData {
		return game.HouseData{}, malformed(obj, "object is a %s, not house data", obj.TypeName())
	}
	fields := gjson.ParseBytes(obj.Fields)
	if err := requireFields(obj, fields, "house", "public_key"); err != nil {
		return game.HouseData{}, err
	}
	pub, err := byteVector(fields.Get("public_key"))
	if err != nil {
		return game.HouseData{}, malformed(obj, "public_key: %v", err)
	}
	return game.HouseData{
		ID:        obj.ID,
		Balance:   fields.Get("balance").Uint(),
		Address:   fields.Get("house").String(),
		PublicKey: pub,
	}, nil
}

func byteVector(v gjson.Result) ([]byte, error) {
	if !v.IsArray() {
		return nil, fmt.Errorf("expected array, got %s", v.Type)
	}
	items := v.Array()
	out := make([]byte, len(items))
	for i, item := range items {
		n := item.Uint()
		if (item.Type != gjson.Number && item.Type != gjson.String) || n > 0xff {
			return nil, fmt.Errorf("element %d is not a byte", i)
		}
		out[i] = byte(n)
	}
	return out, nil
}

// cardVector decodes a hand. A missing or null vector is an empty hand.
func cardVector(v gjson.Result) ([]game.CardIndex, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	raw, err := byteVector(v)
	if err != nil {
		return nil, err
	}
	cards := make([]game.CardIndex, len(raw))
	for i, b := range raw {
		c := game.CardIndex(b)
		if !c.Valid() {
			return nil, fmt.Errorf("card %d out of deck", b)
		}
		cards[i] = c
	}
	return cards, nil
}
