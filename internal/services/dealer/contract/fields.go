package contract

// UID renders a Move UID field.
type UID struct {
	ID string `json:"id"`
}

// GameFields is the JSON rendering of the Game struct. u64 values are
// rendered as strings and vector<u8> as arrays of numbers.
type GameFields struct {
	ID             UID    `json:"id"`
	Player         string `json:"player"`
	UserRandomness []int  `json:"user_randomness"`
	Counter        uint64 `json:"counter,string"`
	PlayerCards    []int  `json:"player_cards"`
	DealerCards    []int  `json:"dealer_cards"`
	PlayerSum      uint64 `json:"player_sum,string"`
	DealerSum      uint64 `json:"dealer_sum,string"`
	Status         uint8  `json:"status"`
	TotalStake     uint64 `json:"total_stake,string"`
}

// RequestFields is the rendering of HitRequest and StandRequest.
type RequestFields struct {
	ID                   UID    `json:"id"`
	GameID               string `json:"game_id"`
	CurrentPlayerHandSum uint64 `json:"current_player_hand_sum,string"`
}

// HouseDataFields is the rendering of HouseData.
type HouseDataFields struct {
	ID        UID    `json:"id"`
	Balance   uint64 `json:"balance,string"`
	House     string `json:"house"`
	PublicKey []int  `json:"public_key"`
}

// RequestEvent is emitted when a player creates a hit or stand request.
type RequestEvent struct {
	GameID               string `json:"game_id"`
	RequestID            string `json:"request_id"`
	CurrentPlayerHandSum uint64 `json:"current_player_hand_sum,string"`
}

// GameCreatedEvent is emitted when a player opens a game.
type GameCreatedEvent struct {
	GameID     string `json:"game_id"`
	Player     string `json:"player"`
	TotalStake uint64 `json:"total_stake,string"`
}

// GameOutcomeEvent is emitted when a game settles.
type GameOutcomeEvent struct {
	GameID    string `json:"game_id"`
	Status    uint8  `json:"status"`
	PlayerSum uint64 `json:"player_sum,string"`
	DealerSum uint64 `json:"dealer_sum,string"`
}

// ByteArray renders bytes the way vector<u8> is rendered.
func ByteArray(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
