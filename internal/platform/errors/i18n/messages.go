package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
const (
	CodeUnknown                = "UNKNOWN"
	CodeTransientNetwork       = "TRANSIENT_NETWORK"
	CodeSponsorshipExhausted   = "SPONSORSHIP_EXHAUSTED"
	CodeExecutionRejected      = "EXECUTION_REJECTED"
	CodeRequestNotFound        = "REQUEST_NOT_FOUND"
	CodeIllegalPhaseTransition = "ILLEGAL_PHASE_TRANSITION"
	CodeGameNotFound           = "GAME_NOT_FOUND"
	CodeSnapshotMalformed      = "SNAPSHOT_MALFORMED"
	CodeRequestMismatch        = "REQUEST_MISMATCH"
	CodeDrawKeyInvalid         = "DRAW_KEY_INVALID"
	CodeDrawAlreadyConsumed    = "DRAW_ALREADY_CONSUMED"
	CodeFinalityTimeout        = "FINALITY_TIMEOUT"
	CodeFeeUnitBusy            = "FEE_UNIT_BUSY"
	CodeGameIDEmpty            = "GAME_ID_EMPTY"
	CodeInvalidMoveKind        = "INVALID_MOVE_KIND"
	CodeTriggerForbidden       = "TRIGGER_FORBIDDEN"
)

var enUS = map[Code]string{
	CodeUnknown:                "internal error",
	CodeTransientNetwork:       "the ledger could not be reached, try again",
	CodeSponsorshipExhausted:   "transaction fees could not be sponsored",
	CodeExecutionRejected:      "the ledger rejected the transaction",
	CodeRequestNotFound:        "no pending player request for this game",
	CodeIllegalPhaseTransition: "{{.move}} is not allowed while the game is {{.status}}",
	CodeGameNotFound:           "game not found",
	CodeSnapshotMalformed:      "game state could not be read",
	CodeRequestMismatch:        "the player's hand changed since the request",
	CodeDrawKeyInvalid:         "the dealer key is not configured correctly",
	CodeDrawAlreadyConsumed:    "this draw was already used",
	CodeFinalityTimeout:        "the transaction was sent but is not final yet",
	CodeFeeUnitBusy:            "all fee units are busy, try again",
	CodeGameIDEmpty:            "game id is required",
	CodeInvalidMoveKind:        "unknown move",
	CodeTriggerForbidden:       "not allowed to trigger this game",
}

var ptBR = map[Code]string{
	CodeUnknown:                "erro interno",
	CodeTransientNetwork:       "não foi possível acessar o ledger, tente novamente",
	CodeSponsorshipExhausted:   "as taxas da transação não puderam ser patrocinadas",
	CodeExecutionRejected:      "o ledger rejeitou a transação",
	CodeRequestNotFound:        "nenhum pedido pendente do jogador para este jogo",
	CodeIllegalPhaseTransition: "{{.move}} não é permitido enquanto o jogo está {{.status}}",
	CodeGameNotFound:           "jogo não encontrado",
	CodeSnapshotMalformed:      "não foi possível ler o estado do jogo",
	CodeRequestMismatch:        "a mão do jogador mudou desde o pedido",
	CodeDrawKeyInvalid:         "a chave do dealer não está configurada corretamente",
	CodeDrawAlreadyConsumed:    "esta carta já foi usada",
	CodeFinalityTimeout:        "a transação foi enviada mas ainda não é final",
	CodeFeeUnitBusy:            "todas as unidades de taxa estão ocupadas, tente novamente",
	CodeGameIDEmpty:            "o id do jogo é obrigatório",
	CodeInvalidMoveKind:        "jogada desconhecida",
	CodeTriggerForbidden:       "sem permissão para acionar este jogo",
}
