package events

// WagerIntent é a aposta que o agente pede para o bridge de chat enviar em nome do trustee
type WagerIntent struct {
	IntentID  string `json:"intent_id"`
	RoundID   int64  `json:"round_id"`
	GroupID   string `json:"group_id"`
	AccountID string `json:"account_id"`
	Text      string `json:"text"` // ex: "big 10"
	Tier      string `json:"tier"`
	TsUnixMs  int64  `json:"ts_unix_ms"`
}
