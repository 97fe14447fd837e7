package events

import "time"

// Evento publicado no tópico "round_events" e no feed WebSocket a cada transição de fase
type RoundPhase struct {
	Kind          string    `json:"kind"` // "warn" | "seal" | "check" | "stuck" | "reopen"
	RoundID       int64     `json:"round_id"`
	Offset        int64     `json:"offset_sec,omitempty"`      // offset configurado do aviso
	SecondsToSeal int64     `json:"seconds_to_seal,omitempty"` // apenas em "warn"
	SinceSealMs   int64     `json:"since_seal_ms,omitempty"`   // apenas em "check" | "stuck"
	Late          bool      `json:"late,omitempty"`            // disparado fora da janela (tick atrasado)
	Ts            time.Time `json:"ts"`
}
