package dto

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/round-engine/pkg/contracts/events"
)

type RoundResponse struct {
	RoundID          int64              `json:"round_id"`
	Phase            string             `json:"phase"`
	CountdownSeconds int64              `json:"countdown_seconds"`
	SecondsToSeal    int64              `json:"seconds_to_seal"`
	LastResult       *events.DrawResult `json:"last_result,omitempty"`
}

type AccountResponse struct {
	AccountID    string           `json:"account_id"`
	Balance      decimal.Decimal  `json:"balance"`
	TotalCredits *decimal.Decimal `json:"total_credits,omitempty"`
	TotalDebits  *decimal.Decimal `json:"total_debits,omitempty"`
}

type BalanceResponse struct {
	AccountID string          `json:"account_id"`
	OK        bool            `json:"ok"`
	Balance   decimal.Decimal `json:"balance"`
	Error     string          `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
