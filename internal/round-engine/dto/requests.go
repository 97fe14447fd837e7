package dto

import "github.com/radieske/round-engine/pkg/contracts/events"

// AmountRequest é o corpo de crédito/débito manual. Amount em string decimal ("12.50").
type AmountRequest struct {
	Amount        string `json:"amount"`
	Reason        string `json:"reason"`
	Operator      string `json:"operator,omitempty"`
	AllowNegative bool   `json:"allow_negative,omitempty"` // só débito
}

type TrusteeRequest struct {
	AccountID      string `json:"account_id"`
	GroupID        string `json:"group_id"`
	CustomTemplate string `json:"custom_template,omitempty"`
}

type SettleRequest struct {
	RoundID int64           `json:"round_id"`
	Payouts []events.Payout `json:"payouts"`
}
