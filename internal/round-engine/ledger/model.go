package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindCredit Kind = "CREDIT"
	KindDebit  Kind = "DEBIT"
)

// Transaction é um registro imutável do log. Seq é contínuo e crescente no ledger inteiro.
type Transaction struct {
	Seq           int64           `json:"seq"`
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	Kind          Kind            `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reason        string          `json:"reason"`
	Operator      string          `json:"operator,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

type Account struct {
	ID           string          `json:"id"`
	Balance      decimal.Decimal `json:"balance"`
	TotalCredits decimal.Decimal `json:"total_credits"`
	TotalDebits  decimal.Decimal `json:"total_debits"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Snapshot guarda os saldos até LastSeq; o restante vem do replay do log
type Snapshot struct {
	TakenAt  time.Time
	LastSeq  int64
	Accounts []Account
}

// DebitResult carrega o resultado de negócio do débito (saldo insuficiente não é exceção)
type DebitResult struct {
	OK      bool
	Balance decimal.Decimal
	Err     error
}

// Store é a fronteira de persistência: log append-only mais snapshots periódicos
type Store interface {
	// Append precisa ser durável antes de retornar nil
	Append(ctx context.Context, tx Transaction) error
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// Load retorna o último snapshot (nil se nenhum) e as transações posteriores, em ordem de Seq
	Load(ctx context.Context) (*Snapshot, []Transaction, error)
}
