package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/radieske/round-engine/internal/round-engine/ledger"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	seq            BIGINT PRIMARY KEY,
	id             UUID NOT NULL UNIQUE,
	account_id     TEXT NOT NULL,
	kind           TEXT NOT NULL CHECK (kind IN ('CREDIT','DEBIT')),
	amount         NUMERIC(20,4) NOT NULL,
	balance_before NUMERIC(20,4) NOT NULL,
	balance_after  NUMERIC(20,4) NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	operator       TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_transactions_account ON ledger_transactions (account_id, seq);

CREATE TABLE IF NOT EXISTS ledger_snapshots (
	id       BIGSERIAL PRIMARY KEY,
	last_seq BIGINT NOT NULL,
	taken_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_snapshot_accounts (
	snapshot_id   BIGINT NOT NULL REFERENCES ledger_snapshots(id) ON DELETE CASCADE,
	account_id    TEXT NOT NULL,
	balance       NUMERIC(20,4) NOT NULL,
	total_credits NUMERIC(20,4) NOT NULL,
	total_debits  NUMERIC(20,4) NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (snapshot_id, account_id)
);
`

// Postgres implementa ledger.Store sobre lib/pq
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// EnsureSchema cria as tabelas do ledger se ainda não existirem
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// Append grava a transação; só retorna depois do commit do INSERT
func (p *Postgres) Append(ctx context.Context, tx ledger.Transaction) error {
	const q = `
		INSERT INTO ledger_transactions
		  (seq, id, account_id, kind, amount, balance_before, balance_after, reason, operator, created_at)
		VALUES
		  ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`
	_, err := p.db.ExecContext(ctx, q,
		tx.Seq, tx.ID, tx.AccountID, string(tx.Kind),
		tx.Amount, tx.BalanceBefore, tx.BalanceAfter,
		tx.Reason, tx.Operator, tx.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert ledger transaction: %w", err)
	}
	return nil
}

// SaveSnapshot grava cabeçalho e saldos numa única transação
func (p *Postgres) SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	if err = tx.QueryRowContext(ctx,
		`INSERT INTO ledger_snapshots(last_seq, taken_at) VALUES($1,$2) RETURNING id`,
		snap.LastSeq, snap.TakenAt).Scan(&id); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	for _, a := range snap.Accounts {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_snapshot_accounts
			  (snapshot_id, account_id, balance, total_credits, total_debits, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			id, a.ID, a.Balance, a.TotalCredits, a.TotalDebits, a.CreatedAt, a.UpdatedAt); err != nil {
			return fmt.Errorf("insert snapshot account %s: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// Load lê o último snapshot e as transações com seq posterior
func (p *Postgres) Load(ctx context.Context) (*ledger.Snapshot, []ledger.Transaction, error) {
	var (
		snap   *ledger.Snapshot
		snapID int64
		s      ledger.Snapshot
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT id, last_seq, taken_at FROM ledger_snapshots ORDER BY id DESC LIMIT 1`).
		Scan(&snapID, &s.LastSeq, &s.TakenAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, nil, fmt.Errorf("select snapshot: %w", err)
	default:
		rows, err := p.db.QueryContext(ctx, `
			SELECT account_id, balance, total_credits, total_debits, created_at, updated_at
			FROM ledger_snapshot_accounts WHERE snapshot_id=$1 ORDER BY account_id`, snapID)
		if err != nil {
			return nil, nil, fmt.Errorf("select snapshot accounts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var a ledger.Account
			if err := rows.Scan(&a.ID, &a.Balance, &a.TotalCredits, &a.TotalDebits, &a.CreatedAt, &a.UpdatedAt); err != nil {
				return nil, nil, err
			}
			s.Accounts = append(s.Accounts, a)
		}
		if err := rows.Err(); err != nil {
			return nil, nil, err
		}
		snap = &s
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT seq, id, account_id, kind, amount, balance_before, balance_after, reason, operator, created_at
		FROM ledger_transactions WHERE seq > $1 ORDER BY seq`, s.LastSeq)
	if err != nil {
		return nil, nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var kind string
		if err := rows.Scan(&tx.Seq, &tx.ID, &tx.AccountID, &kind, &tx.Amount,
			&tx.BalanceBefore, &tx.BalanceAfter, &tx.Reason, &tx.Operator, &tx.Timestamp); err != nil {
			return nil, nil, err
		}
		tx.Kind = ledger.Kind(kind)
		txs = append(txs, tx)
	}
	return snap, txs, rows.Err()
}
