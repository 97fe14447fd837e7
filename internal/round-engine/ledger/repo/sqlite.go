package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/round-engine/internal/round-engine/ledger"
)

// Valores decimais ficam em TEXT e instantes em milissegundos UTC
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	seq            INTEGER PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	account_id     TEXT NOT NULL,
	kind           TEXT NOT NULL CHECK (kind IN ('CREDIT','DEBIT')),
	amount         TEXT NOT NULL,
	balance_before TEXT NOT NULL,
	balance_after  TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	operator       TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_transactions_account ON ledger_transactions (account_id, seq);

CREATE TABLE IF NOT EXISTS ledger_snapshots (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	last_seq INTEGER NOT NULL,
	taken_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_snapshot_accounts (
	snapshot_id   INTEGER NOT NULL REFERENCES ledger_snapshots(id) ON DELETE CASCADE,
	account_id    TEXT NOT NULL,
	balance       TEXT NOT NULL,
	total_credits TEXT NOT NULL,
	total_debits  TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (snapshot_id, account_id)
);
`

// SQLite implementa ledger.Store sobre modernc.org/sqlite (sem cgo)
type SQLite struct{ db *sql.DB }

func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

func (s *SQLite) Append(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_transactions (
	seq, id, account_id, kind, amount, balance_before, balance_after, reason, operator, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		tx.Seq, tx.ID, tx.AccountID, string(tx.Kind),
		tx.Amount.String(), tx.BalanceBefore.String(), tx.BalanceAfter.String(),
		tx.Reason, tx.Operator, tx.Timestamp.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert ledger transaction: %w", err)
	}
	return nil
}

func (s *SQLite) SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_snapshots (last_seq, taken_at) VALUES (?, ?)`,
		snap.LastSeq, snap.TakenAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("snapshot id: %w", err)
	}

	for _, a := range snap.Accounts {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO ledger_snapshot_accounts (
	snapshot_id, account_id, balance, total_credits, total_debits, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
			id, a.ID, a.Balance.String(), a.TotalCredits.String(), a.TotalDebits.String(),
			a.CreatedAt.UTC().UnixMilli(), a.UpdatedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("insert snapshot account %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Load(ctx context.Context) (*ledger.Snapshot, []ledger.Transaction, error) {
	var (
		snap    *ledger.Snapshot
		snapID  int64
		lastSeq int64
		takenAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, last_seq, taken_at FROM ledger_snapshots ORDER BY id DESC LIMIT 1`).
		Scan(&snapID, &lastSeq, &takenAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, nil, fmt.Errorf("select snapshot: %w", err)
	default:
		snap = &ledger.Snapshot{LastSeq: lastSeq, TakenAt: fromMillis(takenAt)}
		rows, err := s.db.QueryContext(ctx, `
SELECT account_id, balance, total_credits, total_debits, created_at, updated_at
FROM ledger_snapshot_accounts
WHERE snapshot_id = ?
ORDER BY account_id
`, snapID)
		if err != nil {
			return nil, nil, fmt.Errorf("select snapshot accounts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var a ledger.Account
			var created, updated int64
			if err := rows.Scan(&a.ID, &a.Balance, &a.TotalCredits, &a.TotalDebits, &created, &updated); err != nil {
				return nil, nil, err
			}
			a.CreatedAt, a.UpdatedAt = fromMillis(created), fromMillis(updated)
			snap.Accounts = append(snap.Accounts, a)
		}
		if err := rows.Err(); err != nil {
			return nil, nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT seq, id, account_id, kind, amount, balance_before, balance_after, reason, operator, created_at
FROM ledger_transactions
WHERE seq > ?
ORDER BY seq
`, lastSeq)
	if err != nil {
		return nil, nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var kind string
		var ts int64
		if err := rows.Scan(&tx.Seq, &tx.ID, &tx.AccountID, &kind, &tx.Amount,
			&tx.BalanceBefore, &tx.BalanceAfter, &tx.Reason, &tx.Operator, &ts); err != nil {
			return nil, nil, err
		}
		tx.Kind = ledger.Kind(kind)
		tx.Timestamp = fromMillis(ts)
		txs = append(txs, tx)
	}
	return snap, txs, rows.Err()
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
