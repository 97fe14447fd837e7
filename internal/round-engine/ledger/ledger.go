package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNotFound          = errors.New("account not found")
	ErrBrokenChain       = errors.New("transaction chain broken")
)

// MaxScale casas decimais aceitas, as mesmas das colunas NUMERIC(20,4)
const MaxScale int32 = 4

// validAmount recusa valores negativos e com mais casas do que o store guarda
func validAmount(amount decimal.Decimal) bool {
	return !amount.IsNegative() && amount.Equal(amount.Truncate(MaxScale))
}

// Hooks callbacks de métricas
type Hooks struct {
	OnCredit   func(amount decimal.Decimal)
	OnDebit    func(amount decimal.Decimal)
	OnRejected func(reason string)
}

// Ledger mantém saldos por conta e o histórico de transações.
// Um único mutex serializa o check-then-mutate de todas as contas; a gravação no
// Store acontece antes da mutação em memória ficar visível.
type Ledger struct {
	store Store
	log   *zap.Logger
	hooks Hooks
	now   func() time.Time

	mu       sync.Mutex
	accounts map[string]*Account
	history  map[string][]Transaction
	seq      int64
}

// Open restaura o estado a partir do Store (snapshot + replay do log posterior)
func Open(ctx context.Context, store Store, log *zap.Logger, hooks Hooks) (*Ledger, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{
		store:    store,
		log:      log,
		hooks:    hooks,
		now:      time.Now,
		accounts: make(map[string]*Account),
		history:  make(map[string][]Transaction),
	}

	snap, txs, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if snap != nil {
		for _, a := range snap.Accounts {
			acc := a
			l.accounts[a.ID] = &acc
		}
		l.seq = snap.LastSeq
	}
	for _, tx := range txs {
		if err := l.apply(tx); err != nil {
			return nil, err
		}
	}

	l.log.Info("ledger restored",
		zap.Int("accounts", len(l.accounts)),
		zap.Int("replayed", len(txs)),
		zap.Int64("last_seq", l.seq),
	)
	return l, nil
}

// apply reaplica uma transação do log verificando o encadeamento de saldos
func (l *Ledger) apply(tx Transaction) error {
	acc := l.accounts[tx.AccountID]
	if acc == nil {
		acc = &Account{ID: tx.AccountID, CreatedAt: tx.Timestamp}
		l.accounts[tx.AccountID] = acc
	}
	if !acc.Balance.Equal(tx.BalanceBefore) {
		return fmt.Errorf("%w: account %s seq %d expected before=%s got %s",
			ErrBrokenChain, tx.AccountID, tx.Seq, acc.Balance, tx.BalanceBefore)
	}
	switch tx.Kind {
	case KindCredit:
		acc.TotalCredits = acc.TotalCredits.Add(tx.Amount)
	case KindDebit:
		acc.TotalDebits = acc.TotalDebits.Add(tx.Amount)
	default:
		return fmt.Errorf("%w: unknown kind %q at seq %d", ErrBrokenChain, tx.Kind, tx.Seq)
	}
	acc.Balance = tx.BalanceAfter
	acc.UpdatedAt = tx.Timestamp
	l.history[tx.AccountID] = append(l.history[tx.AccountID], tx)
	if tx.Seq > l.seq {
		l.seq = tx.Seq
	}
	return nil
}

// GetBalance retorna o saldo atual (zero para conta desconhecida)
func (l *Ledger) GetBalance(accountID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc := l.accounts[accountID]; acc != nil {
		return acc.Balance
	}
	return decimal.Zero
}

// Credit soma amount ao saldo, criando a conta se necessário
func (l *Ledger) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reason, operator string) (decimal.Decimal, error) {
	if !validAmount(amount) {
		l.rejected("invalid_amount")
		return l.GetBalance(accountID), fmt.Errorf("%w: credit %s", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.balanceLocked(accountID)
	tx, err := l.record(ctx, accountID, KindCredit, amount, before, before.Add(amount), reason, operator)
	if err != nil {
		return before, err
	}

	l.log.Info("ledger credit",
		zap.String("account", accountID),
		zap.String("amount", amount.String()),
		zap.String("balance", tx.BalanceAfter.String()),
		zap.String("reason", reason),
	)
	if l.hooks.OnCredit != nil {
		l.hooks.OnCredit(amount)
	}
	return tx.BalanceAfter, nil
}

// Debit subtrai amount do saldo. Saldo insuficiente volta como resultado (OK=false),
// sem alterar o saldo e sem gravar transação.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount decimal.Decimal, reason string, allowNegative bool) DebitResult {
	if !validAmount(amount) {
		l.rejected("invalid_amount")
		return DebitResult{Balance: l.GetBalance(accountID), Err: fmt.Errorf("%w: debit %s", ErrInvalidAmount, amount)}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.balanceLocked(accountID)
	if amount.GreaterThan(before) && !allowNegative {
		l.log.Info("ledger debit rejected",
			zap.String("account", accountID),
			zap.String("amount", amount.String()),
			zap.String("balance", before.String()),
		)
		l.rejected("insufficient_funds")
		return DebitResult{Balance: before, Err: ErrInsufficientFunds}
	}

	tx, err := l.record(ctx, accountID, KindDebit, amount, before, before.Sub(amount), reason, "")
	if err != nil {
		return DebitResult{Balance: before, Err: err}
	}

	l.log.Info("ledger debit",
		zap.String("account", accountID),
		zap.String("amount", amount.String()),
		zap.String("balance", tx.BalanceAfter.String()),
		zap.String("reason", reason),
	)
	if l.hooks.OnDebit != nil {
		l.hooks.OnDebit(amount)
	}
	return DebitResult{OK: true, Balance: tx.BalanceAfter}
}

// record grava no Store e, só depois do sucesso, aplica em memória. Chamar com mu travado.
func (l *Ledger) record(ctx context.Context, accountID string, kind Kind, amount, before, after decimal.Decimal, reason, operator string) (Transaction, error) {
	tx := Transaction{
		Seq:           l.seq + 1,
		ID:            uuid.NewString(),
		AccountID:     accountID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        reason,
		Operator:      operator,
		Timestamp:     l.now().UTC(),
	}
	if err := l.store.Append(ctx, tx); err != nil {
		l.log.Error("ledger append failed",
			zap.String("account", accountID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		l.rejected("store_error")
		return Transaction{}, fmt.Errorf("append transaction: %w", err)
	}
	if err := l.apply(tx); err != nil {
		// não deveria acontecer: before foi lido sob o mesmo lock
		return Transaction{}, err
	}
	return tx, nil
}

func (l *Ledger) balanceLocked(accountID string) decimal.Decimal {
	if acc := l.accounts[accountID]; acc != nil {
		return acc.Balance
	}
	return decimal.Zero
}

func (l *Ledger) rejected(reason string) {
	if l.hooks.OnRejected != nil {
		l.hooks.OnRejected(reason)
	}
}

// Account retorna uma cópia da conta
func (l *Ledger) Account(accountID string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accounts[accountID]
	if acc == nil {
		return Account{}, ErrNotFound
	}
	return *acc, nil
}

// Accounts lista todas as contas ordenadas por id
func (l *Ledger) Accounts() []Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accountsLocked()
}

func (l *Ledger) accountsLocked() []Account {
	out := make([]Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History retorna as transações conhecidas da conta (replay + processo atual), em ordem
func (l *Ledger) History(accountID string) []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transaction(nil), l.history[accountID]...)
}

// LastSeq retorna o último número de sequência aplicado
func (l *Ledger) LastSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Snapshot grava os saldos correntes no Store
func (l *Ledger) Snapshot(ctx context.Context) error {
	l.mu.Lock()
	snap := Snapshot{
		TakenAt:  l.now().UTC(),
		LastSeq:  l.seq,
		Accounts: l.accountsLocked(),
	}
	l.mu.Unlock()

	if err := l.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	l.log.Info("ledger snapshot saved",
		zap.Int64("last_seq", snap.LastSeq),
		zap.Int("accounts", len(snap.Accounts)),
	)
	return nil
}

// RunSnapshots grava snapshots periódicos até o ctx ser cancelado
func (l *Ledger) RunSnapshots(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq int64 = -1
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if seq := l.LastSeq(); seq == lastSeq {
				continue
			}
			if err := l.Snapshot(ctx); err != nil {
				l.log.Warn("periodic snapshot failed", zap.Error(err))
				continue
			}
			lastSeq = l.LastSeq()
		}
	}
}
