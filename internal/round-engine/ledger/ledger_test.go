package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openMemory(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l, err := Open(context.Background(), store, zap.NewNop(), Hooks{})
	require.NoError(t, err)
	return l, store
}

func TestCreditDebitAndReplay(t *testing.T) {
	ctx := context.Background()
	l, store := openMemory(t)

	bal, err := l.Credit(ctx, "A", d("1000"), "deposit", "admin")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("1000")))

	res := l.Debit(ctx, "A", d("1500"), "bet", false)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrInsufficientFunds)
	assert.True(t, res.Balance.Equal(d("1000")))
	assert.Len(t, store.Transactions(), 1, "rejected debit must not be appended")

	res = l.Debit(ctx, "A", d("400"), "bet", false)
	require.True(t, res.OK)
	require.NoError(t, res.Err)
	assert.True(t, res.Balance.Equal(d("600")))
	assert.True(t, l.GetBalance("A").Equal(d("600")))

	txs := store.Transactions()
	require.Len(t, txs, 2)
	assert.True(t, Replay(txs)["A"].Equal(d("600")))
	require.NoError(t, VerifyChain(txs))

	acc, err := l.Account("A")
	require.NoError(t, err)
	assert.True(t, acc.TotalCredits.Equal(d("1000")))
	assert.True(t, acc.TotalDebits.Equal(d("400")))
}

func TestUnknownAccountBehavesAsZero(t *testing.T) {
	ctx := context.Background()
	l, _ := openMemory(t)

	assert.True(t, l.GetBalance("ghost").IsZero())
	_, err := l.Account("ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	res := l.Debit(ctx, "ghost", d("1"), "bet", false)
	assert.ErrorIs(t, res.Err, ErrInsufficientFunds)

	res = l.Debit(ctx, "ghost", d("5"), "fee", true)
	require.True(t, res.OK)
	assert.True(t, res.Balance.Equal(d("-5")))
}

func TestNegativeAmountsRejected(t *testing.T) {
	ctx := context.Background()
	l, store := openMemory(t)

	_, err := l.Credit(ctx, "A", d("-1"), "oops", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	res := l.Debit(ctx, "A", d("-1"), "oops", true)
	assert.ErrorIs(t, res.Err, ErrInvalidAmount)
	assert.Empty(t, store.Transactions())

	bal, err := l.Credit(ctx, "A", decimal.Zero, "noop", "")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestAmountsBeyondStoreScaleRejected(t *testing.T) {
	ctx := context.Background()
	l, store := openMemory(t)

	bal, err := l.Credit(ctx, "A", d("0.00004"), "dust", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.True(t, bal.IsZero())
	assert.Empty(t, store.Transactions())

	bal, err = l.Credit(ctx, "A", d("12.3456"), "deposit", "")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("12.3456")))

	res := l.Debit(ctx, "A", d("0.00001"), "dust", false)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrInvalidAmount)
	assert.True(t, res.Balance.Equal(d("12.3456")))
	assert.Len(t, store.Transactions(), 1)

	// zeros à direita não contam como casas extras
	res = l.Debit(ctx, "A", d("2.345600"), "bet", false)
	require.True(t, res.OK)
	assert.True(t, res.Balance.Equal(d("10")))
}

func TestStoreFailureLeavesBalanceUnchanged(t *testing.T) {
	ctx := context.Background()
	l, store := openMemory(t)
	_, err := l.Credit(ctx, "A", d("10"), "deposit", "")
	require.NoError(t, err)

	store.FailAppend = errors.New("disk full")
	_, err = l.Credit(ctx, "A", d("5"), "deposit", "")
	require.Error(t, err)
	res := l.Debit(ctx, "A", d("5"), "bet", false)
	require.False(t, res.OK)
	require.Error(t, res.Err)

	assert.True(t, l.GetBalance("A").Equal(d("10")))
	assert.Len(t, l.History("A"), 1)
}

func TestOpenRestoresFromSnapshotAndLog(t *testing.T) {
	ctx := context.Background()
	l, store := openMemory(t)

	_, err := l.Credit(ctx, "A", d("1000"), "deposit", "")
	require.NoError(t, err)
	_, err = l.Credit(ctx, "B", d("50"), "deposit", "")
	require.NoError(t, err)
	require.NoError(t, l.Snapshot(ctx))

	require.True(t, l.Debit(ctx, "A", d("400"), "bet", false).OK)
	_, err = l.Credit(ctx, "B", d("25.5"), "payout:3000001", "")
	require.NoError(t, err)

	restored, err := Open(ctx, store, zap.NewNop(), Hooks{})
	require.NoError(t, err)
	assert.True(t, restored.GetBalance("A").Equal(d("600")))
	assert.True(t, restored.GetBalance("B").Equal(d("75.5")))
	assert.Equal(t, l.LastSeq(), restored.LastSeq())
	orig, got := l.Accounts(), restored.Accounts()
	require.Len(t, got, len(orig))
	for i := range orig {
		assert.Equal(t, orig[i].ID, got[i].ID)
		assert.True(t, orig[i].TotalCredits.Equal(got[i].TotalCredits), orig[i].ID)
		assert.True(t, orig[i].TotalDebits.Equal(got[i].TotalDebits), orig[i].ID)
	}

	// novas transações continuam a sequência
	_, err = restored.Credit(ctx, "A", d("1"), "deposit", "")
	require.NoError(t, err)
	txs := store.Transactions()
	assert.Equal(t, int64(len(txs)), txs[len(txs)-1].Seq)
}

func TestOpenDetectsBrokenChain(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Append(ctx, Transaction{Seq: 1, AccountID: "A", Kind: KindCredit, Amount: d("10"), BalanceAfter: d("10")}))
	require.NoError(t, store.Append(ctx, Transaction{Seq: 2, AccountID: "A", Kind: KindDebit, Amount: d("1"), BalanceBefore: d("20"), BalanceAfter: d("19")}))

	_, err := Open(ctx, store, nil, Hooks{})
	require.ErrorIs(t, err, ErrBrokenChain)
	assert.ErrorIs(t, VerifyChain(store.Transactions()), ErrBrokenChain)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l, store := openMemory(t)
	_, err := l.Credit(ctx, "A", d("100"), "deposit", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Debit(ctx, "A", d("3"), "bet", false).OK {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 33, ok)
	assert.True(t, l.GetBalance("A").Equal(d("1")))
	require.NoError(t, VerifyChain(store.Transactions()))
	assert.True(t, Replay(store.Transactions())["A"].Equal(d("1")))
}
