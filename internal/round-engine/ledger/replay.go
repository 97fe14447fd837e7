package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Replay reconstrói os saldos somando créditos e subtraindo débitos a partir de zero.
// Não depende de BalanceBefore/BalanceAfter, servindo de verificação independente.
func Replay(txs []Transaction) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		bal := out[tx.AccountID]
		switch tx.Kind {
		case KindCredit:
			bal = bal.Add(tx.Amount)
		case KindDebit:
			bal = bal.Sub(tx.Amount)
		}
		out[tx.AccountID] = bal
	}
	return out
}

// VerifyChain checa, por conta, que BalanceAfter[n] == BalanceBefore[n+1]
// e que cada transação é aritmeticamente consistente.
func VerifyChain(txs []Transaction) error {
	last := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		want := tx.BalanceBefore
		switch tx.Kind {
		case KindCredit:
			want = want.Add(tx.Amount)
		case KindDebit:
			want = want.Sub(tx.Amount)
		default:
			return fmt.Errorf("%w: unknown kind %q at seq %d", ErrBrokenChain, tx.Kind, tx.Seq)
		}
		if !want.Equal(tx.BalanceAfter) {
			return fmt.Errorf("%w: seq %d after=%s want %s", ErrBrokenChain, tx.Seq, tx.BalanceAfter, want)
		}
		if prev, ok := last[tx.AccountID]; ok && !prev.Equal(tx.BalanceBefore) {
			return fmt.Errorf("%w: account %s seq %d before=%s previous after=%s",
				ErrBrokenChain, tx.AccountID, tx.Seq, tx.BalanceBefore, prev)
		}
		last[tx.AccountID] = tx.BalanceAfter
	}
	return nil
}
