package events

// DrawResult é o formato de resposta da API externa de resultados
type DrawResult struct {
	Period int64 `json:"period"`
	N1     int   `json:"n1"`
	N2     int   `json:"n2"`
	N3     int   `json:"n3"`
}

// Sum retorna a soma dos três números sorteados
func (d DrawResult) Sum() int { return d.N1 + d.N2 + d.N3 }

// Payout é um crédito de prêmio para uma conta
type Payout struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"` // decimal em string, ex: "19.50"
}

// DrawSettled é publicado no tópico "draw_results" quando o sorteio de um grupo foi apurado
type DrawSettled struct {
	GroupID string     `json:"group_id"`
	Result  DrawResult `json:"result"`
	Payouts []Payout   `json:"payouts,omitempty"`
}
