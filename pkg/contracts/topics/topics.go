package topics

const (
	// Rodadas
	RoundEvents = "round_events"

	// Apostas automáticas (trustees)
	WagerIntents = "wager_intents"

	// Resultados de sorteio usados na liquidação
	DrawResults = "draw_results"
)
