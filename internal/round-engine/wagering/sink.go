package wagering

import (
	"context"
	"errors"
)

// Sinks repassa a mesma intenção a vários destinos (gateway de chat e log no Kafka).
// Todos recebem a intenção mesmo se um falhar; os erros voltam agregados.
type Sinks []IntentSink

func (s Sinks) PlaceWager(ctx context.Context, intent WagerIntent) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.PlaceWager(ctx, intent); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
