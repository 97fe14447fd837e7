package scheduler

import (
	"fmt"
	"time"

	"github.com/radieske/round-engine/pkg/contracts/events"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseBetting Phase = "betting"
	PhaseClosed  Phase = "closed"
)

type EventKind string

const (
	EventWarn   EventKind = "warn"
	EventSeal   EventKind = "seal"
	EventCheck  EventKind = "check"
	EventStuck  EventKind = "stuck"
	EventReopen EventKind = "reopen"
)

// Round identifica uma rodada e o deslocamento do seu início em relação à âncora
type Round struct {
	ID          int64
	StartOffset time.Duration
}

// PhaseEvent é imutável depois de emitido.
// SecondsToSeal só é preenchido em EventWarn; SinceSeal em EventCheck/EventStuck.
type PhaseEvent struct {
	Kind          EventKind
	RoundID       int64
	Offset        time.Duration
	SecondsToSeal time.Duration
	SinceSeal     time.Duration
	// Late indica disparo de recuperação, depois que a janela do evento já passou
	Late bool
	At   time.Time
}

func (e PhaseEvent) String() string {
	switch e.Kind {
	case EventWarn:
		return fmt.Sprintf("warn(%s) round=%d toSeal=%s", e.Offset, e.RoundID, e.SecondsToSeal)
	case EventCheck, EventStuck:
		return fmt.Sprintf("%s round=%d sinceSeal=%s", e.Kind, e.RoundID, e.SinceSeal)
	default:
		return fmt.Sprintf("%s round=%d", e.Kind, e.RoundID)
	}
}

// Contract converte o evento para o formato publicado em Kafka/WebSocket
func (e PhaseEvent) Contract() events.RoundPhase {
	return events.RoundPhase{
		Kind:          string(e.Kind),
		RoundID:       e.RoundID,
		Offset:        int64(e.Offset / time.Second),
		SecondsToSeal: int64(e.SecondsToSeal / time.Second),
		SinceSealMs:   e.SinceSeal.Milliseconds(),
		Late:          e.Late,
		Ts:            e.At,
	}
}

// Snapshot é a leitura autoritativa da rodada, recalculada do relógio
type Snapshot struct {
	RoundID       int64
	Countdown     time.Duration
	SecondsToSeal time.Duration
	Phase         Phase
}
