package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrInvalidConfig = errors.New("invalid round config")

type Config struct {
	RoundLength time.Duration
	// As apostas fecham quando countdown <= CloseOffset
	CloseOffset time.Duration
	// Avisos medidos em relação ao fechamento (segundos até o seal)
	WarnOffsets []time.Duration
	CheckAfter  time.Duration
	StuckAfter  time.Duration

	Anchor        time.Time
	AnchorRoundID int64

	// Limite da heurística de virada: countdown anterior pequeno que volta a crescer
	RolloverThreshold time.Duration
	TickInterval      time.Duration
}

func DefaultConfig() Config {
	return Config{
		RoundLength:       210 * time.Second,
		CloseOffset:       30 * time.Second,
		WarnOffsets:       []time.Duration{40 * time.Second, 20 * time.Second},
		CheckAfter:        10 * time.Second,
		StuckAfter:        20 * time.Second,
		Anchor:            time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		AnchorRoundID:     3000000,
		RolloverThreshold: 5 * time.Second,
		TickInterval:      500 * time.Millisecond,
	}
}

// normalize valida a configuração e ordena os avisos do maior para o menor
func (c Config) normalize() (Config, error) {
	if c.RoundLength < 2*time.Second || c.RoundLength%time.Second != 0 {
		return c, fmt.Errorf("%w: round length must be a whole number of seconds >= 2s", ErrInvalidConfig)
	}
	if c.CloseOffset <= 0 || c.CloseOffset >= c.RoundLength {
		return c, fmt.Errorf("%w: close offset must be within (0, round length)", ErrInvalidConfig)
	}
	if c.CheckAfter <= 0 || c.StuckAfter <= c.CheckAfter {
		return c, fmt.Errorf("%w: expected 0 < check offset < stuck offset", ErrInvalidConfig)
	}
	if c.StuckAfter >= c.CloseOffset {
		// Stuck precisa caber antes da virada
		return c, fmt.Errorf("%w: stuck offset must be shorter than close offset", ErrInvalidConfig)
	}

	warns := append([]time.Duration(nil), c.WarnOffsets...)
	sort.Slice(warns, func(i, j int) bool { return warns[i] > warns[j] })
	for i, w := range warns {
		if w <= 0 || w+c.CloseOffset >= c.RoundLength {
			return c, fmt.Errorf("%w: warn offset %s out of range", ErrInvalidConfig, w)
		}
		if i > 0 && warns[i-1] == w {
			return c, fmt.Errorf("%w: duplicated warn offset %s", ErrInvalidConfig, w)
		}
	}
	c.WarnOffsets = warns

	if c.RolloverThreshold <= 0 {
		c.RolloverThreshold = 5 * time.Second
	}
	if c.TickInterval <= 0 || c.TickInterval > time.Second {
		c.TickInterval = time.Second
	}
	return c, nil
}
