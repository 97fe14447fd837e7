package scheduler

import (
	"sync"
	"time"
)

// Clock abstrai o relógio de parede para permitir simular ticks em testes
type Clock interface {
	Now() time.Time
}

// SystemClock usa time.Now
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock é um relógio controlado manualmente (testes e simulações)
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock { return &ManualClock{now: start} }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance avança o relógio e devolve o novo instante
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set posiciona o relógio num instante arbitrário (inclusive no passado)
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
