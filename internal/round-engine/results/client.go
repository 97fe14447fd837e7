package results

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/radieske/round-engine/pkg/contracts/events"
)

// Limiter é a cota de chamadas à API externa
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Client consulta a API de resultados; toda requisição passa antes pelo Limiter.
// Não faz retry: quem chama decide se tenta de novo.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Limiter Limiter
}

func New(base string, limiter Limiter) *Client {
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: 2 * time.Second},
		Limiter: limiter,
	}
}

// Latest retorna o último sorteio publicado ({period, n1, n2, n3})
func (c *Client) Latest(ctx context.Context) (events.DrawResult, error) {
	if err := c.Limiter.Acquire(ctx); err != nil {
		return events.DrawResult{}, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/draws/latest", nil)
	if err != nil {
		return events.DrawResult{}, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return events.DrawResult{}, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return events.DrawResult{}, fmt.Errorf("draw result http %d", res.StatusCode)
	}

	var out events.DrawResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return events.DrawResult{}, fmt.Errorf("decode draw result: %w", err)
	}
	return out, nil
}
