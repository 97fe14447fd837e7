package wagering

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/round-engine/internal/shared/config"
)

var ErrConfigurationInvalid = errors.New("configuration invalid")

// Tier associa uma faixa de saldo [Min, Max] a uma rotação de apostas
type Tier struct {
	Name      string          `json:"name"`
	Min       decimal.Decimal `json:"min"`
	Max       decimal.Decimal `json:"max"`
	Templates []string        `json:"templates"`
}

func (t Tier) Contains(balance decimal.Decimal) bool {
	return balance.GreaterThanOrEqual(t.Min) && balance.LessThanOrEqual(t.Max)
}

// DefaultTiers é a tabela segura usada quando a configuração é inválida.
// Os tetos vão até a quarta casa (escala do ledger) para não deixar buracos
// entre faixas quando o saldo tem centavos.
func DefaultTiers() []Tier {
	return []Tier{
		{
			Name:      "low",
			Min:       decimal.NewFromInt(100),
			Max:       decimal.RequireFromString("500.9999"),
			Templates: []string{"big 10", "small 10"},
		},
		{
			Name:      "mid",
			Min:       decimal.NewFromInt(501),
			Max:       decimal.RequireFromString("1000.9999"),
			Templates: []string{"big 20", "odd 20", "small 20", "even 20"},
		},
		{
			Name:      "high",
			Min:       decimal.NewFromInt(1001),
			Max:       decimal.NewFromInt(1_000_000),
			Templates: []string{"big 50", "odd 50", "small 50", "even 50"},
		},
	}
}

// ValidateTiers rejeita faixas vazias ou invertidas, tiers sem templates e
// sobreposições ambíguas. Sobreposição parcial é resolvida pela primeira faixa;
// uma faixa inteiramente contida numa anterior nunca seria escolhida e é rejeitada.
func ValidateTiers(tiers []Tier) ([]Tier, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers configured", ErrConfigurationInvalid)
	}
	out := make([]Tier, 0, len(tiers))
	for i, t := range tiers {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			name = fmt.Sprintf("tier-%d", i+1)
		}
		if t.Min.IsNegative() || t.Min.GreaterThan(t.Max) {
			return nil, fmt.Errorf("%w: tier %s has invalid range [%s, %s]", ErrConfigurationInvalid, name, t.Min, t.Max)
		}
		templates := make([]string, 0, len(t.Templates))
		for _, tpl := range t.Templates {
			if tpl = strings.TrimSpace(tpl); tpl != "" {
				templates = append(templates, tpl)
			}
		}
		if len(templates) == 0 {
			return nil, fmt.Errorf("%w: tier %s has no templates", ErrConfigurationInvalid, name)
		}
		for _, prev := range out {
			if prev.Contains(t.Min) && prev.Contains(t.Max) {
				return nil, fmt.Errorf("%w: tier %s is shadowed by tier %s", ErrConfigurationInvalid, name, prev.Name)
			}
		}
		out = append(out, Tier{Name: name, Min: t.Min, Max: t.Max, Templates: templates})
	}
	return out, nil
}

// ResolveTier retorna a primeira faixa que contém o saldo
func ResolveTier(tiers []Tier, balance decimal.Decimal) (Tier, bool) {
	for _, t := range tiers {
		if t.Contains(balance) {
			return t, true
		}
	}
	return Tier{}, false
}

// ParseTiers converte a tabela lida do YAML
func ParseTiers(specs []config.TierSpec) ([]Tier, error) {
	out := make([]Tier, 0, len(specs))
	for _, s := range specs {
		lo, err := decimal.NewFromString(strings.TrimSpace(s.Min))
		if err != nil {
			return nil, fmt.Errorf("%w: tier %s min: %v", ErrConfigurationInvalid, s.Name, err)
		}
		hi, err := decimal.NewFromString(strings.TrimSpace(s.Max))
		if err != nil {
			return nil, fmt.Errorf("%w: tier %s max: %v", ErrConfigurationInvalid, s.Name, err)
		}
		out = append(out, Tier{Name: s.Name, Min: lo, Max: hi, Templates: s.Templates})
	}
	return out, nil
}

// TiersOrDefault valida a tabela configurada e cai para DefaultTiers com aviso
func TiersOrDefault(specs []config.TierSpec, log *zap.Logger) []Tier {
	if len(specs) == 0 {
		return DefaultTiers()
	}
	tiers, err := ParseTiers(specs)
	if err == nil {
		tiers, err = ValidateTiers(tiers)
	}
	if err != nil {
		if log != nil {
			log.Warn("invalid tier table, falling back to defaults", zap.Error(err))
		}
		return DefaultTiers()
	}
	return tiers
}
