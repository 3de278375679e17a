package precision

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Policy holds per-symbol precision configuration.
// All rounding uses round-half-to-even and is applied only at presentation
// boundaries, never between intermediate steps of a single allocation.
type Policy struct {
	Symbol        string
	BaseDecimals  int32 // decimal places for sizes (base units)
	QuoteDecimals int32 // decimal places for money (quote units)
	DustThreshold decimal.Decimal
}

// DefaultPolicy returns the fallback policy applied to symbols without an override.
func DefaultPolicy() Policy {
	return Policy{
		BaseDecimals:  8,
		QuoteDecimals: 2,
		DustThreshold: decimal.New(1, -8), // 0.00000001
	}
}

// NewPolicy builds a fallback policy from configuration values.
func NewPolicy(baseDecimals, quoteDecimals int, dustThreshold string) (Policy, error) {
	dust, err := decimal.NewFromString(dustThreshold)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid dust threshold %q: %w", dustThreshold, err)
	}
	if dust.IsNegative() {
		return Policy{}, fmt.Errorf("dust threshold cannot be negative, got %s", dustThreshold)
	}
	if baseDecimals < 0 || quoteDecimals < 0 {
		return Policy{}, fmt.Errorf("decimal places cannot be negative")
	}

	return Policy{
		BaseDecimals:  int32(baseDecimals),
		QuoteDecimals: int32(quoteDecimals),
		DustThreshold: dust,
	}, nil
}

// IsDust reports whether a size remainder is economically negligible.
func (p Policy) IsDust(size decimal.Decimal) bool {
	return size.LessThanOrEqual(p.DustThreshold)
}

// RoundSize rounds a base-unit quantity for presentation.
func (p Policy) RoundSize(size decimal.Decimal) decimal.Decimal {
	return size.RoundBank(p.BaseDecimals)
}

// RoundQuote rounds a money amount for presentation.
func (p Policy) RoundQuote(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundBank(p.QuoteDecimals)
}

// Set resolves the policy for a symbol, falling back to a default.
type Set struct {
	fallback  Policy
	overrides map[string]Policy
}

// NewSet creates a policy set with the given fallback and per-symbol overrides.
func NewSet(fallback Policy, overrides map[string]Policy) *Set {
	if overrides == nil {
		overrides = make(map[string]Policy)
	}
	return &Set{
		fallback:  fallback,
		overrides: overrides,
	}
}

// For returns the policy for a symbol.
func (s *Set) For(symbol string) Policy {
	if p, ok := s.overrides[symbol]; ok {
		return p
	}
	p := s.fallback
	p.Symbol = symbol
	return p
}

// ParseOverrides parses the PRECISION_OVERRIDES env format:
// "SYMBOL:baseDecimals:quoteDecimals:dustThreshold" entries separated by commas,
// e.g. "BTC-USD:8:2:0.00000001,SOL-USD:6:4:0.000001".
func ParseOverrides(raw string) (map[string]Policy, error) {
	overrides := make(map[string]Policy)
	if strings.TrimSpace(raw) == "" {
		return overrides, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid precision override %q: want SYMBOL:base:quote:dust", entry)
		}

		symbol := strings.TrimSpace(parts[0])
		if symbol == "" {
			return nil, fmt.Errorf("invalid precision override %q: empty symbol", entry)
		}

		var base, quote int32
		_, err := fmt.Sscanf(parts[1], "%d", &base)
		if err != nil {
			return nil, fmt.Errorf("invalid base decimals in %q: %w", entry, err)
		}
		_, err = fmt.Sscanf(parts[2], "%d", &quote)
		if err != nil {
			return nil, fmt.Errorf("invalid quote decimals in %q: %w", entry, err)
		}

		dust, err := decimal.NewFromString(parts[3])
		if err != nil {
			return nil, fmt.Errorf("invalid dust threshold in %q: %w", entry, err)
		}
		if dust.IsNegative() {
			return nil, fmt.Errorf("dust threshold cannot be negative in %q", entry)
		}

		overrides[symbol] = Policy{
			Symbol:        symbol,
			BaseDecimals:  base,
			QuoteDecimals: quote,
			DustThreshold: dust,
		}
	}

	return overrides, nil
}
