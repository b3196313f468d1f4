package sideeffect

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CommissionRates — ставки агентского вознаграждения по категориям продукта.
type CommissionRates struct {
	Default    decimal.Decimal
	ByCategory map[string]decimal.Decimal
}

// ParseCommissionRates разбирает ставки из строк вида "0.05".
func ParseCommissionRates(defaultRate string, byCategory map[string]string) (CommissionRates, error) {
	rates := CommissionRates{ByCategory: make(map[string]decimal.Decimal, len(byCategory))}

	if strings.TrimSpace(defaultRate) == "" {
		rates.Default = decimal.Zero
	} else {
		d, err := parseRate(defaultRate)
		if err != nil {
			return CommissionRates{}, fmt.Errorf("default commission rate: %w", err)
		}
		rates.Default = d
	}

	for category, raw := range byCategory {
		d, err := parseRate(raw)
		if err != nil {
			return CommissionRates{}, fmt.Errorf("commission rate for %q: %w", category, err)
		}
		rates.ByCategory[strings.ToLower(strings.TrimSpace(category))] = d
	}
	return rates, nil
}

// For возвращает ставку для категории.
func (r CommissionRates) For(category string) decimal.Decimal {
	if rate, ok := r.ByCategory[strings.ToLower(strings.TrimSpace(category))]; ok {
		return rate
	}
	return r.Default
}

// Amount вычисляет вознаграждение в минорных единицах, округляя до целого.
func (r CommissionRates) Amount(category string, premiumMinor int64) (int64, decimal.Decimal) {
	rate := r.For(category)
	return decimal.NewFromInt(premiumMinor).Mul(rate).Round(0).IntPart(), rate
}

func parseRate(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("rate %s out of range [0, 1]", d)
	}
	return d, nil
}
