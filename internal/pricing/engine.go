package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/models"
)

// DefaultHardwareClass is charged when a reported class has no rate row.
const DefaultHardwareClass = "A10G"

// Engine converts hardware usage into charges in minor currency units.
type Engine struct {
	logger       *zap.Logger
	rates        map[string]models.GpuPricing
	defaultClass string
}

// NewEngine creates a pricing engine over the given rate rows. Inactive
// rows are ignored. defaultClass falls back to DefaultHardwareClass when
// empty.
func NewEngine(rates []models.GpuPricing, defaultClass string, logger *zap.Logger) (*Engine, error) {
	if defaultClass == "" {
		defaultClass = DefaultHardwareClass
	}

	indexed := make(map[string]models.GpuPricing, len(rates))
	for _, r := range rates {
		if !r.Active {
			continue
		}
		indexed[normalizeClass(r.Code)] = r
	}

	if _, ok := indexed[normalizeClass(defaultClass)]; !ok {
		return nil, fmt.Errorf("no active rate row for default hardware class %q", defaultClass)
	}

	return &Engine{
		logger:       logger,
		rates:        indexed,
		defaultClass: defaultClass,
	}, nil
}

// CostResult is the outcome of a cost calculation.
type CostResult struct {
	// AmountMinor is the charge in integer minor currency units.
	AmountMinor int64
	// UsedFallback is set when the requested hardware class had no rate
	// row and the default class's rate was charged instead. Callers may
	// log this but must not fail the job on it.
	UsedFallback bool
	// EffectiveRatePerSecond is the marked-up rate that was applied.
	EffectiveRatePerSecond decimal.Decimal
}

// Cost computes the charge for elapsedSeconds of the given hardware
// class. The rate is expressed per second in major units; charges are
// minor units and always round up so the provider's metered rate is
// never undercharged. Pure; the only error condition is negative input.
func (e *Engine) Cost(hardwareClass string, elapsedSeconds float64) (CostResult, error) {
	if elapsedSeconds < 0 {
		return CostResult{}, fmt.Errorf("elapsed seconds must be non-negative, got %v", elapsedSeconds)
	}

	row, usedFallback := e.lookup(hardwareClass)
	effective := row.EffectiveRatePerSecond()

	if elapsedSeconds == 0 {
		return CostResult{AmountMinor: 0, UsedFallback: usedFallback, EffectiveRatePerSecond: effective}, nil
	}

	amount := effective.
		Mul(decimal.NewFromFloat(elapsedSeconds)).
		Mul(decimal.NewFromInt(100)).
		Ceil().
		IntPart()

	return CostResult{
		AmountMinor:            amount,
		UsedFallback:           usedFallback,
		EffectiveRatePerSecond: effective,
	}, nil
}

// lookup returns the rate row for class, falling back to the default
// class when absent.
func (e *Engine) lookup(hardwareClass string) (models.GpuPricing, bool) {
	if row, ok := e.rates[normalizeClass(hardwareClass)]; ok {
		return row, false
	}
	if e.logger != nil {
		e.logger.Warn("No rate row for hardware class, using default class rate",
			zap.String("hardware_class", hardwareClass),
			zap.String("default_class", e.defaultClass),
		)
	}
	return e.rates[normalizeClass(e.defaultClass)], true
}

// Listings returns the active rate table shaped for the read-only rates
// endpoint.
func (e *Engine) Listings() []models.RateListing {
	listings := make([]models.RateListing, 0, len(e.rates))
	for _, row := range e.rates {
		perSecond := row.EffectiveRatePerSecond()
		listings = append(listings, models.RateListing{
			Code:                   row.Code,
			DisplayName:            row.DisplayName,
			RatePerSecond:          row.RatePerSecond,
			MarkupPercent:          row.MarkupPercent,
			EffectiveRatePerSecond: perSecond,
			EffectiveRatePerMinute: perSecond.Mul(decimal.NewFromInt(60)),
		})
	}
	return listings
}

func normalizeClass(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
