package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/models"
)

func testRates() []models.GpuPricing {
	return []models.GpuPricing{
		{
			Code:          "A10G",
			DisplayName:   "NVIDIA A10G",
			RatePerSecond: decimal.NewFromFloat(0.000306),
			MarkupPercent: decimal.NewFromInt(20),
			Active:        true,
		},
		{
			Code:          "H100",
			DisplayName:   "NVIDIA H100",
			RatePerSecond: decimal.NewFromFloat(0.001097),
			MarkupPercent: decimal.NewFromInt(20),
			Active:        true,
		},
		{
			Code:          "T4",
			DisplayName:   "NVIDIA T4",
			RatePerSecond: decimal.NewFromFloat(0.000164),
			MarkupPercent: decimal.NewFromInt(20),
			Active:        false,
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(testRates(), "A10G", zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return engine
}

func TestNewEngineRequiresActiveDefaultClass(t *testing.T) {
	if _, err := NewEngine(testRates(), "T4", zap.NewNop()); err == nil {
		t.Fatal("NewEngine() with inactive default class should fail")
	}
	if _, err := NewEngine(testRates(), "nonexistent", zap.NewNop()); err == nil {
		t.Fatal("NewEngine() with unknown default class should fail")
	}
}

func TestCostZeroSecondsIsFree(t *testing.T) {
	engine := newTestEngine(t)
	result, err := engine.Cost("A10G", 0)
	if err != nil {
		t.Fatalf("Cost() error: %v", err)
	}
	if result.AmountMinor != 0 {
		t.Errorf("Cost(A10G, 0) = %d, want 0", result.AmountMinor)
	}
	if result.UsedFallback {
		t.Error("Cost(A10G, 0) reported fallback for a known class")
	}
}

func TestCostRejectsNegativeSeconds(t *testing.T) {
	engine := newTestEngine(t)
	if _, err := engine.Cost("A10G", -1); err == nil {
		t.Fatal("Cost() with negative seconds should fail")
	}
}

func TestCostRoundsUp(t *testing.T) {
	engine := newTestEngine(t)

	// 0.000306 * 1.2 = 0.0003672 per second. Over 108.33 seconds the
	// raw charge is 3.978... minor units, which must round up to 4.
	result, err := engine.Cost("A10G", 108.33)
	if err != nil {
		t.Fatalf("Cost() error: %v", err)
	}
	if result.AmountMinor != 4 {
		t.Errorf("Cost(A10G, 108.33) = %d, want 4", result.AmountMinor)
	}
}

func TestCostMonotonicInSeconds(t *testing.T) {
	engine := newTestEngine(t)

	var prev int64
	for _, seconds := range []float64{0, 0.5, 1, 10, 60, 120, 3600, 86400} {
		result, err := engine.Cost("H100", seconds)
		if err != nil {
			t.Fatalf("Cost(H100, %v) error: %v", seconds, err)
		}
		if result.AmountMinor < 0 {
			t.Errorf("Cost(H100, %v) = %d, want non-negative", seconds, result.AmountMinor)
		}
		if result.AmountMinor < prev {
			t.Errorf("Cost(H100, %v) = %d, less than cost for fewer seconds %d", seconds, result.AmountMinor, prev)
		}
		prev = result.AmountMinor
	}
}

func TestCostUnknownClassFallsBackToDefault(t *testing.T) {
	engine := newTestEngine(t)

	unknown, err := engine.Cost("B200", 600)
	if err != nil {
		t.Fatalf("Cost(B200) error: %v", err)
	}
	if !unknown.UsedFallback {
		t.Error("Cost(B200) should report usedFallback")
	}

	known, err := engine.Cost("A10G", 600)
	if err != nil {
		t.Fatalf("Cost(A10G) error: %v", err)
	}
	if known.UsedFallback {
		t.Error("Cost(A10G) should not report usedFallback")
	}
	if unknown.AmountMinor != known.AmountMinor {
		t.Errorf("fallback charge %d differs from default-class charge %d", unknown.AmountMinor, known.AmountMinor)
	}
}

func TestCostInactiveClassUsesFallback(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Cost("T4", 600)
	if err != nil {
		t.Fatalf("Cost(T4) error: %v", err)
	}
	if !result.UsedFallback {
		t.Error("inactive class should fall back to the default class rate")
	}
}

func TestCostClassLookupIsCaseInsensitive(t *testing.T) {
	engine := newTestEngine(t)

	lower, err := engine.Cost("a10g", 600)
	if err != nil {
		t.Fatalf("Cost(a10g) error: %v", err)
	}
	if lower.UsedFallback {
		t.Error("Cost(a10g) should match the A10G rate row")
	}
}

func TestListingsExposeOnlyActiveClasses(t *testing.T) {
	engine := newTestEngine(t)

	listings := engine.Listings()
	if len(listings) != 2 {
		t.Fatalf("Listings() returned %d rows, want 2", len(listings))
	}
	for _, l := range listings {
		if l.Code == "T4" {
			t.Error("Listings() included inactive class T4")
		}
		wantPerMinute := l.EffectiveRatePerSecond.Mul(decimal.NewFromInt(60))
		if !l.EffectiveRatePerMinute.Equal(wantPerMinute) {
			t.Errorf("per-minute rate for %s = %s, want %s", l.Code, l.EffectiveRatePerMinute, wantPerMinute)
		}
	}
}
