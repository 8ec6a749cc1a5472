// Package debounce implements the per-calculator debounce strategy table
// and the smart debouncer.
package debounce

import (
	"time"

	"github.com/R3E-Network/calcengine/internal/finengine/behavior"
	"github.com/R3E-Network/calcengine/internal/finengine/registry"
)

// Strategy is a calculator's baseline delay, priority, and adaptive
// clamping bounds.
type Strategy struct {
	DelayMS         int
	Priority        registry.Priority
	MinMS           int
	MaxMS           int
	AdaptiveEnabled bool
}

// baselineTable holds the per-calculator baseline delays and bounds.
var baselineTable = map[string]Strategy{
	"compound-interest": {DelayMS: 500, Priority: registry.PriorityHigh, MinMS: 300, MaxMS: 800, AdaptiveEnabled: true},
	"savings-plan":      {DelayMS: 500, Priority: registry.PriorityHigh, MinMS: 300, MaxMS: 800, AdaptiveEnabled: true},
	"loan":              {DelayMS: 600, Priority: registry.PriorityMedium, MinMS: 400, MaxMS: 1000, AdaptiveEnabled: true},
	"mortgage":          {DelayMS: 700, Priority: registry.PriorityMedium, MinMS: 500, MaxMS: 1200, AdaptiveEnabled: true},
	"retirement":        {DelayMS: 800, Priority: registry.PriorityLow, MinMS: 600, MaxMS: 1500, AdaptiveEnabled: true},
	"portfolio":         {DelayMS: 900, Priority: registry.PriorityLow, MinMS: 700, MaxMS: 1800, AdaptiveEnabled: true},
	"tax-optimization":  {DelayMS: 1000, Priority: registry.PriorityLow, MinMS: 800, MaxMS: 2000, AdaptiveEnabled: true},
	"etf-savings-plan":  {DelayMS: 600, Priority: registry.PriorityMedium, MinMS: 400, MaxMS: 1000, AdaptiveEnabled: true},
}

// defaultStrategy is used for unknown calculators.
var defaultStrategy = Strategy{DelayMS: 800, Priority: registry.PriorityMedium, MinMS: 500, MaxMS: 1500, AdaptiveEnabled: false}

// Lookup returns the strategy for calcID, or the documented default.
func Lookup(calcID string) Strategy {
	if s, ok := baselineTable[calcID]; ok {
		return s
	}
	return defaultStrategy
}

// priorityRank orders priorities for tie-breaking (higher wins).
func priorityRank(p registry.Priority) int {
	switch p {
	case registry.PriorityHigh:
		return 2
	case registry.PriorityMedium:
		return 1
	default:
		return 0
	}
}

// EffectiveDelay applies the adaptive-delay rules in order and
// clamps to [min, max].
func EffectiveDelay(s Strategy, snap behavior.Snapshot, complexity int) time.Duration {
	delay := float64(s.DelayMS)

	if s.AdaptiveEnabled {
		switch {
		case snap.InputFrequency > 2:
			delay *= 1.2
		case snap.InputFrequency < 0.5:
			delay *= 0.8
		}

		if snap.CurrentPauseDuration > 2*time.Second {
			delay *= 0.9
		}

		if complexity <= 0 {
			complexity = 5
		}
		delay *= 0.8 + (float64(complexity)/5)*0.4

		if userExperience(snap.UserType) < 3 {
			delay *= 0.85
		}
	}

	rounded := int(delay + 0.5)
	if rounded < s.MinMS {
		rounded = s.MinMS
	}
	if rounded > s.MaxMS {
		rounded = s.MaxMS
	}
	return time.Duration(rounded) * time.Millisecond
}

// userExperience maps a behavioural user type to a 0-10-ish scalar used
// only by the "poor experience" adaptive rule: beginners
// score low, experts score high.
func userExperience(t behavior.UserType) int {
	switch t {
	case behavior.UserExpert:
		return 8
	case behavior.UserIntermediate:
		return 5
	default:
		return 2
	}
}
