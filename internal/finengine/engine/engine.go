// Package engine implements the realtime engine facade: it composes
// the registry, cache, behaviour analyzer, debouncer, and
// worker pool into the single public entry point callers use.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/calcengine/internal/finengine/behavior"
	"github.com/R3E-Network/calcengine/internal/finengine/calcache"
	"github.com/R3E-Network/calcengine/internal/finengine/debounce"
	"github.com/R3E-Network/calcengine/internal/finengine/registry"
	"github.com/R3E-Network/calcengine/internal/finengine/support"
	"github.com/R3E-Network/calcengine/internal/finengine/workerpool"
	"github.com/R3E-Network/calcengine/pkg/metrics"
)

// Stats reports the aggregate engine counters.
type Stats struct {
	Total            int64
	Errors           int64
	HitRate          float64
	ActiveRequests   int64
	LastCalculatedAt time.Time
}

// Config wires the engine's collaborators. All fields are required
// except Analyzer, Now and Logger.
type Config struct {
	Registry  *registry.Registry
	Cache     *calcache.Cache
	Analyzer  *behavior.Analyzer
	Debouncer *debounce.Debouncer
	Pool      *workerpool.Pool
	Now       func() time.Time
	Logger    *logrus.Logger
}

// Engine is the single public entry point composing the calculation
// pipeline.
type Engine struct {
	reg       *registry.Registry
	cache     *calcache.Cache
	analyzer  *behavior.Analyzer
	debouncer *debounce.Debouncer
	pool      *workerpool.Pool
	now       func() time.Time
	log       *logrus.Logger

	total    atomic.Int64
	errors   atomic.Int64
	nonFatal atomic.Int64
	active   atomic.Int64
	lastCalc atomic.Pointer[time.Time]
}

// New creates an Engine over already-constructed collaborators.
func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		reg:       cfg.Registry,
		cache:     cfg.Cache,
		analyzer:  cfg.Analyzer,
		debouncer: cfg.Debouncer,
		pool:      cfg.Pool,
		now:       now,
		log:       log,
	}
}

// Calculate resolves calcID against input, coalescing rapid repeat calls
// through the debouncer.
func (e *Engine) Calculate(ctx context.Context, calcID string, input registry.Input) (registry.Result, error) {
	return e.run(ctx, calcID, input, true)
}

// CalculateImmediate is Calculate but bypasses the debouncer.
func (e *Engine) CalculateImmediate(ctx context.Context, calcID string, input registry.Input) (registry.Result, error) {
	return e.run(ctx, calcID, input, false)
}

func (e *Engine) run(ctx context.Context, calcID string, input registry.Input, debounced bool) (registry.Result, error) {
	e.active.Add(1)
	defer e.active.Add(-1)

	start := e.now()

	calc, ok := e.reg.Lookup(calcID)
	if !ok {
		e.errors.Add(1)
		metrics.RecordCalculation(calcID, "unknown_calculator", e.now().Sub(start))
		return nil, &support.UnknownCalculatorError{CalcID: calcID}
	}

	if errs := calc.Validate(input); len(errs) > 0 {
		e.errors.Add(1)
		metrics.RecordCalculation(calcID, "validation_failed", e.now().Sub(start))
		return nil, &support.ValidationError{CalcID: calcID, Errors: errs}
	}

	normalized := normalizeInput(input)
	key, err := cacheKey(calcID, normalized)
	if err != nil {
		e.errors.Add(1)
		metrics.RecordCalculation(calcID, "cache_key_error", e.now().Sub(start))
		return nil, err
	}

	if result, ok := e.cache.Get(key); ok {
		if e.analyzer != nil {
			e.analyzer.Record(behavior.Event{CalcID: calcID, Timestamp: e.now()})
		}
		e.touch()
		metrics.SetCacheHitRatio(e.cache.Stats().HitRate)
		metrics.RecordCalculation(calcID, "cache_hit", e.now().Sub(start))
		return result, nil
	}

	compute := func() (registry.Result, error) {
		return e.computeWithFallback(ctx, calc, normalized)
	}

	var result registry.Result
	if debounced {
		ch := e.debouncer.Schedule(calcID, calc.Complexity, compute)
		select {
		case out := <-ch:
			result, err = out.Result, out.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		result, err = e.debouncer.ExecuteImmediate(calcID, compute)
	}

	if err != nil {
		status := "worker_error"
		if isNonFatalOutcome(err) {
			e.nonFatal.Add(1)
			status = "superseded_or_cancelled"
		} else {
			e.errors.Add(1)
		}
		metrics.RecordCalculation(calcID, status, e.now().Sub(start))
		return nil, err
	}

	e.cache.Put(key, result)
	e.touch()
	metrics.SetCacheHitRatio(e.cache.Stats().HitRate)
	metrics.RecordCalculation(calcID, "success", e.now().Sub(start))
	return result, nil
}

// isNonFatalOutcome reports whether err is a Superseded or Cancelled
// outcome: callers are expected to tolerate these, so they are tracked
// separately from stats.errors.
func isNonFatalOutcome(err error) bool {
	var superseded *support.SupersededError
	var cancelled *support.CancelledError
	return errors.As(err, &superseded) || errors.As(err, &cancelled)
}

// computeWithFallback submits to the worker pool and, on worker crash or
// timeout, retries once in-process before giving up.
func (e *Engine) computeWithFallback(ctx context.Context, calc registry.Calculator, normalized registry.Input) (registry.Result, error) {
	_, ch := e.pool.Submit(ctx, calc.ID, func(ctx context.Context) (registry.Result, error) {
		return calc.Calculate(normalized)
	})

	var out workerpool.Outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if out.Err == nil {
		return out.Result, nil
	}

	e.log.WithError(out.Err).WithField("calculator_id", calc.ID).Warn("worker pool submission failed, falling back to in-process execution")
	result, fallbackErr := calc.Calculate(normalized)
	if fallbackErr == nil {
		return result, nil
	}
	return nil, out.Err
}

// Cancel discards calcID's pending debounced task, if any.
func (e *Engine) Cancel(calcID string) {
	e.debouncer.Cancel(calcID)
}

// Stats reports the current aggregate counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Total:          e.total.Load(),
		Errors:         e.errors.Load(),
		HitRate:        e.cache.Stats().HitRate,
		ActiveRequests: e.active.Load(),
	}
	if t := e.lastCalc.Load(); t != nil {
		s.LastCalculatedAt = *t
	}
	return s
}

// ClearCache empties the result cache.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// ResetStats zeroes the aggregate counters. It does not affect the cache
// or worker pool state.
func (e *Engine) ResetStats() {
	e.total.Store(0)
	e.errors.Store(0)
	e.nonFatal.Store(0)
	e.lastCalc.Store(nil)
}

func (e *Engine) touch() {
	e.total.Add(1)
	now := e.now()
	e.lastCalc.Store(&now)
}

// normalizeInput rounds numeric fields to 2 decimal places so that
// imperceptible floating-point jitter does not cause cache misses.
func normalizeInput(in registry.Input) registry.Input {
	out := make(registry.Input, len(in))
	for k, v := range in {
		switch n := v.(type) {
		case float64:
			out[k] = math.Round(n*100) / 100
		case float32:
			out[k] = math.Round(float64(n)*100) / 100
		default:
			out[k] = v
		}
	}
	return out
}

// cacheKey derives (calculatorId, canonicalJSON(normalisedInput));
// encoding/json sorts map keys on marshal, so this is already the
// required field-name-sorted canonical form.
func cacheKey(calcID string, normalized registry.Input) (string, error) {
	data, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return calcID + "|" + string(data), nil
}
