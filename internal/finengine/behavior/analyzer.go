// Package behavior aggregates input events into the frequency/pause/
// expertise metrics the debouncer consumes to compute effective delays.
package behavior

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UserType is the user's experience classification.
type UserType string

const (
	UserBeginner     UserType = "beginner"
	UserIntermediate UserType = "intermediate"
	UserExpert       UserType = "expert"
)

// InputStyle is the user's input cadence classification.
type InputStyle string

const (
	StyleFast     InputStyle = "fast"
	StyleModerate InputStyle = "moderate"
	StyleSlow     InputStyle = "slow"
	StyleErratic  InputStyle = "erratic"
)

// Classification thresholds.
const (
	expertMinEvents           = 200
	expertMinCalculators      = 5
	expertMinAvgSessionMillis = 600_000

	intermediateMinEvents           = 50
	intermediateMinCalculators      = 3
	intermediateMinAvgSessionMillis = 300_000

	sessionTimeout = 5 * time.Minute
	ringCapacity   = 1000
)

// Event is a single recorded input.
type Event struct {
	CalcID    string
	Field     string
	Timestamp time.Time
	Value     any
}

// Snapshot is the derived-metrics view the debouncer consumes.
type Snapshot struct {
	InputFrequency        float64
	CurrentPauseDuration  time.Duration
	FocusLevel            float64
	CalculatorFamiliarity float64
	UserType              UserType
	InputStyle            InputStyle
}

// Config controls ring capacity and analysis windows.
type Config struct {
	AnalysisWindow time.Duration
	SessionTimeout time.Duration
	TickInterval   time.Duration
	RingCapacity   int
	Now            func() time.Time
	Logger         zerolog.Logger
}

// ring is a fixed-capacity circular buffer of events.
type ring struct {
	buf   []Event
	head  int
	count int
}

func newRing(cap int) *ring {
	if cap <= 0 {
		cap = ringCapacity
	}
	return &ring{buf: make([]Event, cap)}
}

func (r *ring) push(e Event) {
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// recent returns up to n most recent events, oldest-first.
func (r *ring) recent(n int) []Event {
	if n > r.count {
		n = r.count
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (r.head - n + i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

func (r *ring) all() []Event {
	return r.recent(r.count)
}

// session tracks the current rolling session, reset on prolonged idleness.
type session struct {
	startedAt  time.Time
	lastEvent  time.Time
	totalCount int
}

// Analyzer aggregates input events into behavioural metrics. It is a pure
// aggregator beyond updating its own state.
type Analyzer struct {
	mu sync.Mutex

	events       *ring
	window       time.Duration
	idleTimeout  time.Duration
	tickInterval time.Duration
	now          func() time.Time
	log          zerolog.Logger

	cur session

	totalEvents        int
	calculatorCounts   map[string]int
	sessionDurationsMS []int64
}

// New creates an Analyzer with the given configuration.
func New(cfg Config) *Analyzer {
	if cfg.AnalysisWindow <= 0 {
		cfg.AnalysisWindow = 30 * time.Second
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = sessionTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = ringCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Analyzer{
		events:           newRing(cfg.RingCapacity),
		window:           cfg.AnalysisWindow,
		idleTimeout:      cfg.SessionTimeout,
		tickInterval:     cfg.TickInterval,
		now:              cfg.Now,
		log:              cfg.Logger,
		calculatorCounts: make(map[string]int),
	}
}

// Start begins the periodic refresh tick. Between events it finalises a
// session that has gone idle past the session timeout, so the average
// session duration stays current even when the user walks away.
func (a *Analyzer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.rollIdleSession()
			}
		}
	}()
}

func (a *Analyzer) rollIdleSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur.lastEvent.IsZero() {
		return
	}
	if a.now().Sub(a.cur.lastEvent) > a.idleTimeout {
		a.sessionDurationsMS = append(a.sessionDurationsMS, a.cur.lastEvent.Sub(a.cur.startedAt).Milliseconds())
		a.cur = session{}
	}
}

// Record appends an input event and updates session/usage bookkeeping.
// Called on every user keystroke, so it favours the allocation-free
// zerolog event path over the ambient logrus logger used elsewhere.
func (a *Analyzer) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cur.lastEvent.IsZero() || e.Timestamp.Sub(a.cur.lastEvent) > a.idleTimeout {
		if !a.cur.lastEvent.IsZero() {
			a.sessionDurationsMS = append(a.sessionDurationsMS, a.cur.lastEvent.Sub(a.cur.startedAt).Milliseconds())
		}
		a.cur = session{startedAt: e.Timestamp}
	}
	a.cur.lastEvent = e.Timestamp
	a.cur.totalCount++

	a.events.push(e)
	a.totalEvents++
	a.calculatorCounts[e.CalcID]++

	a.log.Trace().Str("calc_id", e.CalcID).Str("field", e.Field).Msg("input event recorded")
}

// Snapshot computes the current derived metrics for a given calculator.
func (a *Analyzer) Snapshot(calcID string) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	all := a.events.all()

	windowStart := now.Add(-a.window)
	inWindow := 0
	for _, e := range all {
		if !e.Timestamp.Before(windowStart) {
			inWindow++
		}
	}
	freq := 0.0
	if a.window > 0 {
		freq = float64(inWindow) / a.window.Seconds()
	}

	var pause time.Duration
	if !a.cur.lastEvent.IsZero() {
		pause = now.Sub(a.cur.lastEvent)
	}

	focus := focusLevel(all)
	familiarity := familiarityFor(a.calculatorCounts[calcID])
	userType := classifyUserType(a.totalEvents, len(a.calculatorCounts), a.avgSessionDurationMSLocked())
	style := classifyInputStyle(all)

	return Snapshot{
		InputFrequency:        freq,
		CurrentPauseDuration:  pause,
		FocusLevel:            focus,
		CalculatorFamiliarity: familiarity,
		UserType:              userType,
		InputStyle:            style,
	}
}

func (a *Analyzer) avgSessionDurationMSLocked() float64 {
	durations := append([]int64{}, a.sessionDurationsMS...)
	if !a.cur.lastEvent.IsZero() {
		durations = append(durations, a.cur.lastEvent.Sub(a.cur.startedAt).Milliseconds())
	}
	if len(durations) == 0 {
		return 0
	}
	var sum int64
	for _, d := range durations {
		sum += d
	}
	return float64(sum) / float64(len(durations))
}

func interIntervals(events []Event) []float64 {
	if len(events) < 2 {
		return nil
	}
	out := make([]float64, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		out = append(out, events[i].Timestamp.Sub(events[i-1].Timestamp).Seconds())
	}
	return out
}

func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	variance = sq / float64(len(xs))
	return mean, variance
}

// focusLevel is a 0-10 score inversely proportional to the variance of
// recent inter-event intervals.
func focusLevel(events []Event) float64 {
	intervals := interIntervals(lastN(events, 20))
	if len(intervals) == 0 {
		return 5
	}
	_, variance := meanVariance(intervals)
	score := 10 / (1 + variance)
	if score > 10 {
		score = 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

// familiarityFor saturates at 10 based on aggregate usage count.
func familiarityFor(usageCount int) float64 {
	score := float64(usageCount) / 2
	if score > 10 {
		score = 10
	}
	return score
}

func classifyUserType(totalEvents, uniqueCalculators int, avgSessionMS float64) UserType {
	if totalEvents > expertMinEvents && uniqueCalculators >= expertMinCalculators && avgSessionMS > expertMinAvgSessionMillis {
		return UserExpert
	}
	if totalEvents > intermediateMinEvents && uniqueCalculators >= intermediateMinCalculators && avgSessionMS > intermediateMinAvgSessionMillis {
		return UserIntermediate
	}
	return UserBeginner
}

func classifyInputStyle(events []Event) InputStyle {
	intervals := interIntervals(lastN(events, 20))
	if len(intervals) == 0 {
		return StyleModerate
	}
	mean, variance := meanVariance(intervals)
	stdDev := math.Sqrt(variance)

	if mean > 0 && stdDev/mean > 0.75 {
		return StyleErratic
	}
	switch {
	case mean < 0.3:
		return StyleFast
	case mean < 1.0:
		return StyleModerate
	default:
		return StyleSlow
	}
}

func lastN(events []Event, n int) []Event {
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}
