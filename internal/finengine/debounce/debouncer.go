package debounce

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/calcengine/internal/finengine/behavior"
	"github.com/R3E-Network/calcengine/internal/finengine/registry"
	"github.com/R3E-Network/calcengine/internal/finengine/support"
)

// Outcome is delivered on a task's result channel exactly once.
type Outcome struct {
	Result registry.Result
	Err    error
}

// pendingTask is one scheduled, not-yet-fired debounce task. Only one
// pendingTask per calculator id is ever live; scheduling a new one
// supersedes the previous.
type pendingTask struct {
	id          string
	calcID      string
	fn          func() (registry.Result, error)
	fireAt      time.Time
	scheduledAt time.Time
	priority    registry.Priority
	resultCh    chan Outcome
}

// Config controls the debouncer's clock and firing cadence.
type Config struct {
	Analyzer     *behavior.Analyzer
	TickInterval time.Duration
	Now          func() time.Time
	Logger       *logrus.Logger
}

// Debouncer schedules a calculation after an adaptive delay, letting
// later calls for the same
// calculator supersede earlier ones, and fires ready tasks in priority
// order when several become ready together.
type Debouncer struct {
	analyzer     *behavior.Analyzer
	tickInterval time.Duration
	now          func() time.Time
	log          *logrus.Logger

	mu    sync.Mutex
	tasks map[string]*pendingTask

	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Debouncer. Call Start to begin firing scheduled tasks.
func New(cfg Config) *Debouncer {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Debouncer{
		analyzer:     cfg.Analyzer,
		tickInterval: cfg.TickInterval,
		now:          cfg.Now,
		log:          log,
		tasks:        make(map[string]*pendingTask),
	}
}

// Start begins the background firing loop.
func (d *Debouncer) Start(ctx context.Context) error {
	d.lifecycle.Lock()
	if d.running {
		d.lifecycle.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.lifecycle.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.fireReady()
			}
		}
	}()

	d.log.Debug("smart debouncer started")
	return nil
}

// Stop halts the firing loop. Pending tasks are left in place; call
// CancelAll first if they should be resolved with CancelledError.
func (d *Debouncer) Stop(ctx context.Context) error {
	d.lifecycle.Lock()
	if !d.running {
		d.lifecycle.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.lifecycle.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Schedule records an input event for calcID, computes the adaptive
// delay, and arranges for fn to run after that delay. A
// prior pending task for the same calcID, if any, is superseded: its
// channel receives SupersededError instead of ever running.
func (d *Debouncer) Schedule(calcID string, complexity int, fn func() (registry.Result, error)) <-chan Outcome {
	now := d.now()
	if d.analyzer != nil {
		d.analyzer.Record(behavior.Event{CalcID: calcID, Timestamp: now})
	}

	strategy := Lookup(calcID)
	var snap behavior.Snapshot
	if d.analyzer != nil {
		snap = d.analyzer.Snapshot(calcID)
	}
	delay := EffectiveDelay(strategy, snap, complexity)

	task := &pendingTask{
		id:          uuid.NewString(),
		calcID:      calcID,
		fn:          fn,
		fireAt:      now.Add(delay),
		scheduledAt: now,
		priority:    strategy.Priority,
		resultCh:    make(chan Outcome, 1),
	}

	d.mu.Lock()
	if prev, ok := d.tasks[calcID]; ok {
		resolve(prev, Outcome{Err: &support.SupersededError{CalcID: calcID}})
	}
	d.tasks[calcID] = task
	d.mu.Unlock()

	return task.resultCh
}

// ExecuteImmediate cancels any pending task for calcID and invokes fn
// synchronously, bypassing the debounce delay entirely.
func (d *Debouncer) ExecuteImmediate(calcID string, fn func() (registry.Result, error)) (registry.Result, error) {
	d.mu.Lock()
	if prev, ok := d.tasks[calcID]; ok {
		delete(d.tasks, calcID)
		resolve(prev, Outcome{Err: &support.SupersededError{CalcID: calcID}})
	}
	d.mu.Unlock()

	if d.analyzer != nil {
		d.analyzer.Record(behavior.Event{CalcID: calcID, Timestamp: d.now()})
	}
	return fn()
}

// Cancel discards the pending task for calcID, if any, resolving its
// channel with CancelledError. It reports whether a task was cancelled.
func (d *Debouncer) Cancel(calcID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.tasks[calcID]
	if !ok {
		return false
	}
	delete(d.tasks, calcID)
	resolve(task, Outcome{Err: &support.CancelledError{CalcID: calcID}})
	return true
}

// CancelAll discards every pending task, returning the count cancelled.
func (d *Debouncer) CancelAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.tasks)
	for calcID, task := range d.tasks {
		resolve(task, Outcome{Err: &support.CancelledError{CalcID: calcID}})
	}
	d.tasks = make(map[string]*pendingTask)
	return n
}

// Pending reports whether calcID has a task currently scheduled.
func (d *Debouncer) Pending(calcID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tasks[calcID]
	return ok
}

// fireReady collects every task whose delay has elapsed, orders them by
// fire time then priority then scheduling order, and runs them in that
// order. Running them from this single loop goroutine, rather than one
// timer per task, is what makes the cross-calculator priority ordering
// observable instead of a race between independent goroutines.
func (d *Debouncer) fireReady() {
	now := d.now()

	d.mu.Lock()
	var ready []*pendingTask
	for calcID, task := range d.tasks {
		if !task.fireAt.After(now) {
			ready = append(ready, task)
			delete(d.tasks, calcID)
		}
	}
	d.mu.Unlock()

	if len(ready) == 0 {
		return
	}

	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].fireAt.Equal(ready[j].fireAt) {
			return ready[i].fireAt.Before(ready[j].fireAt)
		}
		if ready[i].priority != ready[j].priority {
			return priorityRank(ready[i].priority) > priorityRank(ready[j].priority)
		}
		return ready[i].scheduledAt.Before(ready[j].scheduledAt)
	})

	for _, task := range ready {
		result, err := task.fn()
		resolve(task, Outcome{Result: result, Err: err})
	}
}

// resolve delivers outcome on task's buffered channel without blocking.
func resolve(task *pendingTask, outcome Outcome) {
	select {
	case task.resultCh <- outcome:
	default:
	}
}
