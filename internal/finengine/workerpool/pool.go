// Package workerpool implements the bounded pool of calculation workers:
// affinity-aware routing, health tracking, timeouts, and idle reaping.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/calcengine/internal/finengine/registry"
	"github.com/R3E-Network/calcengine/internal/finengine/support"
	"github.com/R3E-Network/calcengine/pkg/metrics"
)

// errFromPanic normalises a recovered panic value into an error so a
// worker-side panic surfaces as a WorkerError instead of crashing the pool.
func errFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

// WorkerState is a worker's position in its lifecycle.
type WorkerState string

const (
	StateSpawned      WorkerState = "spawned"
	StateInitializing WorkerState = "initializing"
	StateReady        WorkerState = "ready"
	StateProcessing   WorkerState = "processing"
	StateReaped       WorkerState = "reaped"
)

// Worker tracks one logical worker's health and affinity set.
type Worker struct {
	mu sync.Mutex

	id           string
	state        WorkerState
	active       int
	completed    int64
	errors       int64
	avgLatencyMS float64
	lastUsedAt   time.Time
	affinity     map[string]bool
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.id }

func newWorker(id string, now time.Time) *Worker {
	return &Worker{
		id:         id,
		state:      StateReady,
		lastUsedAt: now,
		affinity:   make(map[string]bool),
	}
}

// snapshot is a read-only copy of a worker's counters for reporting.
type snapshot struct {
	ID           string
	State        WorkerState
	Active       int
	Completed    int64
	Errors       int64
	AvgLatencyMS float64
	LastUsedAt   time.Time
}

func (w *Worker) snapshot() snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return snapshot{
		ID:           w.id,
		State:        w.state,
		Active:       w.active,
		Completed:    w.completed,
		Errors:       w.errors,
		AvgLatencyMS: w.avgLatencyMS,
		LastUsedAt:   w.lastUsedAt,
	}
}

// Outcome is delivered exactly once on a submission's result channel.
type Outcome struct {
	Result registry.Result
	Err    error
}

// inflightRequest tracks a submitted, not-yet-resolved calculation.
type inflightRequest struct {
	id          string
	calcID      string
	worker      *Worker
	submittedAt time.Time
	cancelFn    context.CancelFunc
	cancelled   atomic.Bool
}

// Config controls pool sizing and health thresholds.
type Config struct {
	MaxWorkers     int
	InitialWorkers int
	RequestTimeout time.Duration
	IdleTimeout    time.Duration
	ErrorThreshold int64
	ReapInterval   time.Duration
	Now            func() time.Time
	Logger         *logrus.Logger
}

// Pool executes each calculation on its own goroutine, off the caller's
// goroutine, and attributes it to one of at most MaxWorkers logical
// workers for routing and health tracking. The number of calculations
// running at once is not limited: a worker can carry several requests at
// a time, and a calculation whose request timed out keeps running until
// its function returns.
type Pool struct {
	cfg Config
	now func() time.Time
	log *logrus.Logger

	mu       sync.Mutex
	workers  map[string]*Worker
	inflight map[string]*inflightRequest

	cron *cron.Cron
}

// New creates a Pool and pre-spawns InitialWorkers workers in the Ready
// state.
func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.InitialWorkers <= 0 {
		cfg.InitialWorkers = 2
	}
	if cfg.InitialWorkers > cfg.MaxWorkers {
		cfg.InitialWorkers = cfg.MaxWorkers
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 5
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	p := &Pool{
		cfg:      cfg,
		now:      cfg.Now,
		log:      log,
		workers:  make(map[string]*Worker),
		inflight: make(map[string]*inflightRequest),
	}

	now := p.now()
	for i := 0; i < cfg.InitialWorkers; i++ {
		w := newWorker(uuid.NewString(), now)
		p.workers[w.id] = w
	}
	metrics.SetActiveWorkers(len(p.workers))
	return p
}

// Start begins the periodic health/reap sweep, every ReapInterval
// (60 seconds by default).
func (p *Pool) Start() {
	p.cron = cron.New()
	spec := "@every " + p.cfg.ReapInterval.String()
	if _, err := p.cron.AddFunc(spec, p.sweep); err != nil {
		p.log.WithError(err).Warn("failed to schedule worker pool sweep")
		return
	}
	p.cron.Start()
}

// Stop halts the background sweep.
func (p *Pool) Stop() {
	if p.cron != nil {
		p.cron.Stop()
	}
}

// WorkerCount reports the number of workers currently tracked.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stats is an aggregate view of pool health across all live workers.
type Stats struct {
	Workers   int
	Inflight  int
	Completed int64
	Errors    int64
}

// Stats sums the live workers' counters. Counters of replaced or reaped
// workers are not carried over.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	inflight := len(p.inflight)
	p.mu.Unlock()

	s := Stats{Workers: len(workers), Inflight: inflight}
	for _, w := range workers {
		snap := w.snapshot()
		s.Completed += snap.Completed
		s.Errors += snap.Errors
	}
	return s
}

// Submit routes calcID's computation to a worker and executes fn
// asynchronously, returning a request id (for CancelCalculation) and a
// channel that receives exactly one Outcome.
func (p *Pool) Submit(ctx context.Context, calcID string, fn func(ctx context.Context) (registry.Result, error)) (string, <-chan Outcome) {
	w := p.selectWorker(calcID)

	w.mu.Lock()
	w.active++
	w.state = StateProcessing
	w.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	id := uuid.NewString()
	req := &inflightRequest{id: id, calcID: calcID, worker: w, submittedAt: p.now(), cancelFn: cancel}

	p.mu.Lock()
	p.inflight[id] = req
	p.mu.Unlock()

	out := make(chan Outcome, 1)
	go p.run(reqCtx, req, fn, out)

	return id, out
}

func (p *Pool) run(ctx context.Context, req *inflightRequest, fn func(ctx context.Context) (registry.Result, error), out chan<- Outcome) {
	start := p.now()
	done := make(chan Outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Outcome{Err: &support.WorkerError{Message: "worker panicked", Cause: errFromPanic(r)}}
			}
		}()
		result, err := fn(ctx)
		done <- Outcome{Result: result, Err: err}
	}()

	var outcome Outcome
	select {
	case outcome = <-done:
	case <-ctx.Done():
		if req.cancelled.Load() {
			outcome = Outcome{Err: &support.CancelledError{CalcID: req.calcID}}
		} else {
			outcome = Outcome{Err: &support.TimeoutError{LimitMS: p.cfg.RequestTimeout.Milliseconds()}}
		}
	}
	req.cancelFn()

	p.mu.Lock()
	delete(p.inflight, req.id)
	p.mu.Unlock()

	p.completeRequest(req, p.now().Sub(start), outcome.Err)
	out <- outcome
}

// completeRequest folds a finished request's latency and outcome into
// the worker's rolling counters, replacing it if the error threshold is
// exceeded.
func (p *Pool) completeRequest(req *inflightRequest, latency time.Duration, err error) {
	w := req.worker
	w.mu.Lock()
	w.active--
	if w.active < 0 {
		w.active = 0
	}
	w.state = StateReady
	w.lastUsedAt = p.now()
	w.affinity[req.calcID] = true

	if w.completed+w.errors == 0 {
		w.avgLatencyMS = float64(latency.Milliseconds())
	} else {
		n := float64(w.completed + w.errors)
		w.avgLatencyMS = (w.avgLatencyMS*n + float64(latency.Milliseconds())) / (n + 1)
	}

	var shouldReplace bool
	if err != nil {
		w.errors++
		shouldReplace = w.errors > p.cfg.ErrorThreshold
	} else {
		w.completed++
	}
	w.mu.Unlock()

	if shouldReplace {
		p.replaceWorker(w)
	}
}

// CancelCalculation cancels the context of the in-flight request
// requestID, rejecting its outcome with CancelledError. It reports
// whether requestID was in flight.
func (p *Pool) CancelCalculation(requestID string) bool {
	p.mu.Lock()
	req, ok := p.inflight[requestID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	req.cancelled.Store(true)
	req.cancelFn()
	return true
}

// selectWorker implements the routing policy: prefer workers whose
// affinity set contains calcID, picking the least loaded of those;
// otherwise the least-loaded worker overall. When the pick is busy and
// the pool is under max_workers, a fresh worker is spawned instead.
func (p *Pool) selectWorker(calcID string) *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	var least, leastAffine *Worker
	leastLoad, affineLoad, maxLoad := -1, -1, 0

	for _, w := range p.workers {
		w.mu.Lock()
		state, active, affine := w.state, w.active, w.affinity[calcID]
		w.mu.Unlock()
		if state == StateReaped {
			continue
		}
		if least == nil || active < leastLoad {
			least, leastLoad = w, active
		}
		if active > maxLoad {
			maxLoad = active
		}
		if affine && (leastAffine == nil || active < affineLoad) {
			leastAffine, affineLoad = w, active
		}
	}

	// Affinity wins unless the affine pick is carrying the pool's
	// heaviest load while a lighter worker exists.
	pick, pickLoad := least, leastLoad
	if leastAffine != nil && !(affineLoad == maxLoad && affineLoad > leastLoad) {
		pick, pickLoad = leastAffine, affineLoad
	}

	if (pick == nil || pickLoad > 0) && len(p.workers) < p.cfg.MaxWorkers {
		w := newWorker(uuid.NewString(), p.now())
		p.workers[w.id] = w
		metrics.SetActiveWorkers(len(p.workers))
		return w
	}
	return pick
}

// replaceWorker reaps w and spawns a fresh worker in its place.
func (p *Pool) replaceWorker(w *Worker) {
	w.mu.Lock()
	w.state = StateReaped
	w.mu.Unlock()

	p.mu.Lock()
	delete(p.workers, w.id)
	replacement := newWorker(uuid.NewString(), p.now())
	p.workers[replacement.id] = replacement
	count := len(p.workers)
	p.mu.Unlock()

	metrics.SetActiveWorkers(count)
	metrics.RecordWorkerReplacement()
	p.log.WithField("worker_id", w.id).Warn("worker exceeded error threshold, replaced")
}

// sweep reaps idle workers (unless it is the last one) and fails
// in-flight requests whose submit age exceeds request_timeout, as a
// backstop alongside each request's own context deadline.
func (p *Pool) sweep() {
	now := p.now()

	p.mu.Lock()
	var idle []*Worker
	remaining := len(p.workers)
	for _, w := range p.workers {
		s := w.snapshot()
		if s.State == StateReady && s.Active == 0 && now.Sub(s.LastUsedAt) > p.cfg.IdleTimeout && remaining > 1 {
			idle = append(idle, w)
			remaining--
		}
	}
	for _, w := range idle {
		w.mu.Lock()
		w.state = StateReaped
		w.mu.Unlock()
		delete(p.workers, w.id)
	}

	var stale []*inflightRequest
	for _, req := range p.inflight {
		if now.Sub(req.submittedAt) > p.cfg.RequestTimeout {
			stale = append(stale, req)
		}
	}
	p.mu.Unlock()

	if len(idle) > 0 {
		metrics.SetActiveWorkers(remaining)
	}
	for _, w := range idle {
		p.log.WithField("worker_id", w.id).Debug("reaped idle worker")
	}
	for _, req := range stale {
		req.cancelFn()
	}
}
