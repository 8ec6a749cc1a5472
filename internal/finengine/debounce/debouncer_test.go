package debounce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/calcengine/internal/finengine/behavior"
	"github.com/R3E-Network/calcengine/internal/finengine/registry"
	"github.com/R3E-Network/calcengine/internal/finengine/support"
)

type fakeResult string

func (f fakeResult) CanonicalJSON() ([]byte, error) { return []byte(`"` + string(f) + `"`), nil }

func startedDebouncer(t *testing.T, tick time.Duration) *Debouncer {
	t.Helper()
	d := New(Config{TickInterval: tick})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = d.Stop(context.Background())
	})
	return d
}

func TestLookupReturnsDefaultForUnknownCalculator(t *testing.T) {
	s := Lookup("does-not-exist")
	require.Equal(t, defaultStrategy, s)
}

func TestLookupReturnsBaselineForKnownCalculator(t *testing.T) {
	s := Lookup("compound-interest")
	require.Equal(t, 500, s.DelayMS)
	require.Equal(t, registry.PriorityHigh, s.Priority)
}

func TestEffectiveDelayClampsToBounds(t *testing.T) {
	s := Strategy{DelayMS: 500, Priority: registry.PriorityHigh, MinMS: 300, MaxMS: 800, AdaptiveEnabled: true}

	fast := behaviorSnapshot(5, 0, behavior.UserExpert)
	d := EffectiveDelay(s, fast, 10)
	require.GreaterOrEqual(t, d, 300*time.Millisecond)
	require.LessOrEqual(t, d, 800*time.Millisecond)
}

func TestEffectiveDelayDisabledAdaptiveIgnoresSnapshot(t *testing.T) {
	s := defaultStrategy
	withSignal := behaviorSnapshot(10, 0, behavior.UserBeginner)
	plain := EffectiveDelay(s, withSignal, 1)
	require.Equal(t, time.Duration(s.DelayMS)*time.Millisecond, plain)
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	d := startedDebouncer(t, 5*time.Millisecond)

	ch := d.Schedule("loan", 3, func() (registry.Result, error) {
		return fakeResult("ok"), nil
	})

	select {
	case out := <-ch:
		require.NoError(t, out.Err)
		require.Equal(t, fakeResult("ok"), out.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduled task to fire")
	}
}

func TestScheduleSupersedesPreviousTask(t *testing.T) {
	d := startedDebouncer(t, 5*time.Millisecond)

	first := d.Schedule("loan", 3, func() (registry.Result, error) {
		return fakeResult("first"), nil
	})
	second := d.Schedule("loan", 3, func() (registry.Result, error) {
		return fakeResult("second"), nil
	})

	select {
	case out := <-first:
		var superseded *support.SupersededError
		require.ErrorAs(t, out.Err, &superseded)
		require.Equal(t, "loan", superseded.CalcID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected first task to be superseded promptly")
	}

	select {
	case out := <-second:
		require.NoError(t, out.Err)
		require.Equal(t, fakeResult("second"), out.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second task to fire")
	}
}

func TestExecuteImmediateBypassesDelayAndCancelsPending(t *testing.T) {
	d := startedDebouncer(t, 5*time.Millisecond)

	pending := d.Schedule("mortgage", 3, func() (registry.Result, error) {
		return fakeResult("debounced"), nil
	})

	result, err := d.ExecuteImmediate("mortgage", func() (registry.Result, error) {
		return fakeResult("immediate"), nil
	})
	require.NoError(t, err)
	require.Equal(t, fakeResult("immediate"), result)

	select {
	case out := <-pending:
		var superseded *support.SupersededError
		require.ErrorAs(t, out.Err, &superseded)
	case <-time.After(2 * time.Second):
		t.Fatal("expected pending task to be superseded by execute_immediate")
	}
}

func TestCancelResolvesWithCancelledError(t *testing.T) {
	d := startedDebouncer(t, 5*time.Millisecond)

	ch := d.Schedule("retirement", 3, func() (registry.Result, error) {
		return fakeResult("should-not-fire"), nil
	})
	require.True(t, d.Cancel("retirement"))
	require.False(t, d.Cancel("retirement"))

	select {
	case out := <-ch:
		var cancelled *support.CancelledError
		require.ErrorAs(t, out.Err, &cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

func TestCancelAllCancelsEveryPendingTask(t *testing.T) {
	d := startedDebouncer(t, 5*time.Millisecond)

	a := d.Schedule("loan", 3, func() (registry.Result, error) { return fakeResult("a"), nil })
	b := d.Schedule("mortgage", 3, func() (registry.Result, error) { return fakeResult("b"), nil })

	require.Equal(t, 2, d.CancelAll())

	for _, ch := range []<-chan Outcome{a, b} {
		select {
		case out := <-ch:
			var cancelled *support.CancelledError
			require.ErrorAs(t, out.Err, &cancelled)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for cancel_all")
		}
	}
}

func TestFireReadyOrdersByPriorityOnTies(t *testing.T) {
	d := New(Config{TickInterval: time.Hour})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	var mu sync.Mutex
	var order []string
	record := func(name string) func() (registry.Result, error) {
		return func() (registry.Result, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return fakeResult(name), nil
		}
	}

	d.mu.Lock()
	d.tasks["retirement"] = &pendingTask{id: "1", calcID: "retirement", fn: record("retirement"), fireAt: fixed, scheduledAt: fixed, priority: registry.PriorityLow, resultCh: make(chan Outcome, 1)}
	d.tasks["compound-interest"] = &pendingTask{id: "2", calcID: "compound-interest", fn: record("compound-interest"), fireAt: fixed, scheduledAt: fixed, priority: registry.PriorityHigh, resultCh: make(chan Outcome, 1)}
	d.tasks["loan"] = &pendingTask{id: "3", calcID: "loan", fn: record("loan"), fireAt: fixed, scheduledAt: fixed, priority: registry.PriorityMedium, resultCh: make(chan Outcome, 1)}
	d.mu.Unlock()

	d.fireReady()

	require.Equal(t, []string{"compound-interest", "loan", "retirement"}, order)
}

// behaviorSnapshot builds a Snapshot directly for strategy-table tests,
// without depending on the behavior package's aggregation internals.
func behaviorSnapshot(freq float64, pauseSeconds int, userType behavior.UserType) behavior.Snapshot {
	return behavior.Snapshot{
		InputFrequency:       freq,
		CurrentPauseDuration: time.Duration(pauseSeconds) * time.Second,
		UserType:             userType,
	}
}
