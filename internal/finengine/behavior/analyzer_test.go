package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotInputFrequency(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base

	a := New(Config{AnalysisWindow: 30 * time.Second, Now: func() time.Time { return clock }})

	for i := 0; i < 15; i++ {
		a.Record(Event{CalcID: "loan", Timestamp: clock})
		clock = clock.Add(time.Second)
	}

	snap := a.Snapshot("loan")
	require.InDelta(t, 0.5, snap.InputFrequency, 0.05)
}

func TestSnapshotPauseDuration(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base

	a := New(Config{Now: func() time.Time { return clock }})
	a.Record(Event{CalcID: "loan", Timestamp: clock})

	clock = clock.Add(3 * time.Second)
	snap := a.Snapshot("loan")
	require.Equal(t, 3*time.Second, snap.CurrentPauseDuration)
}

func TestClassifyUserTypeThresholds(t *testing.T) {
	require.Equal(t, UserBeginner, classifyUserType(10, 1, 0))
	require.Equal(t, UserIntermediate, classifyUserType(51, 3, 300_001))
	require.Equal(t, UserExpert, classifyUserType(201, 5, 600_001))
}

func TestFamiliaritySaturatesAtTen(t *testing.T) {
	require.Equal(t, 10.0, familiarityFor(100))
	require.Equal(t, 5.0, familiarityFor(10))
	require.Equal(t, 0.0, familiarityFor(0))
}

func TestClassifyInputStyleFastVsSlow(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var fast []Event
	for i := 0; i < 10; i++ {
		fast = append(fast, Event{Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond)})
	}
	require.Equal(t, StyleFast, classifyInputStyle(fast))

	var slow []Event
	for i := 0; i < 10; i++ {
		slow = append(slow, Event{Timestamp: base.Add(time.Duration(i) * 2 * time.Second)})
	}
	require.Equal(t, StyleSlow, classifyInputStyle(slow))
}

func TestRollIdleSessionFinalisesAfterTimeout(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base

	a := New(Config{SessionTimeout: time.Minute, Now: func() time.Time { return clock }})
	a.Record(Event{CalcID: "loan", Timestamp: clock})
	clock = clock.Add(10 * time.Second)
	a.Record(Event{CalcID: "loan", Timestamp: clock})

	clock = clock.Add(2 * time.Minute)
	a.rollIdleSession()

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.sessionDurationsMS, 1)
	require.Equal(t, int64(10_000), a.sessionDurationsMS[0])
	require.True(t, a.cur.lastEvent.IsZero(), "idle session should have been reset")
}

func TestRingBufferCapsAtConfiguredSize(t *testing.T) {
	a := New(Config{RingCapacity: 5})
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		a.Record(Event{CalcID: "loan", Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	require.Equal(t, 5, a.events.count)
}
