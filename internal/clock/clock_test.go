package clock

import (
	"context"
	"testing"
	"time"
)

var testStart = time.Date(2024, 11, 12, 14, 30, 0, 0, time.UTC)

func TestNewSimClockRequiresStart(t *testing.T) {
	_, err := NewSimClock(time.Time{})
	if err == nil {
		t.Fatal("expected config error for zero start time")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

func TestNewSimClockRejectsNegativeSpeed(t *testing.T) {
	if _, err := NewSimClock(testStart, WithSpeed(-1)); err == nil {
		t.Fatal("expected config error for negative speed")
	}
}

func TestNewSimClockRejectsEndBeforeStart(t *testing.T) {
	if _, err := NewSimClock(testStart, WithEnd(testStart.Add(-time.Hour))); err == nil {
		t.Fatal("expected config error for end before start")
	}
}

func TestInstantModeDeterminism(t *testing.T) {
	c, err := NewSimClock(testStart, WithSpeed(0))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	sleeps := []time.Duration{200 * time.Second, 500 * time.Second, 1 * time.Second, 3599 * time.Second}
	var total time.Duration
	realStart := time.Now()
	for _, d := range sleeps {
		if err := c.Sleep(ctx, d); err != nil {
			t.Fatalf("sleep: %v", err)
		}
		total += d
		if got, want := c.Now(), testStart.Add(total); !got.Equal(want) {
			t.Fatalf("after sleeping %v total: now=%v want=%v", total, got, want)
		}
	}
	if elapsed := time.Since(realStart); elapsed > 100*time.Millisecond {
		t.Fatalf("instant-mode sleeps took %v of real time", elapsed)
	}
}

func TestSpeedScaling(t *testing.T) {
	c, err := NewSimClock(testStart, WithSpeed(100))
	if err != nil {
		t.Fatal(err)
	}
	c.Start()
	time.Sleep(50 * time.Millisecond)
	elapsed := c.Now().Sub(testStart)
	// 50ms of real time at 100x is 5s of virtual time; allow generous
	// scheduler tolerance.
	if elapsed < 3*time.Second || elapsed > 20*time.Second {
		t.Fatalf("virtual elapsed %v outside expected range around 5s", elapsed)
	}
}

func TestEndClamping(t *testing.T) {
	end := testStart.Add(10 * time.Second)
	c, err := NewSimClock(testStart, WithSpeed(0), WithEnd(end))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if c.IsPastEnd() {
		t.Fatal("clock past end before any advance")
	}
	if err := c.Sleep(ctx, 25*time.Second); err != nil {
		t.Fatal(err)
	}
	if got := c.Now(); !got.Equal(end) {
		t.Fatalf("now=%v, want clamped to end %v", got, end)
	}
	if !c.IsPastEnd() {
		t.Fatal("IsPastEnd should be true at end")
	}
	// terminal: stays true, time never exceeds end
	_ = c.Sleep(ctx, time.Hour)
	if got := c.Now(); got.After(end) {
		t.Fatalf("now=%v exceeded end %v", got, end)
	}
	if !c.IsPastEnd() {
		t.Fatal("IsPastEnd must remain true")
	}
	if c.State().Lifecycle != StateCompleted {
		t.Fatalf("lifecycle=%s, want %s", c.State().Lifecycle, StateCompleted)
	}
}

func TestPauseFreezesAndResumeContinues(t *testing.T) {
	c, err := NewSimClock(testStart, WithSpeed(1000))
	if err != nil {
		t.Fatal(err)
	}
	c.Start()
	time.Sleep(10 * time.Millisecond)

	c.Pause()
	frozen := c.Now()
	time.Sleep(30 * time.Millisecond)
	if got := c.Now(); !got.Equal(frozen) {
		t.Fatalf("time advanced while paused: %v -> %v", frozen, got)
	}
	if c.State().Lifecycle != StatePaused {
		t.Fatalf("lifecycle=%s, want paused", c.State().Lifecycle)
	}

	c.Resume()
	time.Sleep(10 * time.Millisecond)
	resumed := c.Now()
	if !resumed.After(frozen) {
		t.Fatal("time did not advance after resume")
	}
	// the paused interval must not be double-counted: ~10ms real at 1000x
	// is ~10s virtual, nowhere near the 30ms pause (30s at speed)
	if resumed.Sub(frozen) > 25*time.Second {
		t.Fatalf("paused interval appears double-counted: advanced %v", resumed.Sub(frozen))
	}
}

func TestPausedSleepDoesNotAdvance(t *testing.T) {
	c, _ := NewSimClock(testStart, WithSpeed(0))
	c.Start()
	c.Pause()
	before := c.Now()
	if err := c.Sleep(context.Background(), time.Hour); err != nil {
		t.Fatal(err)
	}
	if got := c.Now(); !got.Equal(before) {
		t.Fatalf("sleep on paused clock advanced time: %v -> %v", before, got)
	}
}

func TestSetSpeedPreservesInstant(t *testing.T) {
	c, _ := NewSimClock(testStart, WithSpeed(0))
	ctx := context.Background()
	_ = c.Sleep(ctx, 90*time.Second)
	before := c.Now()
	if err := c.SetSpeed(2); err != nil {
		t.Fatal(err)
	}
	if got := c.Now(); got.Sub(before) > time.Millisecond {
		t.Fatalf("speed change jumped time by %v", got.Sub(before))
	}
	if err := c.SetSpeed(-3); err == nil {
		t.Fatal("expected error for negative speed")
	}
}

func TestJumpToClampedToEnd(t *testing.T) {
	end := testStart.Add(time.Hour)
	c, _ := NewSimClock(testStart, WithSpeed(0), WithEnd(end))
	c.JumpTo(testStart.Add(30 * time.Minute))
	if got, want := c.Now(), testStart.Add(30*time.Minute); !got.Equal(want) {
		t.Fatalf("now=%v want=%v", got, want)
	}
	c.JumpTo(end.Add(time.Hour))
	if got := c.Now(); !got.Equal(end) {
		t.Fatalf("jump past end not clamped: now=%v", got)
	}
}

func TestSleepCancellation(t *testing.T) {
	c, _ := NewSimClock(testStart, WithSpeed(1))
	c.Start()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	realStart := time.Now()
	err := c.Sleep(ctx, time.Hour)
	if err != context.Canceled {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if time.Since(realStart) > time.Second {
		t.Fatal("cancelled sleep did not return promptly")
	}
}

func TestRealClockMutationsAreNoOps(t *testing.T) {
	var c Provider = RealClock{}
	c.Start()
	c.Pause()
	c.Resume()
	c.JumpTo(testStart)
	if err := c.SetSpeed(0); err != nil {
		t.Fatalf("real clock SetSpeed: %v", err)
	}
	c.Stop()
	if c.IsPastEnd() {
		t.Fatal("real clock is never past end")
	}
	if d := time.Since(c.Now()); d > time.Second || d < -time.Second {
		t.Fatalf("real clock drifted from wall clock by %v", d)
	}
}

func TestActiveRegistry(t *testing.T) {
	defer ResetActive()

	sim, _ := NewSimClock(testStart, WithSpeed(0))
	SetActive(sim)
	if got := Now(); !got.Equal(testStart) {
		t.Fatalf("registry Now=%v, want %v", got, testStart)
	}
	_ = SleepCtx(context.Background(), 42*time.Second)
	if got := Now(); !got.Equal(testStart.Add(42 * time.Second)) {
		t.Fatalf("registry sleep not routed to sim clock: now=%v", got)
	}

	ResetActive()
	if Active().Mode() != ModeRealTime {
		t.Fatal("ResetActive should restore the real-time provider")
	}
}

func TestStateSnapshot(t *testing.T) {
	end := testStart.Add(time.Hour)
	c, _ := NewSimClock(testStart, WithSpeed(0), WithEnd(end), WithRunID("sim_test"))
	_ = c.Sleep(context.Background(), 10*time.Minute)
	st := c.State()
	if st.RunID != "sim_test" || st.Mode != ModeSimulated {
		t.Fatalf("unexpected snapshot identity: %+v", st)
	}
	if st.ElapsedVirtual != 10*time.Minute {
		t.Fatalf("elapsed virtual=%v, want 10m", st.ElapsedVirtual)
	}
	if st.Remaining != 50*time.Minute {
		t.Fatalf("remaining=%v, want 50m", st.Remaining)
	}
}
