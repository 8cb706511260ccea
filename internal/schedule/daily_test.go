package schedule

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNormalizeHour(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0}, {23, 23}, {24, 0}, {25, 1}, {-1, 23}, {-25, 23}, {48, 0}, {7, 7},
	}
	for _, c := range cases {
		if got := NormalizeHour(c.in); got != c.want {
			t.Errorf("NormalizeHour(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestNextFire(t *testing.T) {
	base := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)

	// Later today.
	got := nextFire(base, 15)
	want := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextFire later today = %v, want %v", got, want)
	}

	// Earlier hour rolls to tomorrow.
	got = nextFire(base, 9)
	want = time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextFire earlier hour = %v, want %v", got, want)
	}

	// Inside the target hour also rolls to tomorrow: firings are strictly
	// in the future.
	got = nextFire(base, 10)
	want = time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextFire same hour = %v, want %v", got, want)
	}

	// Exactly at minute 0 of the target hour still waits a day.
	atHour := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	got = nextFire(atHour, 10)
	if !got.Equal(want) {
		t.Fatalf("nextFire at minute 0 = %v, want %v", got, want)
	}
}

func TestDailyJob_FiresAndCallsBack(t *testing.T) {
	var ran, completed atomic.Int32
	fired := make(chan struct{}, 1)

	d := NewDailyJob("test", 12, func() error {
		ran.Add(1)
		return nil
	}, func() {
		completed.Add(1)
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	// Pin the clock a moment before the target hour so the computed wait is
	// tiny and the test does not sleep for hours.
	d.now = func() time.Time {
		return time.Date(2026, 8, 24, 11, 59, 59, 990_000_000, time.UTC)
	}

	d.Start()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}
	d.Stop()

	if ran.Load() == 0 {
		t.Fatal("job never ran")
	}
	if completed.Load() != ran.Load() {
		t.Fatalf("completions = %d, runs = %d; want equal", completed.Load(), ran.Load())
	}
}

func TestDailyJob_ErrorStopsWorker(t *testing.T) {
	var ran atomic.Int32
	var completed atomic.Int32

	d := NewDailyJob("failing", 12, func() error {
		ran.Add(1)
		return errors.New("boom")
	}, func() {
		completed.Add(1)
	})
	d.now = func() time.Time {
		return time.Date(2026, 8, 24, 11, 59, 59, 990_000_000, time.UTC)
	}

	d.Start()
	select {
	case <-d.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after job error")
	}

	if ran.Load() != 1 {
		t.Fatalf("runs = %d, want 1", ran.Load())
	}
	if completed.Load() != 0 {
		t.Fatal("callback must not fire after a job error")
	}
	d.Stop()
}

func TestDailyJob_StopInterruptsSleep(t *testing.T) {
	d := NewDailyJob("idle", 12, func() error {
		t.Error("job must not run")
		return nil
	}, nil)

	d.Start()
	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the sleep")
	}
}

func TestDailyJob_NilJobPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil job")
		}
	}()
	NewDailyJob("bad", 0, nil, nil)
}

func TestMaintenance_InvalidSchedule(t *testing.T) {
	if _, err := NewMaintenance("not a cron line"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

type fakeMaintainer struct{ calls atomic.Int32 }

func (f *fakeMaintainer) Maintain() error {
	f.calls.Add(1)
	return nil
}

func TestMaintenance_RunAll(t *testing.T) {
	a, b := &fakeMaintainer{}, &fakeMaintainer{}
	m, err := NewMaintenance("", a, b)
	if err != nil {
		t.Fatalf("new maintenance: %v", err)
	}
	m.runAll()
	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Fatalf("calls = %d,%d, want 1,1", a.calls.Load(), b.calls.Load())
	}
}
