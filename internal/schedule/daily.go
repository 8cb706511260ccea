// Package schedule runs the once-per-day jobs (rankings scrape, top plays)
// and the cron-driven store maintenance.
package schedule

import (
	"log"
	"sync"
	"time"
)

// DailyJob fires a job once per day at minute 0 of a fixed hour.
//
// The worker sleeps on a timer/stop-channel select; Stop interrupts the
// sleep but an already-executing job runs to completion. A job error
// terminates the worker. Firings are never queued: a job that runs past the
// next target hour simply delays it by a day.
type DailyJob struct {
	name       string
	hour       int
	job        func() error
	onComplete func() // invoked only after a nil job error; may be nil

	now func() time.Time // injectable clock

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewDailyJob creates a runner for job at the given hour of day. The hour is
// normalized modulo 24, so -1 means 23 and 24 means 0.
func NewDailyJob(name string, hour int, job func() error, onComplete func()) *DailyJob {
	if job == nil {
		panic("schedule: NewDailyJob requires a job")
	}
	return &DailyJob{
		name:       name,
		hour:       NormalizeHour(hour),
		job:        job,
		onComplete: onComplete,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// NormalizeHour maps any integer onto 0..23.
func NormalizeHour(hour int) int {
	return ((hour % 24) + 24) % 24
}

// nextFire returns the first minute-0 instant of the target hour strictly
// after now. If now is already inside the target hour the job waits a day.
func nextFire(now time.Time, hour int) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

// Start spawns the worker goroutine. Calling Start twice is a no-op.
func (d *DailyJob) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Stop interrupts the sleep and waits for the worker to exit. If the job is
// executing, Stop blocks until it finishes.
func (d *DailyJob) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func (d *DailyJob) run() {
	defer close(d.doneCh)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		now := d.now()
		target := nextFire(now, d.hour)
		wait := target.Sub(now)
		log.Printf("[schedule] %s: next run at %s (in %v)", d.name, target.Format(time.RFC3339), wait.Round(time.Second))

		timer.Reset(wait)
		select {
		case <-d.stopCh:
			return
		case <-timer.C:
		}

		start := d.now()
		if err := d.job(); err != nil {
			log.Printf("[schedule] %s: job failed after %v, stopping runner: %v", d.name, d.now().Sub(start).Round(time.Second), err)
			return
		}
		log.Printf("[schedule] %s: job finished in %v", d.name, d.now().Sub(start).Round(time.Second))
		if d.onComplete != nil {
			d.onComplete()
		}
	}
}
