package schedule

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// DefaultMaintenanceSchedule runs maintenance nightly, well away from the
// scrape hours.
const DefaultMaintenanceSchedule = "30 4 * * *"

// Maintainer is the store-side maintenance hook (VACUUM + ANALYZE).
type Maintainer interface {
	Maintain() error
}

// Maintenance invokes Maintain on every registered store on a cron schedule.
type Maintenance struct {
	cron   *cron.Cron
	stores []Maintainer
}

// NewMaintenance creates a maintenance runner. The schedule is a standard
// five-field cron expression; an empty string selects the default.
func NewMaintenance(schedule string, stores ...Maintainer) (*Maintenance, error) {
	if schedule == "" {
		schedule = DefaultMaintenanceSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("schedule: invalid maintenance schedule %q: %w", schedule, err)
	}

	m := &Maintenance{cron: cron.New(), stores: stores}
	if _, err := m.cron.AddFunc(schedule, m.runAll); err != nil {
		return nil, fmt.Errorf("schedule: register maintenance job: %w", err)
	}
	return m, nil
}

// Start starts the cron scheduler.
func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop stops the scheduler; a running maintenance pass finishes first.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

func (m *Maintenance) runAll() {
	for _, s := range m.stores {
		if err := s.Maintain(); err != nil {
			log.Printf("[schedule] maintenance failed: %v", err)
			continue
		}
	}
	log.Printf("[schedule] maintenance pass complete (%d stores)", len(m.stores))
}
