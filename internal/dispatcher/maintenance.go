package dispatcher

import (
	"time"

	"mucs/Common/console"
	"mucs/internal/inventory"
	"mucs/internal/metrics"
)

// SweepInterval is how often the Silent Sweeper and Stats Reporter fire.
const SweepInterval = 60 * time.Second

// SilentSweeper periodically demotes hosts whose heartbeat has gone
// stale, against the same Store the Dispatcher Loop mutates.
type SilentSweeper struct {
	store  *inventory.Store
	stopCh chan struct{}
}

// NewSilentSweeper constructs a sweeper for store.
func NewSilentSweeper(store *inventory.Store) *SilentSweeper {
	return &SilentSweeper{store: store, stopCh: make(chan struct{})}
}

// Start runs the sweep loop in its own goroutine.
func (sw *SilentSweeper) Start() {
	go func() {
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sw.store.HandleSilentHosts(time.Now())
			case <-sw.stopCh:
				return
			}
		}
	}()
}

// Stop ends the sweep loop.
func (sw *SilentSweeper) Stop() {
	close(sw.stopCh)
}

// StatsReporter periodically reads and resets the Store's assignment
// counters, logs a summary line, and mirrors the snapshot to an
// optional metrics Exporter.
type StatsReporter struct {
	store    *inventory.Store
	exporter *metrics.Exporter
	stopCh   chan struct{}
}

// NewStatsReporter constructs a reporter for store. exporter may be nil.
func NewStatsReporter(store *inventory.Store, exporter *metrics.Exporter) *StatsReporter {
	return &StatsReporter{store: store, exporter: exporter, stopCh: make(chan struct{})}
}

// Start runs the report loop in its own goroutine.
func (r *StatsReporter) Start() {
	go func() {
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.report()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop ends the report loop.
func (r *StatsReporter) Stop() {
	close(r.stopCh)
}

func (r *StatsReporter) report() {
	served, peak, total := r.store.GetStatsFromDb()
	avail, assigned := r.store.CpuCounts()
	logInfo("[%s] Hosts Served: %d  Max/Avail: %d/%d  Pool Utilization: %s",
		time.Now().Format(time.ANSIC), served, peak, total, console.FormatPercent(int64(assigned), int64(avail+assigned)))

	if r.exporter == nil {
		return
	}
	r.exporter.Refresh(metrics.StateCounts(r.store.CountsByState()), avail, assigned, peak)
}
