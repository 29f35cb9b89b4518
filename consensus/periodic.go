package consensus

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// defaultPeriodicInterval mirrors the source's timer-wheel tick: the
// replica core's own AuthTimeoutMS/ViewTimeoutMS/etc. knobs are expressed in
// milliseconds against this cadence, not against wall-clock ticks directly.
const defaultPeriodicInterval = 100 * time.Millisecond

// PeriodicDriver calls Adapter.Periodic on a fixed cadence sourced from a
// clock.Clock, so tests can substitute clock.NewTestClock instead of
// depending on real wall-clock time. This is the adapter's only time
// source; the replica core itself never reads the system clock.
type PeriodicDriver struct {
	adapter  *Adapter
	clk      clock.Clock
	interval time.Duration

	mu      sync.Mutex
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewPeriodicDriver constructs a driver for adapter using clk, ticking
// every interval. A zero interval defaults to defaultPeriodicInterval.
func NewPeriodicDriver(adapter *Adapter, clk clock.Clock, interval time.Duration) *PeriodicDriver {
	if interval <= 0 {
		interval = defaultPeriodicInterval
	}
	return &PeriodicDriver{
		adapter:  adapter,
		clk:      clk,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// Start begins ticking in a background goroutine until Stop is called.
func (d *PeriodicDriver) Start() {
	d.wg.Add(1)
	go d.run()
}

func (d *PeriodicDriver) run() {
	defer d.wg.Done()

	last := d.clk.Now()
	for {
		select {
		case now := <-d.clk.TickAfter(d.interval):
			elapsed := now.Sub(last)
			last = now
			d.adapter.Periodic(elapsed.Milliseconds())
		case <-d.quit:
			return
		}
	}
}

// Stop halts the driver's goroutine and waits for it to exit.
func (d *PeriodicDriver) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.quit)
	d.wg.Wait()
}
