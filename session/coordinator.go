package session

import (
	"context"
	"sync"
	"time"

	"udsstack/husklog"
	"udsstack/uds"
)

// Coordinator owns the keep-alive loop that must run for the duration of a
// non-default diagnostic session (spec §4.4): a suppressed TesterPresent
// sent at a period no greater than half the negotiated P2* timer, so the
// ECU never times the session back out to Default while the tester is
// merely idle between application requests.
type Coordinator struct {
	client  *uds.Client
	metrics *Metrics
	period  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewCoordinator builds a Coordinator. configuredPeriod is the operator's
// preferred keep-alive cadence; the coordinator never exceeds half of
// whatever P2* the ECU last reported, so Start clamps it down when needed.
func NewCoordinator(client *uds.Client, metrics *Metrics, configuredPeriod time.Duration) *Coordinator {
	return &Coordinator{client: client, metrics: metrics, period: configuredPeriod}
}

// Start begins the keep-alive loop. A second Start while the loop is
// already running is a no-op until Stop is called; callers typically start
// a Coordinator right after a SessionGuard succeeds and stop it before the
// guard releases back to Default.
func (co *Coordinator) Start(ctx context.Context) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.cancel != nil {
		return // already running
	}

	loopCtx, cancel := context.WithCancel(ctx)
	co.cancel = cancel
	co.stopped = make(chan struct{})

	period := co.period
	if last := co.client.LastTiming(); last.P2Star > 0 && last.P2Star/2 < period {
		period = last.P2Star / 2
	}
	if period <= 0 {
		period = time.Second
	}

	log := husklog.Active().WithField("period", period)
	log.Debug("keep-alive coordinator starting")

	go func() {
		defer close(co.stopped)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				log.Debug("keep-alive coordinator stopping")
				return
			case <-ticker.C:
				if err := co.client.TesterPresent(loopCtx, true); err != nil {
					log.WithError(err).Warn("keep-alive TesterPresent failed")
					continue
				}
				if co.metrics != nil {
					co.metrics.observeKeepAlive()
				}
			}
		}
	}()
}

// Stop halts the keep-alive loop and waits for its goroutine to exit. It is
// a no-op if Start was never called. Safe to call multiple times.
func (co *Coordinator) Stop() {
	co.mu.Lock()
	cancel := co.cancel
	stopped := co.stopped
	co.cancel = nil
	co.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}
