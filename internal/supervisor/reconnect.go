package supervisor

import (
	"time"

	"github.com/atmosphere-mesh/corenode/internal/transport"
)

// reconnectMinBackoff and reconnectMaxBackoff bound the exponential
// backoff used to retry a DOWN transport's Start.
const (
	reconnectMinBackoff = 1 * time.Second
	reconnectMaxBackoff = 60 * time.Second
)

// reconnectLoop retries t.Start with exponential backoff until it
// succeeds or the supervisor is stopped, per spec.md §4.8's failure
// semantics: a transport crash never takes the node out of RUNNING.
func (sv *Supervisor) reconnectLoop(t transport.Transport) {
	defer sv.wg.Done()
	backoff := reconnectMinBackoff
	for {
		select {
		case <-sv.ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := t.Start(sv.ctx); err != nil {
			sv.logger.Warn("reconnect attempt failed", "transport", t.Name(), "error", err, "next_backoff", backoff)
			if sv.metrics != nil {
				sv.metrics.ObserveReconnectAttempt(t.Name(), "failure")
			}
			backoff *= 2
			if backoff > reconnectMaxBackoff {
				backoff = reconnectMaxBackoff
			}
			continue
		}
		if sv.metrics != nil {
			sv.metrics.ObserveReconnectAttempt(t.Name(), "success")
		}

		if sv.ctx.Err() != nil {
			// Stop() is already tearing things down; don't race its
			// wg.Wait() by adding a new goroutine after it started.
			_ = t.Stop()
			return
		}

		sv.logger.Info("transport reconnected", "transport", t.Name())
		sv.setTransportUp(t.Name(), true)
		sv.wg.Add(1)
		go sv.receiveLoop(t)
		return
	}
}
