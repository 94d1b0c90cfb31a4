package bridge

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// PushWatchdog monitors push channel health and triggers resubscription if needed
type PushWatchdog struct {
	coordinator   *Coordinator
	log           logr.Logger
	checkInterval time.Duration
	maxFailures   int
}

func NewPushWatchdog(coordinator *Coordinator, log logr.Logger, checkInterval time.Duration, maxFailures int) *PushWatchdog {
	return &PushWatchdog{
		coordinator:   coordinator,
		log:           log.WithName("PushWatchdog"),
		checkInterval: checkInterval,
		maxFailures:   maxFailures,
	}
}

func (w *PushWatchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	w.log.Info("Starting push watchdog", "check_interval", w.checkInterval, "max_failures", w.maxFailures)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Push watchdog stopped")
			return

		case <-ticker.C:
			if w.coordinator.PushConnected() {
				if consecutiveFailures > 0 {
					w.log.Info("Push connection recovered", "previous_failures", consecutiveFailures)
					consecutiveFailures = 0
				}
			} else {
				consecutiveFailures++
				w.log.Error(nil, "Push connection lost", "consecutive_failures", consecutiveFailures, "max_failures", w.maxFailures)

				if consecutiveFailures >= w.maxFailures {
					w.log.Info("Push connection stale, resubscribing")
					if err := w.coordinator.resubscribePush(ctx); err != nil {
						w.log.Error(err, "failed to resubscribe push channel")
					} else {
						consecutiveFailures = 0
					}
				}
			}
		}
	}
}
