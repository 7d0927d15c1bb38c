package jobs

import (
	"context"
	"log"
	"time"

	"semaphore/badging/internal/config"
	"semaphore/badging/internal/metrics"
	"semaphore/badging/internal/workflow"
)

type pendingCounter interface {
	CountPending(ctx context.Context) (workflow.Pending, error)
}

// StartRequestStatusJob periodically counts pending correction requests and
// logs when the backlog changes.
func StartRequestStatusJob(ctx context.Context, cfg config.Config, counter pendingCounter) {
	if !cfg.RequestStatusJobEnabled {
		return
	}
	if counter == nil {
		log.Printf("request status job disabled: workflow not configured")
		return
	}
	interval := cfg.RequestStatusJobInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.RequestStatusJobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		var last workflow.Pending
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				done := metrics.Global().RecordJob("request_status")
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				pending, err := counter.CountPending(tickCtx)
				cancel()
				done(err)
				if err != nil {
					log.Printf("request status job error: %v", err)
					continue
				}
				if pending != last {
					log.Printf("request status job: %d modifications and %d oublis pending", pending.Modifications, pending.Oublis)
					last = pending
				}
			}
		}
	}()
}
