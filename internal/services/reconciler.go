package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartReconciler schedules ReconcileSettlements every interval. Runs never
// overlap. Shut the returned scheduler down on exit.
func (e *CoinFlipEngine) StartReconciler(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			runCtx, cancel := context.WithTimeout(ctx, interval)
			defer cancel()

			applied, err := e.ReconcileSettlements(runCtx)
			if err != nil {
				slog.Error("[Reconciler] run finished with errors", "applied", applied, "error", err)
				return
			}
			if applied > 0 {
				slog.Info("[Reconciler] applied settlements", "applied", applied)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("settlement-reconciler"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("failed to schedule reconciler: %w", err)
	}

	sched.Start()
	return sched, nil
}
