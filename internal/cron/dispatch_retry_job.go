package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
	"github.com/gustavoferreira/dropmart-backend/pkg/metrics"
)

const dispatchSweepBatch = 200

type unnotifiedOrderReader interface {
	PaidWithUnnotifiedItems(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type orderDispatcher interface {
	DispatchOrder(ctx context.Context, orderID uuid.UUID) error
}

// DispatchRetryJobParams configure the supplier notification retry sweep.
type DispatchRetryJobParams struct {
	Logger  *logger.Logger
	Reader  unnotifiedOrderReader
	Bridge  orderDispatcher
	Metrics *metrics.CronJobMetrics
	MinAge  time.Duration
}

// NewDispatchRetryJob builds the sweep that re-drives paid orders whose
// supplier notifications did not all land on the first attempt.
func NewDispatchRetryJob(params DispatchRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("unnotified order reader required")
	}
	if params.Bridge == nil {
		return nil, fmt.Errorf("dispatch bridge required")
	}
	if params.MinAge <= 0 {
		params.MinAge = 15 * time.Minute
	}
	return &dispatchRetryJob{
		logg:    params.Logger,
		reader:  params.Reader,
		bridge:  params.Bridge,
		metrics: params.Metrics,
		minAge:  params.MinAge,
		now:     time.Now,
	}, nil
}

type dispatchRetryJob struct {
	logg    *logger.Logger
	reader  unnotifiedOrderReader
	bridge  orderDispatcher
	metrics *metrics.CronJobMetrics
	minAge  time.Duration
	now     func() time.Time
}

func (j *dispatchRetryJob) Name() string { return "dispatch-retry" }

func (j *dispatchRetryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.minAge)
	orderIDs, err := j.reader.PaidWithUnnotifiedItems(ctx, cutoff, dispatchSweepBatch)
	if err != nil {
		return fmt.Errorf("query undispatched orders: %w", err)
	}

	dispatched := 0
	var errs []error
	for _, orderID := range orderIDs {
		if err := j.bridge.DispatchOrder(ctx, orderID); err != nil {
			errs = append(errs, fmt.Errorf("dispatch order %s: %w", orderID, err))
			continue
		}
		dispatched++
	}

	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), dispatched)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"dispatched": dispatched, "candidates": len(orderIDs)})
	j.logg.Info(logCtx, "dispatch retry sweep complete")
	return multierr.Combine(errs...)
}
