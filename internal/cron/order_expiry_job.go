package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
	"github.com/gustavoferreira/dropmart-backend/pkg/metrics"
)

const expirySweepBatch = 200

type staleOrderReader interface {
	StaleOrders(ctx context.Context, statuses []enums.OrderStatus, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderExpirer interface {
	Expire(ctx context.Context, orderID uuid.UUID) error
}

// OrderExpiryJobParams configure the abandoned checkout sweep.
type OrderExpiryJobParams struct {
	Logger  *logger.Logger
	Reader  staleOrderReader
	Orders  orderExpirer
	Metrics *metrics.CronJobMetrics
	MaxAge  time.Duration
}

// NewOrderExpiryJob builds the sweep that cancels orders that never paid.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("stale order reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order expirer required")
	}
	if params.MaxAge <= 0 {
		params.MaxAge = 24 * time.Hour
	}
	return &orderExpiryJob{
		logg:    params.Logger,
		reader:  params.Reader,
		orders:  params.Orders,
		metrics: params.Metrics,
		maxAge:  params.MaxAge,
		now:     time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg    *logger.Logger
	reader  staleOrderReader
	orders  orderExpirer
	metrics *metrics.CronJobMetrics
	maxAge  time.Duration
	now     func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	stale, err := j.reader.StaleOrders(ctx,
		[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusAwaitingPayment},
		cutoff, expirySweepBatch)
	if err != nil {
		return fmt.Errorf("query stale orders: %w", err)
	}

	expired := 0
	var errs []error
	for _, order := range stale {
		if err := j.orders.Expire(ctx, order.ID); err != nil {
			errs = append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		expired++
	}

	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), expired)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"expired": expired, "candidates": len(stale)})
	j.logg.Info(logCtx, "order expiry sweep complete")
	return multierr.Combine(errs...)
}
