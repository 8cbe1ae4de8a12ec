package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
)

type fakeUnnotifiedReader struct {
	ids []uuid.UUID
}

func (f *fakeUnnotifiedReader) PaidWithUnnotifiedItems(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return f.ids, nil
}

type fakeBridge struct {
	dispatched []uuid.UUID
	failOn     uuid.UUID
}

func (f *fakeBridge) DispatchOrder(ctx context.Context, orderID uuid.UUID) error {
	if orderID == f.failOn {
		return errors.New("supplier unreachable")
	}
	f.dispatched = append(f.dispatched, orderID)
	return nil
}

func TestDispatchRetryJobRedrivesOrders(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	bridge := &fakeBridge{}

	job, err := NewDispatchRetryJob(DispatchRetryJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		Reader: &fakeUnnotifiedReader{ids: ids},
		Bridge: bridge,
		MinAge: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if len(bridge.dispatched) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(bridge.dispatched))
	}
}

func TestDispatchRetryJobAggregatesFailures(t *testing.T) {
	bad := uuid.New()
	good := uuid.New()
	bridge := &fakeBridge{failOn: bad}

	job, err := NewDispatchRetryJob(DispatchRetryJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		Reader: &fakeUnnotifiedReader{ids: []uuid.UUID{bad, good}},
		Bridge: bridge,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error when a dispatch fails")
	}
	if len(bridge.dispatched) != 1 || bridge.dispatched[0] != good {
		t.Fatalf("expected the healthy order to still dispatch")
	}
}
