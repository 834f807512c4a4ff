package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/mehtakaran/shopline-backend/internal/shipping"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
)

func TestWaybillSweepJobRunsWithConfiguredBatch(t *testing.T) {
	sweeper := &fakeWaybillSweeper{report: &shipping.SweepReport{Scanned: 3, WaybillsAssigned: 2, PickupsScheduled: 2, Failures: 1}}
	job, err := NewWaybillSweepJob(WaybillSweepJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Shipping:  sweeper,
		BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("NewWaybillSweepJob: %v", err)
	}
	if job.Name() != "waybill-sweep" {
		t.Fatalf("unexpected job name %q", job.Name())
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.called != 1 {
		t.Fatalf("expected sweeper called once, got %d", sweeper.called)
	}
	if sweeper.lastBatch != 10 {
		t.Fatalf("expected batch size 10, got %d", sweeper.lastBatch)
	}
}

func TestWaybillSweepJobDefaultsBatchSize(t *testing.T) {
	sweeper := &fakeWaybillSweeper{report: &shipping.SweepReport{}}
	job, err := NewWaybillSweepJob(WaybillSweepJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Shipping: sweeper,
	})
	if err != nil {
		t.Fatalf("NewWaybillSweepJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.lastBatch != defaultSweepBatchSize {
		t.Fatalf("expected default batch size %d, got %d", defaultSweepBatchSize, sweeper.lastBatch)
	}
}

func TestWaybillSweepJobPropagatesError(t *testing.T) {
	sweeper := &fakeWaybillSweeper{err: errors.New("carrier down")}
	job, err := NewWaybillSweepJob(WaybillSweepJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Shipping: sweeper,
	})
	if err != nil {
		t.Fatalf("NewWaybillSweepJob: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeWaybillSweeper struct {
	report    *shipping.SweepReport
	err       error
	called    int
	lastBatch int
}

func (f *fakeWaybillSweeper) SweepPendingWaybills(ctx context.Context, batchSize int) (*shipping.SweepReport, error) {
	f.called++
	f.lastBatch = batchSize
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}
