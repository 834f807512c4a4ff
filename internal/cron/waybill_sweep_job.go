package cron

import (
	"context"
	"fmt"

	"github.com/mehtakaran/shopline-backend/internal/shipping"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
)

const defaultSweepBatchSize = 25

// waybillSweeper is the slice of the shipping service the job drives.
type waybillSweeper interface {
	SweepPendingWaybills(ctx context.Context, batchSize int) (*shipping.SweepReport, error)
}

// WaybillSweepJobParams configure the waybill sweep job.
type WaybillSweepJobParams struct {
	Logger    *logger.Logger
	Shipping  waybillSweeper
	BatchSize int
}

type waybillSweepJob struct {
	logg      *logger.Logger
	shipping  waybillSweeper
	batchSize int
}

// NewWaybillSweepJob builds the job that assigns waybills to paid orders the
// carrier accepted without allocating one.
func NewWaybillSweepJob(params WaybillSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Shipping == nil {
		return nil, fmt.Errorf("shipping service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &waybillSweepJob{
		logg:      params.Logger,
		shipping:  params.Shipping,
		batchSize: batchSize,
	}, nil
}

func (j *waybillSweepJob) Name() string { return "waybill-sweep" }

func (j *waybillSweepJob) Run(ctx context.Context) error {
	report, err := j.shipping.SweepPendingWaybills(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("waybill sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":           report.Scanned,
		"waybills_assigned": report.WaybillsAssigned,
		"pickups_scheduled": report.PickupsScheduled,
		"failures":          report.Failures,
	})
	j.logg.Info(logCtx, "waybill sweep complete")
	return nil
}
