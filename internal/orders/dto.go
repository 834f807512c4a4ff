package orders

import (
	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/pkg/db/models"
)

// StepOutcome classifies how one cancellation step ended.
type StepOutcome string

const (
	StepOK                StepOutcome = "ok"
	StepSkipped           StepOutcome = "skipped"
	StepFailedNonBlocking StepOutcome = "failed_nonblocking"
	StepFailedBlocking    StepOutcome = "failed_blocking"
)

// StepResult records the outcome of one ordered saga step.
type StepResult struct {
	Name    string      `json:"name"`
	Outcome StepOutcome `json:"outcome"`
	Error   string      `json:"error,omitempty"`
}

// CancelInput identifies the order being cancelled and who asked for it.
type CancelInput struct {
	OrderID    uuid.UUID
	CustomerID uuid.UUID
	Reason     string
}

// CancelResult reports the aggregate outcome so callers can distinguish full
// success from partial success.
type CancelResult struct {
	Order            *models.Order `json:"order"`
	CarrierCancelled bool          `json:"carrierCancelled"`
	RefundProcessed  bool          `json:"refundProcessed"`
	Steps            []StepResult  `json:"steps"`
}

// CancelCheck is the read-only answer to "can this order be cancelled now".
type CancelCheck struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
