package returns

import (
	"fmt"

	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
)

// allowedTransitions encodes the return saga. Receipt can be confirmed from
// any post-approval state because warehouses log arrivals at different scan
// granularity; refunds only ever start from RECEIVED.
var allowedTransitions = map[enums.ReturnStatus][]enums.ReturnStatus{
	enums.ReturnStatusPending: {
		enums.ReturnStatusApproved,
		enums.ReturnStatusRejected,
		enums.ReturnStatusClosed,
	},
	enums.ReturnStatusApproved: {
		enums.ReturnStatusPickupScheduled,
		enums.ReturnStatusPickedUp,
		enums.ReturnStatusReceived,
		enums.ReturnStatusRejected,
		enums.ReturnStatusClosed,
	},
	enums.ReturnStatusPickupScheduled: {
		enums.ReturnStatusPickedUp,
		enums.ReturnStatusReceived,
	},
	enums.ReturnStatusPickedUp: {
		enums.ReturnStatusReceived,
	},
	enums.ReturnStatusReceived: {
		enums.ReturnStatusRefundInitiated,
		enums.ReturnStatusRefundCompleted,
	},
	enums.ReturnStatusRefundInitiated: {
		enums.ReturnStatusRefundCompleted,
	},
}

// CanTransition reports whether the saga allows moving current to target.
func CanTransition(current, target enums.ReturnStatus) bool {
	for _, allowed := range allowedTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Transition validates a status move. A repeated target is a no-op with
// changed=false; anything else outside the graph is a state conflict.
func Transition(current, target enums.ReturnStatus) (bool, error) {
	if current == target {
		return false, nil
	}
	if current.IsTerminal() {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("return in terminal state %s", current))
	}
	if !CanTransition(current, target) {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("return cannot move from %s to %s", current, target))
	}
	return true, nil
}
