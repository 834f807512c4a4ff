package orders

import (
	"fmt"
	"time"

	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
)

var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:        {enums.OrderStatusProcessing, enums.OrderStatusCancelled},
	enums.OrderStatusProcessing:     {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:        {enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered, enums.OrderStatusCancelled},
	enums.OrderStatusOutForDelivery: {enums.OrderStatusDelivered},
	enums.OrderStatusDelivered:      {enums.OrderStatusCompleted},
}

// CanTransition reports whether the state machine allows moving from one
// status to another.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a status move. A repeat of the current status returns
// changed=false with no error so duplicate webhook deliveries stay harmless.
func Transition(current, target enums.OrderStatus) (bool, error) {
	if !target.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", target))
	}
	if current == target {
		return false, nil
	}
	if current.IsTerminal() {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order is %s and cannot change state", current))
	}
	if !CanTransition(current, target) {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order cannot move from %s to %s", current, target))
	}
	return true, nil
}

// CancellationGuard enforces the user-initiated cancel rules. A nil return
// means the order may be cancelled right now.
func CancellationGuard(status enums.OrderStatus, createdAt, now time.Time, window time.Duration) error {
	switch status {
	case enums.OrderStatusCancelled:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is already cancelled")
	case enums.OrderStatusCompleted:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot cancel a completed order")
	case enums.OrderStatusDelivered:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order was delivered, use the return flow")
	case enums.OrderStatusShipped, enums.OrderStatusOutForDelivery:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order already shipped, reject at delivery or use the return flow")
	case enums.OrderStatusProcessing:
		if now.Sub(createdAt) > window {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cancellation window of %s has passed", window))
		}
		return nil
	case enums.OrderStatusPending:
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order status %q cannot be cancelled", status))
	}
}
