package enums

import "fmt"

// ReturnStatus tracks the lifecycle of a return request.
type ReturnStatus string

const (
	ReturnStatusPending         ReturnStatus = "PENDING"
	ReturnStatusApproved        ReturnStatus = "APPROVED"
	ReturnStatusPickupScheduled ReturnStatus = "PICKUP_SCHEDULED"
	ReturnStatusPickedUp        ReturnStatus = "PICKED_UP"
	ReturnStatusReceived        ReturnStatus = "RECEIVED"
	ReturnStatusRefundInitiated ReturnStatus = "REFUND_INITIATED"
	ReturnStatusRefundCompleted ReturnStatus = "REFUND_COMPLETED"
	ReturnStatusRejected        ReturnStatus = "REJECTED"
	ReturnStatusClosed          ReturnStatus = "CLOSED"
)

var validReturnStatuses = []ReturnStatus{
	ReturnStatusPending,
	ReturnStatusApproved,
	ReturnStatusPickupScheduled,
	ReturnStatusPickedUp,
	ReturnStatusReceived,
	ReturnStatusRefundInitiated,
	ReturnStatusRefundCompleted,
	ReturnStatusRejected,
	ReturnStatusClosed,
}

// String implements fmt.Stringer.
func (r ReturnStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReturnStatus.
func (r ReturnStatus) IsValid() bool {
	for _, candidate := range validReturnStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the return can no longer change state.
func (r ReturnStatus) IsTerminal() bool {
	switch r {
	case ReturnStatusRefundCompleted, ReturnStatusRejected, ReturnStatusClosed:
		return true
	default:
		return false
	}
}

// IsActive reports whether the return still blocks a new return for its items.
func (r ReturnStatus) IsActive() bool {
	return r != ReturnStatusRejected && r != ReturnStatusClosed
}

// ParseReturnStatus converts raw input into a ReturnStatus.
func ParseReturnStatus(value string) (ReturnStatus, error) {
	for _, candidate := range validReturnStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return status %q", value)
}
