package orders

import (
	"testing"
	"time"

	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
)

func TestTransitionFollowsGraph(t *testing.T) {
	t.Parallel()

	path := []enums.OrderStatus{
		enums.OrderStatusProcessing,
		enums.OrderStatusShipped,
		enums.OrderStatusOutForDelivery,
		enums.OrderStatusDelivered,
		enums.OrderStatusCompleted,
	}

	current := enums.OrderStatusPending
	for _, next := range path {
		changed, err := Transition(current, next)
		if err != nil {
			t.Fatalf("transition %s -> %s: %v", current, next, err)
		}
		if !changed {
			t.Fatalf("expected %s -> %s to apply", current, next)
		}
		current = next
	}
}

func TestTransitionRepeatIsNoOp(t *testing.T) {
	t.Parallel()

	changed, err := Transition(enums.OrderStatusShipped, enums.OrderStatusShipped)
	if err != nil {
		t.Fatalf("repeat transition: %v", err)
	}
	if changed {
		t.Fatal("expected repeated status to be a no-op")
	}
}

func TestTransitionRejectsBackwardAndTerminal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from enums.OrderStatus
		to   enums.OrderStatus
	}{
		{enums.OrderStatusDelivered, enums.OrderStatusShipped},
		{enums.OrderStatusShipped, enums.OrderStatusPending},
		{enums.OrderStatusCancelled, enums.OrderStatusProcessing},
		{enums.OrderStatusCompleted, enums.OrderStatusCancelled},
		{enums.OrderStatusPending, enums.OrderStatusDelivered},
		{enums.OrderStatusOutForDelivery, enums.OrderStatusCancelled},
	}

	for _, tc := range cases {
		if _, err := Transition(tc.from, tc.to); err == nil {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestCancellationGuardMessages(t *testing.T) {
	t.Parallel()

	now := time.Now()
	window := 24 * time.Hour

	cases := []struct {
		name      string
		status    enums.OrderStatus
		createdAt time.Time
		wantErr   bool
	}{
		{"pending allowed", enums.OrderStatusPending, now.Add(-48 * time.Hour), false},
		{"processing inside window", enums.OrderStatusProcessing, now.Add(-23 * time.Hour), false},
		{"processing outside window", enums.OrderStatusProcessing, now.Add(-25 * time.Hour), true},
		{"shipped rejected", enums.OrderStatusShipped, now, true},
		{"delivered rejected", enums.OrderStatusDelivered, now, true},
		{"completed rejected", enums.OrderStatusCompleted, now, true},
		{"cancelled rejected", enums.OrderStatusCancelled, now, true},
	}

	for _, tc := range cases {
		err := CancellationGuard(tc.status, tc.createdAt, now, window)
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected guard error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected guard error %v", tc.name, err)
		}
		if err != nil {
			if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
				t.Fatalf("%s: expected state conflict, got %v", tc.name, err)
			}
		}
	}
}
