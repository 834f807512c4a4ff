package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeOrderConfirmed  NotificationType = "order_confirmed"
	NotificationTypeOrderCancelled  NotificationType = "order_cancelled"
	NotificationTypeOrderShipped    NotificationType = "order_shipped"
	NotificationTypeOrderDelivered  NotificationType = "order_delivered"
	NotificationTypeReturnRequested NotificationType = "return_requested"
	NotificationTypeReturnRefunded  NotificationType = "return_refunded"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderConfirmed,
	NotificationTypeOrderCancelled,
	NotificationTypeOrderShipped,
	NotificationTypeOrderDelivered,
	NotificationTypeReturnRequested,
	NotificationTypeReturnRefunded,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
