// Package notifications defines the messages sent to billing customers and
// the services able to deliver them.
package notifications

import "context"

// Notification is a message ready to be delivered. Body is the HTML version
// and PlainBody the text fallback.
type Notification struct {
	ToName    string
	ToAddress string
	ReplyTo   string
	Subject   string
	Body      string
	PlainBody string
}

// NotificationService delivers notifications.
type NotificationService interface {
	SendNotification(context.Context, *Notification) error
}
