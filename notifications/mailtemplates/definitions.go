// Package mailtemplates provides the email templates sent to billing
// customers, along with the helpers to render them.
package mailtemplates

import "github.com/vocdoni/saas-billing/notifications"

// SubscriptionStartedNotification is sent when a new subscription of the
// customer is confirmed by the payment provider.
var SubscriptionStartedNotification = MailTemplate{
	File: "subscription_started",
	Placeholder: notifications.Notification{
		Subject: "Your {{.PlanName}} subscription is active",
		PlainBody: `Hello {{.UserName}},

Your {{.PlanName}} subscription is now active.
{{if .TrialEnd}}Your trial ends on {{.TrialEnd}}.
{{end}}
Thank you!`,
	},
}

// PaymentFailedNotification is sent when the payment of an invoice fails.
var PaymentFailedNotification = MailTemplate{
	File: "payment_failed",
	Placeholder: notifications.Notification{
		Subject: "We could not process your payment",
		PlainBody: `Hello {{.UserName}},

The payment of {{.Amount}} {{.Currency}} for your subscription failed.
{{if .InvoiceURL}}You can review and pay the invoice here: {{.InvoiceURL}}
{{end}}
Please update your card to keep your subscription active.`,
	},
}

// SubscriptionCanceledNotification is sent when a subscription ends.
var SubscriptionCanceledNotification = MailTemplate{
	File: "subscription_canceled",
	Placeholder: notifications.Notification{
		Subject: "Your {{.PlanName}} subscription has been canceled",
		PlainBody: `Hello {{.UserName}},

Your {{.PlanName}} subscription has been canceled{{if .EndsAt}} and ends on {{.EndsAt}}{{end}}.

We hope to see you again.`,
	},
}
