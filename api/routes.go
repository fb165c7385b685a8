package api

const (
	// GET /ping to check the server is up
	pingEndpoint = "/ping"

	// plans routes

	// GET /billing/plans to list the plans customers can subscribe to
	plansEndpoint = "/billing/plans"

	// billing routes

	// POST /billing/webhook to receive the Stripe events
	billingWebhookEndpoint = "/billing/webhook"
	// POST /billing/checkout to process the payment form
	billingCheckoutEndpoint = "/billing/checkout"
	// POST /billing/cards to replace the default card
	billingCardsEndpoint = "/billing/cards"
	// GET /billing/subscriptions to list the subscriptions of the user
	billingSubscriptionsEndpoint = "/billing/subscriptions"
	// DELETE /billing/subscriptions/{id}?atPeriodEnd=true to cancel a subscription
	billingSubscriptionEndpoint = "/billing/subscriptions/{id}"
	// PUT /billing/subscriptions/{id}/plan to change the plan of a subscription
	billingSubscriptionPlanEndpoint = "/billing/subscriptions/{id}/plan"
	// PUT /billing/subscriptions/{id}/tax to change the tax of a subscription
	billingSubscriptionTaxEndpoint = "/billing/subscriptions/{id}/tax"
	// GET /billing/invoices?sync=true to list the invoices of the user
	billingInvoicesEndpoint = "/billing/invoices"
)
