package api

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/vocdoni/saas-billing/api/apicommon"
	"github.com/vocdoni/saas-billing/db"
	"github.com/vocdoni/saas-billing/errors"
	"github.com/vocdoni/saas-billing/log"
	"github.com/vocdoni/saas-billing/validator"
)

// writeError writes the API error wrapped by err, or a generic internal
// error for any other kind.
func writeError(w http.ResponseWriter, err error) {
	var apiErr errors.Error
	if stderrors.As(err, &apiErr) {
		apiErr.Write(w)
		return
	}
	errors.ErrGenericInternalServerError.WithErr(err).Write(w)
}

// billingReady writes an error and returns false when no billing service is
// configured.
func (a *API) billingReady(w http.ResponseWriter) bool {
	if a.billing == nil {
		errors.ErrStripeUnavailable.With("billing service not configured").Write(w)
		return false
	}
	return true
}

// webhookHandler godoc
//
//	@Summary		Handle Stripe webhook events
//	@Description	Process the events Stripe sends about subscriptions, invoices and prices. Events are
//	@Description	checked against the webhook signature and applied once.
//	@Tags			billing
//	@Accept			json
//	@Produce		json
//	@Param			Stripe-Signature	header		string	true	"Stripe webhook signature"
//	@Success		200					{string}	string	"OK"
//	@Failure		400					{object}	errors.Error	"Invalid signature"
//	@Failure		500					{object}	errors.Error	"Event could not be applied"
//	@Router			/billing/webhook [post]
func (a *API) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if !a.billingReady(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		errors.ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		errors.ErrWebhookSignature.With("missing Stripe-Signature header").Write(w)
		return
	}
	if err := a.billing.HandleWebhookEvent(r.Context(), payload, signature); err != nil {
		writeError(w, err)
		return
	}
	apicommon.HTTPWriteOK(w)
}

// plansHandler godoc
//
//	@Summary		Get the available plans
//	@Description	Get the subscription plans customers can subscribe to
//	@Tags			plans
//	@Produce		json
//	@Success		200	{array}		apicommon.PlanResponse
//	@Failure		500	{object}	errors.Error	"Internal server error"
//	@Router			/billing/plans [get]
func (a *API) plansHandler(w http.ResponseWriter, r *http.Request) {
	if !a.billingReady(w) {
		return
	}
	plans, err := a.billing.Plans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	res := make([]apicommon.PlanResponse, 0, len(plans))
	for _, p := range plans {
		res = append(res, apicommon.PlanFromDB(p))
	}
	apicommon.HTTPWriteJSON(w, res)
}

// checkoutHandler godoc
//
//	@Summary		Process the payment form
//	@Description	Register the user as a Stripe customer if needed, store the card as the default payment
//	@Description	method and subscribe the user to the requested plans.
//	@Tags			billing
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		apicommon.CustomerPaymentViewModel	true	"Payment form"
//	@Success		200		{object}	apicommon.CheckoutResponse
//	@Failure		400		{object}	errors.Error	"Invalid input data"
//	@Failure		401		{object}	errors.Error	"Unauthorized"
//	@Failure		402		{object}	errors.Error	"Rejected by Stripe"
//	@Failure		404		{object}	errors.Error	"Plan not found"
//	@Failure		503		{object}	errors.Error	"Stripe unavailable"
//	@Router			/billing/checkout [post]
func (a *API) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	user, vm, ok := requestModel[apicommon.CustomerPaymentViewModel](w, r)
	if !ok || !a.billingReady(w) {
		return
	}
	res, err := a.billing.Checkout(r.Context(), user.ID, vm)
	if err != nil {
		writeError(w, err)
		return
	}
	out := apicommon.CheckoutResponse{
		CustomerID:    res.CustomerID,
		Subscriptions: make([]apicommon.SubscriptionResponse, 0, len(res.Subscriptions)),
	}
	if res.Card != nil {
		out.Card = apicommon.CardFromDB(res.Card)
	}
	for _, s := range res.Subscriptions {
		out.Subscriptions = append(out.Subscriptions, apicommon.SubscriptionFromDB(s, a.now()))
	}
	apicommon.HTTPWriteJSON(w, out)
}

// addCardHandler godoc
//
//	@Summary		Replace the default card
//	@Description	Store a new card as the default payment method of a user that already is a customer
//	@Tags			billing
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		apicommon.CardViewModel	true	"Card data"
//	@Success		200		{object}	apicommon.CardResponse
//	@Failure		400		{object}	errors.Error	"Invalid input data or user is not a customer"
//	@Failure		401		{object}	errors.Error	"Unauthorized"
//	@Failure		402		{object}	errors.Error	"Rejected by Stripe"
//	@Router			/billing/cards [post]
func (a *API) addCardHandler(w http.ResponseWriter, r *http.Request) {
	user, card, ok := requestModel[apicommon.CardViewModel](w, r)
	if !ok || !a.billingReady(w) {
		return
	}
	stored, err := a.billing.AddCard(r.Context(), user.ID, card)
	if err != nil {
		writeError(w, err)
		return
	}
	apicommon.HTTPWriteJSON(w, apicommon.CardFromDB(stored))
}

// subscriptionsHandler godoc
//
//	@Summary		List the user subscriptions
//	@Tags			billing
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}		apicommon.SubscriptionResponse
//	@Failure		401	{object}	errors.Error	"Unauthorized"
//	@Router			/billing/subscriptions [get]
func (a *API) subscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := apicommon.UserFromContext(r.Context())
	if !ok {
		errors.ErrUnauthorized.Write(w)
		return
	}
	if !a.billingReady(w) {
		return
	}
	subs, err := a.billing.UserSubscriptions(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	now := a.now()
	res := make([]apicommon.SubscriptionResponse, 0, len(subs))
	for _, s := range subs {
		res = append(res, apicommon.SubscriptionFromDB(s, now))
	}
	apicommon.HTTPWriteJSON(w, res)
}

// changePlanHandler godoc
//
//	@Summary		Change the plan of a subscription
//	@Tags			billing
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string						true	"Subscription id"
//	@Param			request	body		apicommon.ChangePlanRequest	true	"New plan"
//	@Success		200		{object}	apicommon.SubscriptionResponse
//	@Failure		401		{object}	errors.Error	"Unauthorized"
//	@Failure		403		{object}	errors.Error	"Subscription of another customer"
//	@Failure		404		{object}	errors.Error	"Subscription or plan not found"
//	@Router			/billing/subscriptions/{id}/plan [put]
func (a *API) changePlanHandler(w http.ResponseWriter, r *http.Request) {
	user, req, ok := requestModel[apicommon.ChangePlanRequest](w, r)
	if !ok || !a.billingReady(w) {
		return
	}
	sub, err := a.billing.ChangePlan(r.Context(), user.ID, apicommon.SubscriptionIDFromRequest(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	apicommon.HTTPWriteJSON(w, apicommon.SubscriptionFromDB(sub, a.now()))
}

// changeTaxHandler godoc
//
//	@Summary		Change the tax of a subscription
//	@Description	Set the tax percent applied to the next invoices. Zero removes the tax.
//	@Tags			billing
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string						true	"Subscription id"
//	@Param			request	body		apicommon.ChangeTaxRequest	true	"Tax percent"
//	@Success		200		{object}	apicommon.SubscriptionResponse
//	@Failure		400		{object}	errors.Error	"Invalid tax percent"
//	@Failure		401		{object}	errors.Error	"Unauthorized"
//	@Failure		404		{object}	errors.Error	"Subscription not found"
//	@Router			/billing/subscriptions/{id}/tax [put]
func (a *API) changeTaxHandler(w http.ResponseWriter, r *http.Request) {
	user, req, ok := requestModel[apicommon.ChangeTaxRequest](w, r)
	if !ok || !a.billingReady(w) {
		return
	}
	sub, err := a.billing.ChangeTax(r.Context(), user.ID, apicommon.SubscriptionIDFromRequest(r), req.TaxPercent)
	if err != nil {
		writeError(w, err)
		return
	}
	apicommon.HTTPWriteJSON(w, apicommon.SubscriptionFromDB(sub, a.now()))
}

// cancelSubscriptionHandler godoc
//
//	@Summary		Cancel a subscription
//	@Description	Cancel a subscription right away, or at the end of the current period when atPeriodEnd is true
//	@Tags			billing
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id			path		string	true	"Subscription id"
//	@Param			atPeriodEnd	query		bool	false	"Cancel at the end of the period"
//	@Success		200			{object}	apicommon.CancelResponse
//	@Failure		400			{object}	errors.Error	"Subscription already ended or malformed atPeriodEnd"
//	@Failure		401			{object}	errors.Error	"Unauthorized"
//	@Failure		404			{object}	errors.Error	"Subscription not found"
//	@Router			/billing/subscriptions/{id} [delete]
func (a *API) cancelSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := apicommon.UserFromContext(r.Context())
	if !ok {
		errors.ErrUnauthorized.Write(w)
		return
	}
	if !a.billingReady(w) {
		return
	}
	atPeriodEnd, err := apicommon.BoolQueryParam(r, "atPeriodEnd")
	if err != nil {
		errors.ErrMalformedURLParam.Withf("invalid atPeriodEnd value").Write(w)
		return
	}
	endsAt, err := a.billing.Cancel(r.Context(), user.ID, apicommon.SubscriptionIDFromRequest(r), atPeriodEnd)
	if err != nil {
		writeError(w, err)
		return
	}
	apicommon.HTTPWriteJSON(w, apicommon.CancelResponse{EndsAt: endsAt})
}

// invoicesHandler godoc
//
//	@Summary		List the user invoices
//	@Description	List the stored invoices of the user. With sync=true they are pulled from Stripe first.
//	@Tags			billing
//	@Produce		json
//	@Security		BearerAuth
//	@Param			sync	query		bool	false	"Pull the invoices from Stripe"
//	@Success		200		{array}		apicommon.InvoiceResponse
//	@Failure		401		{object}	errors.Error	"Unauthorized"
//	@Failure		503		{object}	errors.Error	"Stripe unavailable"
//	@Router			/billing/invoices [get]
func (a *API) invoicesHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := apicommon.UserFromContext(r.Context())
	if !ok {
		errors.ErrUnauthorized.Write(w)
		return
	}
	if !a.billingReady(w) {
		return
	}
	sync, err := apicommon.BoolQueryParam(r, "sync")
	if err != nil {
		errors.ErrMalformedURLParam.Withf("invalid sync value").Write(w)
		return
	}
	var invoices []*db.Invoice
	if sync {
		invoices, err = a.billing.SyncInvoices(r.Context(), user.ID)
	} else {
		invoices, err = a.billing.UserInvoices(r.Context(), user.ID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	res := make([]apicommon.InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		res = append(res, apicommon.InvoiceFromDB(inv))
	}
	apicommon.HTTPWriteJSON(w, res)
}

// requestModel returns the authenticated user and the validated body of the
// request, writing the error response when either is missing.
func requestModel[T any](w http.ResponseWriter, r *http.Request) (*db.User, *T, bool) {
	user, ok := apicommon.UserFromContext(r.Context())
	if !ok {
		errors.ErrUnauthorized.Write(w)
		return nil, nil, false
	}
	model, ok := validator.Model[T](r.Context())
	if !ok {
		log.Warnw("request body not validated", "path", r.URL.Path)
		errors.ErrMalformedBody.Write(w)
		return nil, nil, false
	}
	return user, model, true
}
