package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"github.com/vocdoni/saas-billing/api/apicommon"
	"github.com/vocdoni/saas-billing/db"
	"github.com/vocdoni/saas-billing/db/gormdb"
	"github.com/vocdoni/saas-billing/stripe"
)

const (
	testSecret        = "super-secret"
	testWebhookSecret = "whsec_api_test"
	testUserID        = "user-1"
)

type apiTestCase struct {
	uri            string
	method         string
	token          string
	body           []byte
	expectedStatus int
}

// newStripeStub serves the Stripe endpoints used by the billing flows with
// canned answers.
func newStripeStub(c *qt.C) *httptest.Server {
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	subscription := func(id, status string) map[string]any {
		return map[string]any{
			"id": id, "object": "subscription", "customer": "cus_test", "status": status,
			"items": map[string]any{"object": "list", "data": []any{map[string]any{
				"id": "si_1", "object": "subscription_item",
				"price":              map[string]any{"id": "price_pro", "object": "price"},
				"current_period_end": time.Now().AddDate(0, 1, 0).Unix(),
			}}},
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/customers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"id": "cus_test", "object": "customer"})
	})
	mux.HandleFunc("POST /v1/customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": r.PathValue("id"), "object": "customer"})
	})
	card := map[string]any{
		"id": "pm_test", "object": "payment_method", "type": "card",
		"card": map[string]any{"brand": "visa", "last4": "4242"},
	}
	mux.HandleFunc("POST /v1/payment_methods", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, card)
	})
	mux.HandleFunc("POST /v1/payment_methods/{id}/attach", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, card)
	})
	mux.HandleFunc("POST /v1/subscriptions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, subscription("sub_test", "active"))
	})
	mux.HandleFunc("GET /v1/subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, subscription(r.PathValue("id"), "active"))
	})
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, subscription(r.PathValue("id"), "canceled"))
	})
	mux.HandleFunc("GET /v1/invoices", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"object": "list", "url": "/v1/invoices", "has_more": false, "data": []any{
			map[string]any{"id": "in_test", "object": "invoice", "customer": "cus_test", "status": "paid",
				"currency": "eur", "amount_paid": 2900, "total": 2900},
		}})
	})
	srv := httptest.NewServer(mux)
	c.Cleanup(srv.Close)
	return srv
}

// newTestAPI starts the API router on a test server, backed by an in-memory
// SQLite database and the Stripe stub.
func newTestAPI(c *qt.C) (*API, *httptest.Server) {
	ctx, cancel := context.WithCancel(context.Background())
	c.Cleanup(cancel)
	storage, err := gormdb.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())))
	c.Assert(err, qt.IsNil)
	c.Cleanup(storage.Close)

	dc := storage.NewContext()
	dc.Users().Add(&db.User{ID: testUserID, Email: "jane@example.com", Name: "Jane"})
	dc.SubscriptionPlans().Add(&db.SubscriptionPlan{
		ID: "plan-pro", Name: "Pro", StripePlanID: "price_pro", Type: db.PlanTypeMonthly,
		BasePrice: decimal.RequireFromString("29.00"),
	})
	dc.SubscriptionPlans().Add(&db.SubscriptionPlan{ID: "plan-old", Name: "Old", StripePlanID: "price_old", Disabled: true})
	_, err = dc.SaveChanges(ctx)
	c.Assert(err, qt.IsNil)

	billing, err := stripe.NewService(&stripe.Config{
		APIKey:        "sk_test_api",
		WebhookSecret: testWebhookSecret,
		BackendURL:    newStripeStub(c).URL,
	}, storage, stripe.NewMemoryEventStore(ctx, 0), nil)
	c.Assert(err, qt.IsNil)

	a := New(&Config{Secret: testSecret, DB: storage, Billing: billing})
	srv := httptest.NewServer(a.initRouter())
	c.Cleanup(srv.Close)
	return a, srv
}

func request(c *qt.C, srv *httptest.Server, tc apiTestCase) (int, []byte) {
	req, err := http.NewRequest(tc.method, srv.URL+tc.uri, bytes.NewReader(tc.body))
	c.Assert(err, qt.IsNil)
	if tc.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.token != "" {
		req.Header.Set("Authorization", "Bearer "+tc.token)
	}
	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, qt.IsNil)
	defer func() { _ = resp.Body.Close() }()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	c.Assert(err, qt.IsNil)
	return resp.StatusCode, buf.Bytes()
}

func mustMarshal(i any) []byte {
	b, err := json.Marshal(i)
	if err != nil {
		panic(err)
	}
	return b
}

func validPaymentForm() apicommon.CustomerPaymentViewModel {
	return apicommon.CustomerPaymentViewModel{
		CardViewModel: apicommon.CardViewModel{
			Name:        "Jane Doe",
			CardNumber:  "4242 4242 4242 4242",
			Cvc:         "123",
			ExpiryMonth: 12,
			ExpiryYear:  28,
			AddressViewModel: apicommon.AddressViewModel{
				City:    "Barcelona",
				Country: "ES",
			},
		},
		Subscriptions: []apicommon.CustomerSubscriptionViewModel{{PlanID: "plan-pro"}},
	}
}

func TestAuthentication(t *testing.T) {
	c := qt.New(t)
	a, srv := newTestAPI(c)

	token, expiration, err := a.MakeToken(testUserID)
	c.Assert(err, qt.IsNil)
	c.Assert(expiration.After(time.Now().Add(jwtExpiration-time.Minute)), qt.IsTrue)
	unknown, _, err := a.MakeToken("nobody")
	c.Assert(err, qt.IsNil)
	other := New(&Config{Secret: "another-secret"})
	forged, _, err := other.MakeToken(testUserID)
	c.Assert(err, qt.IsNil)

	for _, tc := range []apiTestCase{
		{uri: pingEndpoint, method: http.MethodGet, expectedStatus: http.StatusOK},
		{uri: plansEndpoint, method: http.MethodGet, expectedStatus: http.StatusOK},
		{uri: billingSubscriptionsEndpoint, method: http.MethodGet, expectedStatus: http.StatusUnauthorized},
		{uri: billingSubscriptionsEndpoint, method: http.MethodGet, token: unknown, expectedStatus: http.StatusUnauthorized},
		{uri: billingSubscriptionsEndpoint, method: http.MethodGet, token: forged, expectedStatus: http.StatusUnauthorized},
		{uri: billingSubscriptionsEndpoint, method: http.MethodGet, token: token, expectedStatus: http.StatusOK},
		{uri: billingInvoicesEndpoint, method: http.MethodGet, token: token, expectedStatus: http.StatusOK},
	} {
		status, body := request(c, srv, tc)
		c.Assert(status, qt.Equals, tc.expectedStatus, qt.Commentf("%s %s: %s", tc.method, tc.uri, body))
	}
}

func TestPlansEndpoint(t *testing.T) {
	c := qt.New(t)
	_, srv := newTestAPI(c)

	status, body := request(c, srv, apiTestCase{uri: plansEndpoint, method: http.MethodGet})
	c.Assert(status, qt.Equals, http.StatusOK)
	var plans []apicommon.PlanResponse
	c.Assert(json.Unmarshal(body, &plans), qt.IsNil)
	c.Assert(plans, qt.HasLen, 1)
	c.Assert(plans[0].ID, qt.Equals, "plan-pro")
	c.Assert(plans[0].Type, qt.Equals, "monthly")
	c.Assert(plans[0].BasePrice.Equal(decimal.NewFromInt(29)), qt.IsTrue)
}

func TestCheckoutEndpoint(t *testing.T) {
	c := qt.New(t)
	a, srv := newTestAPI(c)
	token, _, err := a.MakeToken(testUserID)
	c.Assert(err, qt.IsNil)

	invalid := validPaymentForm()
	invalid.CardNumber = "1234"
	invalid.ExpiryMonth = 13
	status, body := request(c, srv, apiTestCase{
		uri: billingCheckoutEndpoint, method: http.MethodPost, token: token, body: mustMarshal(invalid),
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	var errResp struct {
		Code int `json:"code"`
		Data []struct {
			Field string `json:"field"`
		} `json:"data"`
	}
	c.Assert(json.Unmarshal(body, &errResp), qt.IsNil)
	c.Assert(errResp.Code, qt.Equals, 40037)
	c.Assert(errResp.Data, qt.HasLen, 2)

	status, _ = request(c, srv, apiTestCase{
		uri: billingCheckoutEndpoint, method: http.MethodPost, token: token, body: []byte("{"),
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)

	missingPlan := validPaymentForm()
	missingPlan.Subscriptions[0].PlanID = "plan-missing"
	status, _ = request(c, srv, apiTestCase{
		uri: billingCheckoutEndpoint, method: http.MethodPost, token: token, body: mustMarshal(missingPlan),
	})
	c.Assert(status, qt.Equals, http.StatusNotFound)

	status, body = request(c, srv, apiTestCase{
		uri: billingCheckoutEndpoint, method: http.MethodPost, token: token, body: mustMarshal(validPaymentForm()),
	})
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("%s", body))
	var res apicommon.CheckoutResponse
	c.Assert(json.Unmarshal(body, &res), qt.IsNil)
	c.Assert(res.CustomerID, qt.Equals, "cus_test")
	c.Assert(res.Card.Last4, qt.Equals, "4242")
	c.Assert(res.Card.ExpYear, qt.Equals, 2028)
	c.Assert(res.Subscriptions, qt.HasLen, 1)
	c.Assert(res.Subscriptions[0].Status, qt.Equals, "pending")
	c.Assert(res.Subscriptions[0].Active, qt.IsTrue)

	// the new subscription is listed and can be canceled
	status, body = request(c, srv, apiTestCase{uri: billingSubscriptionsEndpoint, method: http.MethodGet, token: token})
	c.Assert(status, qt.Equals, http.StatusOK)
	var subs []apicommon.SubscriptionResponse
	c.Assert(json.Unmarshal(body, &subs), qt.IsNil)
	c.Assert(subs, qt.HasLen, 1)

	status, body = request(c, srv, apiTestCase{
		uri: "/billing/subscriptions/" + subs[0].ID, method: http.MethodDelete, token: token,
	})
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("%s", body))
	var canceled apicommon.CancelResponse
	c.Assert(json.Unmarshal(body, &canceled), qt.IsNil)
	c.Assert(canceled.EndsAt.IsZero(), qt.IsFalse)

	status, _ = request(c, srv, apiTestCase{
		uri: "/billing/subscriptions/" + subs[0].ID, method: http.MethodDelete, token: token,
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)

	status, _ = request(c, srv, apiTestCase{
		uri: "/billing/subscriptions/unknown/tax", method: http.MethodPut, token: token,
		body: mustMarshal(apicommon.ChangeTaxRequest{TaxPercent: decimal.NewFromInt(10)}),
	})
	c.Assert(status, qt.Equals, http.StatusNotFound)

	status, _ = request(c, srv, apiTestCase{
		uri: "/billing/subscriptions/" + subs[0].ID + "/tax", method: http.MethodPut, token: token,
		body: mustMarshal(apicommon.ChangeTaxRequest{TaxPercent: decimal.NewFromInt(120)}),
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)

	// invoices are pulled from stripe on demand
	status, body = request(c, srv, apiTestCase{uri: billingInvoicesEndpoint + "?sync=true", method: http.MethodGet, token: token})
	c.Assert(status, qt.Equals, http.StatusOK)
	var invoices []apicommon.InvoiceResponse
	c.Assert(json.Unmarshal(body, &invoices), qt.IsNil)
	c.Assert(invoices, qt.HasLen, 1)
	c.Assert(invoices[0].Paid, qt.IsTrue)
}

func TestWebhookEndpoint(t *testing.T) {
	c := qt.New(t)
	_, srv := newTestAPI(c)

	payload := mustMarshal(map[string]any{
		"id":          "evt_api_1",
		"object":      "event",
		"type":        "price.updated",
		"api_version": "2025-03-31.basil",
		"data": map[string]any{"object": map[string]any{
			"id": "price_pro", "object": "price", "active": true, "unit_amount": 3500,
		}},
	})
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	send := func(header string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+billingWebhookEndpoint, bytes.NewReader(signed.Payload))
		c.Assert(err, qt.IsNil)
		if header != "" {
			req.Header.Set("Stripe-Signature", header)
		}
		resp, err := http.DefaultClient.Do(req)
		c.Assert(err, qt.IsNil)
		_ = resp.Body.Close()
		return resp.StatusCode
	}
	c.Assert(send(""), qt.Equals, http.StatusBadRequest)
	c.Assert(send("t=1,v1=invalid"), qt.Equals, http.StatusBadRequest)
	c.Assert(send(signed.Header), qt.Equals, http.StatusOK)

	status, body := request(c, srv, apiTestCase{uri: plansEndpoint, method: http.MethodGet})
	c.Assert(status, qt.Equals, http.StatusOK)
	var plans []apicommon.PlanResponse
	c.Assert(json.Unmarshal(body, &plans), qt.IsNil)
	c.Assert(plans[0].BasePrice.Equal(decimal.NewFromInt(35)), qt.IsTrue)
}
