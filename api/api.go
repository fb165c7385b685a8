// Package api provides the HTTP API of the billing service
//
//	@title						Billing API
//	@version					1.0
//	@description				Subscription billing on top of Stripe
//
//	@host						localhost:8080
//	@BasePath					/
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and the JWT token.
//
//	@tag.name					billing
//	@tag.description			Payment form, subscriptions and invoices
//
//	@tag.name					plans
//	@tag.description			Subscription plans operations
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
	"github.com/vocdoni/saas-billing/api/apicommon"
	"github.com/vocdoni/saas-billing/db"
	"github.com/vocdoni/saas-billing/log"
	"github.com/vocdoni/saas-billing/stripe"
	"github.com/vocdoni/saas-billing/validator"
)

const (
	jwtExpiration = 360 * time.Hour // 15 days
	// maxWebhookBodyBytes bounds the Stripe webhook payloads read.
	maxWebhookBodyBytes = int64(65536)
)

// Config holds the API server settings and dependencies.
type Config struct {
	Host    string
	Port    int
	Secret  string
	DB      db.Database
	Billing *stripe.Service
}

// API type represents the API HTTP server with JWT authentication capabilities.
type API struct {
	db        db.Database
	billing   *stripe.Service
	auth      *jwtauth.JWTAuth
	validator *validator.Validator
	host      string
	port      int
	router    *chi.Mux
	server    *http.Server
	now       func() time.Time
}

// New creates a new API HTTP server. It does not start the server. Use Start() for that.
func New(conf *Config) *API {
	if conf == nil {
		return nil
	}
	return &API{
		db:        conf.DB,
		billing:   conf.Billing,
		auth:      jwtauth.New("HS256", []byte(conf.Secret), nil),
		validator: validator.New(),
		host:      conf.Host,
		port:      conf.Port,
		now:       time.Now,
	}
}

// Start starts the API HTTP server (non blocking).
func (a *API) Start() {
	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.host, a.port),
		Handler:           a.initRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
}

// Shutdown gracefully stops a started server.
func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() http.Handler {
	// Create the router with a basic middleware stack
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Throttle(100))
	r.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	r.Use(middleware.Timeout(45 * time.Second))

	// protected routes
	r.Group(func(r chi.Router) {
		// seek, verify and validate JWT tokens
		r.Use(jwtauth.Verifier(a.auth))
		// handle valid JWT tokens
		r.Use(a.authenticator)
		// decode and validate the request body into model
		validated := func(model any) chi.Router {
			return r.With(a.validator.WithModel(model), a.validator.InputValidator)
		}
		// process the payment form
		log.Infow("new route", "method", "POST", "path", billingCheckoutEndpoint)
		validated(apicommon.CustomerPaymentViewModel{}).Post(billingCheckoutEndpoint, a.checkoutHandler)
		// replace the default card
		log.Infow("new route", "method", "POST", "path", billingCardsEndpoint)
		validated(apicommon.CardViewModel{}).Post(billingCardsEndpoint, a.addCardHandler)
		// list the user subscriptions
		log.Infow("new route", "method", "GET", "path", billingSubscriptionsEndpoint)
		r.Get(billingSubscriptionsEndpoint, a.subscriptionsHandler)
		// change the plan of a subscription
		log.Infow("new route", "method", "PUT", "path", billingSubscriptionPlanEndpoint)
		validated(apicommon.ChangePlanRequest{}).Put(billingSubscriptionPlanEndpoint, a.changePlanHandler)
		// change the tax of a subscription
		log.Infow("new route", "method", "PUT", "path", billingSubscriptionTaxEndpoint)
		validated(apicommon.ChangeTaxRequest{}).Put(billingSubscriptionTaxEndpoint, a.changeTaxHandler)
		// cancel a subscription
		log.Infow("new route", "method", "DELETE", "path", billingSubscriptionEndpoint)
		r.Delete(billingSubscriptionEndpoint, a.cancelSubscriptionHandler)
		// list the user invoices
		log.Infow("new route", "method", "GET", "path", billingInvoicesEndpoint)
		r.Get(billingInvoicesEndpoint, a.invoicesHandler)
	})

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get(pingEndpoint, func(w http.ResponseWriter, _ *http.Request) {
			if _, err := w.Write([]byte(".")); err != nil {
				log.Warnw("failed to write ping response", "error", err)
			}
		})
		// get the available plans
		log.Infow("new route", "method", "GET", "path", plansEndpoint)
		r.Get(plansEndpoint, a.plansHandler)
		// handle stripe webhook
		log.Infow("new route", "method", "POST", "path", billingWebhookEndpoint)
		r.Post(billingWebhookEndpoint, a.webhookHandler)
	})
	a.router = r
	return r
}
