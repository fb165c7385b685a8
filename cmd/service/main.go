package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vocdoni/saas-billing/api"
	"github.com/vocdoni/saas-billing/internal/storage"
	"github.com/vocdoni/saas-billing/log"
	"github.com/vocdoni/saas-billing/notifications"
	"github.com/vocdoni/saas-billing/notifications/mailtemplates"
	"github.com/vocdoni/saas-billing/notifications/smtp"
	"github.com/vocdoni/saas-billing/stripe"
)

func main() {
	// define flags
	flag.StringP("host", "h", "0.0.0.0", "listen address")
	flag.IntP("port", "p", 8080, "listen port")
	flag.StringP("secret", "s", "", "API secret")
	flag.String("logLevel", "info", "log level (debug, info, warn, error)")
	flag.String("dbDriver", storage.DriverMongo, "database driver (mongo or postgres)")
	flag.String("mongoURL", "", "The URL of the MongoDB server")
	flag.String("mongoDB", "billing", "The name of the MongoDB database")
	flag.Bool("mongoTxn", false, "save changes in MongoDB transactions (requires a replica set)")
	flag.String("postgresDSN", "", "The DSN of the Postgres database")
	flag.String("stripeApiSecret", "", "Stripe API secret key")
	flag.String("stripeWebhookSecret", "", "Stripe webhook signing secret")
	flag.String("stripeBackendURL", "", "Stripe API URL override, for stripe-mock")
	flag.Int64("stripeMaxRetries", stripe.DefaultMaxNetworkRetries, "Stripe request retries")
	flag.String("taxPercent", "0", "tax percent applied to new subscriptions")
	flag.Duration("eventTTL", stripe.DefaultEventTTL, "how long processed webhook events are remembered")
	flag.String("emailFromName", "Billing", "email sender name")
	flag.String("emailFromAddress", "", "email sender address")
	flag.String("smtpServer", "", "SMTP server, emails are disabled when empty")
	flag.Int("smtpPort", 587, "SMTP server port")
	flag.String("smtpUsername", "", "SMTP username")
	flag.String("smtpPassword", "", "SMTP password")
	// parse flags
	flag.Parse()
	// initialize Viper
	viper.SetEnvPrefix("BILLING")
	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		panic(err)
	}
	viper.AutomaticEnv()
	log.Init(viper.GetString("logLevel"), "stdout", nil)
	// read the configuration
	host := viper.GetString("host")
	port := viper.GetInt("port")
	secret := viper.GetString("secret")
	if secret == "" {
		log.Fatal("secret is required")
	}
	taxPercent, err := decimal.NewFromString(viper.GetString("taxPercent"))
	if err != nil {
		log.Fatalf("invalid tax percent: %v", err)
	}
	// initialize the database
	database, err := storage.Open(storage.Config{
		Driver:      viper.GetString("dbDriver"),
		MongoURL:    viper.GetString("mongoURL"),
		MongoDB:     viper.GetString("mongoDB"),
		MongoTxn:    viper.GetBool("mongoTxn"),
		PostgresDSN: viper.GetString("postgresDSN"),
	})
	if err != nil {
		log.Fatalf("could not open the database: %v", err)
	}
	defer database.Close()
	// load the email templates and create the mail service if configured
	var mail notifications.NotificationService
	if server := viper.GetString("smtpServer"); server != "" {
		if err := mailtemplates.Load(); err != nil {
			log.Fatalf("could not load email templates: %v", err)
		}
		smtpService, err := smtp.New(&smtp.Config{
			FromName:     viper.GetString("emailFromName"),
			FromAddress:  viper.GetString("emailFromAddress"),
			SMTPServer:   server,
			SMTPPort:     viper.GetInt("smtpPort"),
			SMTPUsername: viper.GetString("smtpUsername"),
			SMTPPassword: viper.GetString("smtpPassword"),
		})
		if err != nil {
			log.Fatalf("could not create the SMTP service: %v", err)
		}
		mail = smtpService
		log.Infow("email service created", "server", server, "templates", len(mailtemplates.Available()))
	}
	// create the billing service
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	billing, err := stripe.NewService(&stripe.Config{
		APIKey:            viper.GetString("stripeApiSecret"),
		WebhookSecret:     viper.GetString("stripeWebhookSecret"),
		BackendURL:        viper.GetString("stripeBackendURL"),
		MaxNetworkRetries: viper.GetInt64("stripeMaxRetries"),
		TaxPercent:        taxPercent,
	}, database, stripe.NewMemoryEventStore(ctx, viper.GetDuration("eventTTL")), mail)
	if err != nil {
		log.Fatalf("could not create the billing service: %v", err)
	}
	go billing.RunMaintenance(ctx, time.Hour)
	// create the local API server
	server := api.New(&api.Config{
		Host:    host,
		Port:    port,
		Secret:  secret,
		DB:      database,
		Billing: billing,
	})
	server.Start()
	// wait until the process is stopped, as the server is running in a goroutine
	log.Infow("server started", "host", host, "port", port)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("could not stop the API server gracefully", "error", err)
	}
}
