package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annavaram/storefront/internal/auth"
	"github.com/annavaram/storefront/internal/cart"
	"github.com/annavaram/storefront/internal/config"
	"github.com/annavaram/storefront/internal/db"
	"github.com/annavaram/storefront/internal/events"
	httphandler "github.com/annavaram/storefront/internal/http"
	"github.com/annavaram/storefront/internal/http/handlers"
	"github.com/annavaram/storefront/internal/mailer"
	"github.com/annavaram/storefront/internal/middleware"
	"github.com/annavaram/storefront/internal/order"
	"github.com/annavaram/storefront/internal/payment"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	return cmd
}

func runServe(skipMigrations bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if !skipMigrations {
		if err := db.Migrate(database); err != nil {
			return err
		}
	}

	redisClient := config.NewRedisClient(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Repositories
	userRepo := repo.NewUserRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	productRepo := repo.NewProductRepo(database)
	cartRepo := repo.NewCartRepo(database)
	orderRepo := repo.NewOrderRepo(database)
	paymentRepo := repo.NewPaymentRepo(database)

	// Auth
	mail := mailer.New(cfg.SMTP)
	jwtService := auth.NewJWTService(cfg.JWTAccessSecret, cfg.AccessTokenTTL)
	refreshTokens := auth.NewRefreshTokens(cfg.JWTRefreshSecret)
	sessions := auth.NewSessionManager(sessionRepo, userRepo, jwtService, refreshTokens, cfg.RefreshTokenTTL)
	otp := auth.NewOTPManager(userRepo, cfg.OTPSalt, auth.OTPConfig{
		TTL:         cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
		MaxPerDay:   cfg.OTPMaxPerDay,
	})
	authService := auth.NewService(userRepo, otp, sessions, auth.NewBcryptCredentials(cfg.BcryptCost), mail,
		auth.ServiceOptions{OTPTTL: cfg.OTPTTL, DevMode: cfg.DevMode})

	// Commerce
	publisher := events.NewPublisher(cfg.AMQPURL)
	if closer, ok := publisher.(*events.AMQPPublisher); ok {
		defer closer.Close()
	}

	var gateway payment.Gateway
	if client := payment.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpaySecret, cfg.RazorpayBaseURL, cfg.GatewayTimeout); client != nil {
		gateway = client
	}
	var ledger payment.EventLedger
	if l := payment.NewRedisLedger(redisClient, 24*time.Hour); l != nil {
		ledger = l
	}

	carts := cart.NewService(cartRepo, productRepo)
	orders := order.NewOrchestrator(carts, orderRepo, paymentRepo, gateway, publisher, order.Options{
		Currency:       cfg.Currency,
		KeyID:          cfg.RazorpayKeyID,
		StoreName:      cfg.StoreName,
		GatewayTimeout: cfg.GatewayTimeout,
	})
	webhookSecret := cfg.RazorpayWebhookSecret
	if webhookSecret == "" {
		log.Printf("RAZORPAY_WEBHOOK_SECRET not set; webhooks will be rejected")
	}
	reconciler := payment.NewReconciler(orderRepo, paymentRepo, carts, publisher, payment.Options{
		PaymentSecret: cfg.RazorpaySecret,
		WebhookSecret: webhookSecret,
		Ledger:        ledger,
	})

	authLimiter := middleware.NewLimiter(cfg.RateAuth, redisClient, "storefront:rl:auth")
	if rl, ok := authLimiter.(*middleware.RateLimiter); ok {
		defer rl.Close()
	}

	router := httphandler.NewRouter(httphandler.Handlers{
		Health:   handlers.NewHealthHandler(database),
		Auth:     handlers.NewAuthHandler(authService, cfg.CookieSecure),
		Products: handlers.NewProductHandler(productRepo),
		Cart:     handlers.NewCartHandler(carts),
		Orders:   handlers.NewOrderHandler(orders),
		Payments: handlers.NewPaymentHandler(reconciler),
	}, authService, authLimiter)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	}

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server exited")
	return nil
}
