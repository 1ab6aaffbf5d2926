package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annavaram/storefront/internal/config"
	"github.com/annavaram/storefront/internal/db"
	"github.com/annavaram/storefront/internal/events"
	"github.com/annavaram/storefront/internal/mailer"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(db.Migrate)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(db.MigrateDown)
		},
	})
	return cmd
}

func consumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Send order confirmation emails for order.paid events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.AMQPURL == "" {
				return fmt.Errorf("RABBITMQ_URL environment variable is required")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			database, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			consumer := events.NewConsumer(cfg.AMQPURL, repo.NewUserRepo(database), repo.NewOrderRepo(database), mailer.New(cfg.SMTP))
			log.Printf("order-consumer: waiting for %s events", events.OrderPaidQueue)
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			log.Println("order-consumer: stopped")
			return nil
		},
	}
}

func pruneSessionsCmd() *cobra.Command {
	var olderThan string
	cmd := &cobra.Command{
		Use:   "prune-sessions",
		Short: "Delete sessions that expired or were revoked long ago",
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := config.ParseDuration(olderThan)
			if err != nil {
				return fmt.Errorf("--older-than: %w", err)
			}
			return withDatabase(func(database *sql.DB) error {
				n, err := repo.NewSessionRepo(database).DeleteExpired(context.Background(), time.Now().Add(-age))
				if err != nil {
					return err
				}
				log.Printf("Pruned %d sessions", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "30d", "minimum age past expiry or revocation")
	return cmd
}

func withDatabase(fn func(*sql.DB) error) error {
	databaseURL, err := config.LoadDatabaseURL()
	if err != nil {
		return err
	}
	database, err := db.Open(context.Background(), databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	return fn(database)
}
