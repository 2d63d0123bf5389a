package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"harvestsync/internal/domain/propagation"
	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/domain/user"
	"harvestsync/internal/infrastructure/crypto"
	"harvestsync/internal/infrastructure/harvest"
	"harvestsync/internal/infrastructure/postgres"
	"harvestsync/internal/infrastructure/webhook"
	"harvestsync/internal/shared/config"
)

var timeout time.Duration

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Management commands for the harvestsync API",
	Long: `Management commands for the harvestsync API.

Commands run against the database configured for the API (DB_* variables or
config.yaml) and reuse the API's services, so a manual run behaves like the
scheduled one.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Timeout for the operation (e.g., 5m, 1h)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is the subset of the API dependencies the commands share.
type env struct {
	cfg           *config.Config
	db            *postgres.DB
	users         *user.Service
	subscriptions *subscription.Service
	links         *postgres.LinkRepository
	assignments   *postgres.AssignmentRepository
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("Connected to database")

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	refresher := harvest.NewTokenRefresher(cfg.Harvest.ClientID, cfg.Harvest.ClientSecret, cfg.Harvest.TokenURL)

	return &env{
		cfg:           cfg,
		db:            db,
		users:         user.NewService(postgres.NewUserRepository(db, encryptor), refresher),
		subscriptions: subscription.NewService(postgres.NewSubscriptionRepository(db, encryptor), subscription.NewRevocations()),
		links:         postgres.NewLinkRepository(db),
		assignments:   postgres.NewAssignmentRepository(db),
	}, nil
}

func (e *env) Close() {
	e.db.Close()
}

func (e *env) propagation() *propagation.Service {
	return propagation.NewService(
		e.subscriptions,
		e.links,
		e.assignments,
		harvest.NewClient(e.cfg.Harvest.APIURL, e.cfg.Harvest.UserAgent),
		webhook.NewClient(e.cfg.Monday.SigningSecret),
		e.subscriptions.Revocations(),
		propagation.Config{
			Overlap:         e.cfg.Scheduler.UpdatedSinceOverlap,
			PageDelay:       e.cfg.Scheduler.PageDelay,
			Parallelism:     propagation.DefaultConfig().Parallelism,
			LedgerAccountID: e.cfg.Harvest.AccountID,
		},
	)
}

// withEnv opens the environment and a timeout context around fn.
func withEnv(fn func(ctx context.Context, e *env) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx, e); err != nil {
			return err
		}
		log.Printf("%s completed in %s", cmd.Name(), time.Since(start).Round(time.Millisecond))
		return nil
	}
}
