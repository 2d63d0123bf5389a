package main

import (
	"log"

	"harvestsync/internal/domain/propagation"
	"harvestsync/internal/domain/reconcile"
	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/domain/user"
	"harvestsync/internal/infrastructure/crypto"
	"harvestsync/internal/infrastructure/harvest"
	"harvestsync/internal/infrastructure/monday"
	"harvestsync/internal/infrastructure/postgres"
	"harvestsync/internal/infrastructure/webhook"
	httphandlers "harvestsync/internal/interfaces/http"
	"harvestsync/internal/shared/auth"
	"harvestsync/internal/shared/config"
	"harvestsync/internal/shared/messages"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	ActionHandler       *httphandlers.ActionHandler
	SubscriptionHandler *httphandlers.SubscriptionHandler
	HealthHandler       *httphandlers.HealthHandler

	// Auth
	Verifier *auth.Verifier
	UserRepo *postgres.UserRepository

	// Services (for scheduler)
	UserService         *user.Service
	SubscriptionService *subscription.Service
	PropagationService  *propagation.Service
	Revocations         *subscription.Revocations
}

// NewDependencies initializes all application dependencies.
func NewDependencies(cfg *config.Config) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	msgs, err := messages.Load(cfg.Actions.MessagesFile)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Repositories
	userRepo := postgres.NewUserRepository(db, encryptor)
	subscriptionRepo := postgres.NewSubscriptionRepository(db, encryptor)
	linkRepo := postgres.NewLinkRepository(db)
	taskRepo := postgres.NewTaskRepository(db)
	assignmentRepo := postgres.NewAssignmentRepository(db)

	// Gateways
	ledger := harvest.NewClient(cfg.Harvest.APIURL, cfg.Harvest.UserAgent)
	board := monday.NewClient(cfg.Monday.APIURL, cfg.Monday.FileURL)
	refresher := harvest.NewTokenRefresher(cfg.Harvest.ClientID, cfg.Harvest.ClientSecret, cfg.Harvest.TokenURL)
	deliverer := webhook.NewClient(cfg.Monday.SigningSecret)

	// Domain services
	revoked := subscription.NewRevocations()
	userService := user.NewService(userRepo, refresher)
	subscriptionService := subscription.NewService(subscriptionRepo, revoked)
	reconcileService := reconcile.NewService(linkRepo, taskRepo, assignmentRepo, ledger, board, msgs)
	propagationService := propagation.NewService(
		subscriptionService,
		linkRepo,
		assignmentRepo,
		ledger,
		deliverer,
		revoked,
		propagation.Config{
			Overlap:         cfg.Scheduler.UpdatedSinceOverlap,
			PageDelay:       cfg.Scheduler.PageDelay,
			Parallelism:     propagation.DefaultConfig().Parallelism,
			LedgerAccountID: cfg.Harvest.AccountID,
		},
	)

	return &Dependencies{
		DB:                  db,
		ActionHandler:       httphandlers.NewActionHandler(reconcileService, msgs, cfg.Harvest.AccountID, cfg.Actions.Timeout),
		SubscriptionHandler: httphandlers.NewSubscriptionHandler(subscriptionService),
		HealthHandler:       httphandlers.NewHealthHandler(db),
		Verifier:            auth.NewVerifier(cfg.Monday.SigningSecret),
		UserRepo:            userRepo,
		UserService:         userService,
		SubscriptionService: subscriptionService,
		PropagationService:  propagationService,
		Revocations:         revoked,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
