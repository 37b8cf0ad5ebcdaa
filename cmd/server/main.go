package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/stillwaterhq/stillwater/internal/acl"
	"github.com/stillwaterhq/stillwater/internal/api"
	"github.com/stillwaterhq/stillwater/internal/automigrate"
	"github.com/stillwaterhq/stillwater/internal/cascade"
	"github.com/stillwaterhq/stillwater/internal/config"
	"github.com/stillwaterhq/stillwater/internal/logger"
	"github.com/stillwaterhq/stillwater/internal/middleware"
	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/relay"
	"github.com/stillwaterhq/stillwater/internal/store"
	"github.com/stillwaterhq/stillwater/internal/webhook"
	"github.com/stillwaterhq/stillwater/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stillwater: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var log *zap.Logger
	if cfg.IsDevelopment() {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	if cfg.IsDevelopment() {
		if err := automigrate.Run(cfg.DatabaseURL, "migrations", log); err != nil {
			return fmt.Errorf("failed to auto-migrate: %w", err)
		}
	}

	conversations := store.NewConversationStore(db)
	contacts := store.NewContactStore(db)
	labels := store.NewLabelStore(db)
	sessionLabels := store.NewSessionLabelStore(db)
	accounts := store.NewAccountStore(db)
	users := store.NewUserStore(db)
	jobs := store.NewSyncJobStore(db)

	aclChecker := acl.NewChecker(users)
	client := platform.NewHTTPClient()

	hub := ws.NewHub()
	go hub.Run()
	broadcaster := ws.NewBroadcaster(hub, log)

	relayer := relay.NewRelay(conversations, accounts, users, aclChecker, client, broadcaster, log)
	reconciler := relay.NewReconciler(contacts, conversations, accounts, client, log)
	mapper := webhook.NewLabelMapper(sessionLabels, conversations, relayer, log)

	resolver, err := buildCascadeResolver(db, contacts, accounts, client, broadcaster, log)
	if err != nil {
		return fmt.Errorf("failed to build cascade resolver: %w", err)
	}

	var verifier *webhook.Verifier
	if cfg.Webhook.Secret != "" {
		verifier = webhook.NewVerifier(cfg.Webhook.Secret).WithMaxAge(cfg.Webhook.MaxAge)
	} else {
		log.Warn("PLATFORM_WEBHOOK_SECRET is not set, webhook signatures are not verified")
	}

	worker := relay.NewWorker(jobs, map[string]relay.JobHandler{
		store.SyncJobTypeContactReconcile: func(ctx context.Context, job store.SyncJob) error {
			var payload relay.ContactReconcilePayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("failed to decode reconcile payload: %w", err)
			}
			_, err := reconciler.ReconcileContact(ctx, payload.ContactID)
			return err
		},
		store.SyncJobTypeWebhookEvent: func(ctx context.Context, job store.SyncJob) error {
			event, err := webhook.ParseEvent(job.Payload)
			if err != nil {
				return fmt.Errorf("failed to decode webhook event: %w", err)
			}
			return mapper.HandleLabelEvent(ctx, event)
		},
	}, relay.WorkerConfig{
		PollInterval: cfg.Reconcile.PollInterval,
		MaxPerPoll:   cfg.Reconcile.MaxPerPoll,
		RunTimeout:   cfg.Reconcile.RunTimeout,
	})
	worker.Logf = log.Sugar().Warnf

	router := api.NewRouter(api.Deps{
		Conversations:   conversations,
		Contacts:        contacts,
		Labels:          labels,
		SessionLabels:   sessionLabels,
		Accounts:        accounts,
		Jobs:            jobs,
		ACL:             aclChecker,
		Relay:           relayer,
		AccountDeleter:  resolver,
		Client:          client,
		WebhookVerifier: verifier,
		Hub:             hub,
		Broadcast:       broadcaster,
		Logger:          log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Reconcile.Enabled {
		go worker.Start(ctx)
		log.Info("reconcile worker started",
			zap.Duration("poll_interval", cfg.Reconcile.PollInterval),
			zap.Int("max_per_poll", cfg.Reconcile.MaxPerPoll))
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("stillwater listening", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down cleanly: %w", err)
		}
	}
	return nil
}

// buildCascadeResolver registers the account deletion tree and its remote
// cleanup. Inbox ids and credentials are captured before the cascade runs
// because the rows holding them are part of the tree.
func buildCascadeResolver(
	db *sql.DB,
	contacts *store.ContactStore,
	accounts *store.AccountStore,
	client platform.Client,
	broadcaster *ws.Broadcaster,
	log *zap.Logger,
) (*cascade.Resolver, error) {
	registry, err := cascade.NewRegistry([]cascade.Descriptor{
		{
			Entity: "account",
			Table:  "accounts",
			Links: []cascade.Link{
				{Name: "conversations", Table: "conversations"},
				{Name: "sessionLabels", Table: "session_labels"},
				{Name: "contactInboxes", Table: "contact_inboxes"},
				{Name: "labels", Table: "labels"},
			},
		},
		{
			Entity:  "conversation",
			Table:   "conversations",
			Parents: []cascade.ParentRef{{Entity: "account", Column: "account_id"}},
			JunctionTables: []cascade.Junction{
				{Table: "conversation_labels", Column: "conversation_id"},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	resolver := cascade.NewResolver(db, registry, log)
	resolver.OnDelete("account", func(ctx context.Context, sc relay.SaveContext, id string) (cascade.CleanupFunc, error) {
		creds, err := accounts.ResolveCredentials(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNoPlatformLink) || errors.Is(err, store.ErrIncompleteCredentials) {
				log.Warn("account has no usable platform credentials, skipping remote cleanup",
					zap.String("account_id", id), zap.Error(err))
				return nil, nil
			}
			return nil, err
		}
		inboxIDs, err := contacts.ListRemoteInboxIDs(ctx, id)
		if err != nil {
			return nil, err
		}
		teamID := middleware.TeamFromContext(ctx)

		return func(ctx context.Context) error {
			for _, inboxID := range inboxIDs {
				err := client.DeleteInbox(ctx, platform.Credentials{
					BaseURL: creds.BaseURL,
					APIKey:  creds.APIKey,
				}, creds.RemoteAccountID, inboxID)
				if err != nil && !errors.Is(err, platform.ErrRemoteNotFound) {
					return fmt.Errorf("failed to delete remote inbox %d: %w", inboxID, err)
				}
			}
			if broadcaster != nil {
				broadcaster.AccountDeleted(teamID, id)
			}
			return nil
		}, nil
	})
	return resolver, nil
}
