package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/stillwaterhq/stillwater/internal/acl"
	"github.com/stillwaterhq/stillwater/internal/middleware"
	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/store"
	"github.com/stillwaterhq/stillwater/internal/webhook"
	"github.com/stillwaterhq/stillwater/internal/ws"
)

var startTime = time.Now()

type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// Deps bundles the wired components the router exposes over HTTP.
type Deps struct {
	Conversations   *store.ConversationStore
	Contacts        *store.ContactStore
	Labels          *store.LabelStore
	SessionLabels   *store.SessionLabelStore
	Accounts        *store.AccountStore
	Jobs            *store.SyncJobStore
	ACL             *acl.Checker
	Relay           ConversationRelay
	AccountDeleter  AccountDeleter
	Client          platform.Client
	WebhookVerifier *webhook.Verifier
	Hub             *ws.Hub
	Broadcast       LabelBroadcaster
	Logger          *zap.Logger
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Team-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(chimiddleware.SetHeader("Content-Type", "application/json"))

	r.Get("/health", handleHealth)
	r.Get("/", handleRoot)
	if deps.Hub != nil {
		r.Handle("/ws", &ws.Handler{Hub: deps.Hub})
	}

	webhooks := &WebhooksHandler{Accounts: deps.Accounts, Jobs: deps.Jobs, Logger: deps.Logger}
	if deps.WebhookVerifier != nil {
		verify := webhook.NewMiddleware(deps.WebhookVerifier)
		r.With(verify.Handler).Post("/api/webhooks/platform", webhooks.Receive)
	} else {
		r.Post("/api/webhooks/platform", webhooks.Receive)
	}

	conversations := &ConversationsHandler{Store: deps.Conversations, Relay: deps.Relay}
	contacts := &ContactsHandler{Store: deps.Contacts, Jobs: deps.Jobs, Logger: deps.Logger}
	labels := &LabelsHandler{Store: deps.Labels, Accounts: deps.Accounts, Client: deps.Client, Broadcast: deps.Broadcast, Logger: deps.Logger}
	sessionLabels := &SessionLabelsHandler{Store: deps.SessionLabels}
	accounts := &AccountsHandler{Store: deps.Accounts, ACL: deps.ACL, Deleter: deps.AccountDeleter}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireTeam)

		r.Post("/api/conversations", conversations.Create)
		r.Get("/api/conversations/{id}", conversations.Get)
		r.Patch("/api/conversations/{id}/status", conversations.UpdateStatus)
		r.Patch("/api/conversations/{id}/assignee", conversations.UpdateAssignee)

		r.Post("/api/contacts", contacts.Create)
		r.Get("/api/contacts/{id}", contacts.Get)
		r.Patch("/api/contacts/{id}", contacts.Update)
		r.Get("/api/contacts/{id}/platform-contacts", contacts.ListPlatformContacts)
		r.Post("/api/contacts/{id}/platform-contacts", contacts.AddPlatformContact)

		r.Get("/api/labels", labels.List)
		r.Post("/api/labels", labels.Create)
		r.Delete("/api/labels/{id}", labels.Delete)

		r.Post("/api/session-labels", sessionLabels.Create)
		r.Delete("/api/session-labels/{id}", sessionLabels.Delete)

		r.Get("/api/accounts", accounts.List)
		r.Post("/api/accounts", accounts.Create)
		r.Get("/api/accounts/{id}", accounts.Get)
		r.Delete("/api/accounts/{id}", accounts.Delete)
		r.Get("/api/accounts/{id}/session-labels", sessionLabels.ListByAccount)
		r.Post("/api/platforms", accounts.CreatePlatform)

		syncStatus := &SyncHandler{Jobs: deps.Jobs}
		r.Get("/api/sync/status", syncStatus.Status)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Version:   getVersion(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":   "Stillwater",
		"health": "/health",
	})
}

func getVersion() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
