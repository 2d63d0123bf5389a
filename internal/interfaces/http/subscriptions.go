package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/shared/flexid"
	"harvestsync/internal/shared/middleware"
)

type SubscriptionService interface {
	Subscribe(ctx context.Context, params subscription.CreateParams) (*subscription.Subscription, error)
	Unsubscribe(ctx context.Context, id string) error
}

type SubscriptionHandler struct {
	svc SubscriptionService
}

func NewSubscriptionHandler(svc SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc}
}

type SubscribeRequest struct {
	Payload struct {
		InboundFieldValues json.RawMessage `json:"inboundFieldValues"`
		WebhookURL         string          `json:"webhookUrl"`
		SubscriptionID     flexid.ID       `json:"subscriptionId"`
		RecipeID           flexid.ID       `json:"recipeId"`
		IntegrationID      flexid.ID       `json:"integrationId"`
	} `json:"payload"`
}

type UnsubscribeRequest struct {
	Payload struct {
		WebhookID string `json:"webhookId"`
	} `json:"payload"`
}

type SubscribeResponse struct {
	WebhookID string `json:"webhookId"`
}

const subscriptionFailed = "An error has occurred"

// HandleSubscribe registers the board webhook for the event named by the
// {slug} path segment.
func (h *SubscriptionHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	event, err := subscription.EventForSlug(r.PathValue("slug"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding subscribe request: %v", err)
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: subscriptionFailed})
		return
	}

	sub, err := h.svc.Subscribe(r.Context(), subscription.CreateParams{
		UserID:         session.UserID,
		AccountID:      session.AccountID,
		WebhookURL:     req.Payload.WebhookURL,
		SubscriptionID: req.Payload.SubscriptionID.String(),
		RecipeID:       req.Payload.RecipeID.String(),
		IntegrationID:  req.Payload.IntegrationID.String(),
		Event:          event,
		Context:        req.Payload.InboundFieldValues,
	})
	if err != nil {
		log.Printf("Account %s: subscribe to %s failed: %v", session.AccountID, event, err)
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: subscriptionFailed})
		return
	}

	writeJSON(w, http.StatusOK, SubscribeResponse{WebhookID: sub.ID})
}

// HandleUnsubscribe deletes the webhook. The slug only selects the route;
// the webhook id alone identifies the subscription.
func (h *SubscriptionHandler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if _, err := subscription.EventForSlug(r.PathValue("slug")); err != nil {
		http.NotFound(w, r)
		return
	}

	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding unsubscribe request: %v", err)
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: subscriptionFailed})
		return
	}
	if req.Payload.WebhookID == "" {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: subscriptionFailed})
		return
	}

	if err := h.svc.Unsubscribe(r.Context(), req.Payload.WebhookID); err != nil {
		log.Printf("Account %s: unsubscribe %s failed: %v", session.AccountID, req.Payload.WebhookID, err)
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "Request timeout", http.StatusGatewayTimeout)
			return
		}
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: subscriptionFailed})
		return
	}

	w.WriteHeader(http.StatusOK)
}
