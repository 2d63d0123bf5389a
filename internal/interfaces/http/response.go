package http

import (
	"encoding/json"
	"log"
	"net/http"

	"harvestsync/internal/domain/reconcile"
	"harvestsync/internal/shared/messages"
)

const severityError = 4000

// ActionErrorResponse is the notification the board shows when an action fails.
type ActionErrorResponse struct {
	SeverityCode                 int    `json:"severityCode"`
	NotificationErrorTitle       string `json:"notificationErrorTitle"`
	NotificationErrorDescription string `json:"notificationErrorDescription"`
	RuntimeErrorDescription      string `json:"runtimeErrorDescription"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeActionError maps a failed action onto the board's error contract.
// A spent complexity budget is the only failure that is not a 400.
func writeActionError(w http.ResponseWriter, msgs *messages.Messages, err error) {
	aerr, ok := reconcile.AsActionError(err)
	if !ok {
		log.Printf("Unexpected action error: %v", err)
		desc := msgs.Unexpected.Format(err.Error())
		writeJSON(w, http.StatusBadRequest, ActionErrorResponse{
			SeverityCode:                 severityError,
			NotificationErrorTitle:       msgs.Unexpected.Title,
			NotificationErrorDescription: desc,
			RuntimeErrorDescription:      desc,
		})
		return
	}

	if aerr.Kind == reconcile.RateLimited {
		writeJSON(w, http.StatusTooManyRequests, MessageResponse{Message: "complexity limit reached"})
		return
	}

	writeJSON(w, http.StatusBadRequest, ActionErrorResponse{
		SeverityCode:                 severityError,
		NotificationErrorTitle:       aerr.Title,
		NotificationErrorDescription: aerr.Description,
		RuntimeErrorDescription:      aerr.Description,
	})
}
