package listener

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/lib/pq"
)

const (
	channelName       = "subscription_deleted"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

var errEmptyID = errors.New("notification carries no subscription id")

// DeletedNotification is the payload raised by the monday_subscriptions
// delete trigger.
type DeletedNotification struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	WebhookEvent string `json:"webhook_event"`
}

// Revoker is told about every subscription deleted in the database,
// including deletions made by other processes.
type Revoker interface {
	Revoke(id string)
}

// SubscriptionListener consumes subscription_deleted notifications.
type SubscriptionListener struct {
	connStr    string
	revoker    Revoker
	shutdownCh chan struct{}
	done       chan struct{}
}

func NewSubscriptionListener(connStr string, revoker Revoker) *SubscriptionListener {
	return &SubscriptionListener{
		connStr:    connStr,
		revoker:    revoker,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *SubscriptionListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Println("Subscription notification listener started")
}

// Stop gracefully shuts down the listener
func (l *SubscriptionListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	log.Println("Subscription notification listener stopped")
}

func (l *SubscriptionListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Println("Reconnecting to PostgreSQL for notifications...")
		}
	}
}

func (l *SubscriptionListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			log.Printf("Disconnected from PostgreSQL notification channel: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("Reconnected to PostgreSQL notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("Connection attempt failed: %v", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(channelName); err != nil {
		log.Printf("Failed to listen on channel %s: %v", channelName, err)
		return
	}
	log.Printf("Listening on channel: %s", channelName)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// connection lost; pq reconnects but notifications may have been missed
				return
			}
			l.handle(n)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					log.Printf("Listener ping failed: %v", err)
				}
			}()
		}
	}
}

func (l *SubscriptionListener) handle(n *pq.Notification) {
	id, err := parseNotification(n.Extra)
	if err != nil {
		log.Printf("Failed to parse notification payload: %v", err)
		return
	}
	l.revoker.Revoke(id)
	log.Printf("Subscription %s revoked", id)
}

// parseNotification accepts the JSON payload or a bare id.
func parseNotification(extra string) (string, error) {
	if len(extra) > 0 && extra[0] == '{' {
		var payload DeletedNotification
		if err := json.Unmarshal([]byte(extra), &payload); err != nil {
			return "", err
		}
		if payload.ID == "" {
			return "", errEmptyID
		}
		return payload.ID, nil
	}
	if extra == "" {
		return "", errEmptyID
	}
	return extra, nil
}
