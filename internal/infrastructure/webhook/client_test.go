package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestDeliver(t *testing.T) {
	tests := []struct {
		name        string
		statuses    []int
		wantCalls   int32
		wantErr     bool
		wantUnavail bool
	}{
		{"first attempt", []int{200}, 1, false, false},
		{"recovers after 503", []int{503, 503, 200}, 3, false, false},
		{"ceiling of three", []int{500, 500, 500, 200}, 3, true, false},
		{"503 exhausted", []int{503, 503, 503}, 3, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.statuses[int(n)-1])
			}))
			defer server.Close()

			err := NewClient("secret").Deliver(context.Background(), server.URL, map[string]any{"a": 1})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Deliver() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrDeliveryFailed) {
					t.Errorf("error should wrap ErrDeliveryFailed: %v", err)
				}
				if IsUnavailable(err) != tt.wantUnavail {
					t.Errorf("IsUnavailable() = %v", !tt.wantUnavail)
				}
			}
			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestDeliverPayloadAndSecret(t *testing.T) {
	var auth string
	var body map[string]map[string]map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer server.Close()

	err := NewClient("s3cret").Deliver(context.Background(), server.URL, map[string]any{"taskId": "8"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if auth != "s3cret" {
		t.Errorf("Authorization = %q", auth)
	}
	if body["trigger"]["outputFields"]["taskId"] != "8" {
		t.Errorf("body = %v", body)
	}
}

func TestDeliverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewClient("s").Deliver(ctx, "http://127.0.0.1:1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
