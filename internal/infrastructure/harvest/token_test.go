package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"harvestsync/internal/domain/user"
)

func TestTokenRefresherRefresh(t *testing.T) {
	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
			return
		}
		form = map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"refresh_token": r.PostForm.Get("refresh_token"),
			"client_id":     r.PostForm.Get("client_id"),
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-access","refresh_token":"new-refresh","token_type":"bearer","expires_in":3600}`)
	}))
	defer server.Close()

	r := NewTokenRefresher("cid", "secret", server.URL)
	before := time.Now()

	tok, err := r.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if form["grant_type"] != "refresh_token" || form["refresh_token"] != "old-refresh" || form["client_id"] != "cid" {
		t.Errorf("form = %v", form)
	}
	if tok.AccessToken != "new-access" || tok.RefreshToken != "new-refresh" {
		t.Errorf("token = %+v", tok)
	}

	// expires_in minus the one minute skew
	lo := before.Add(3600*time.Second - expirySkew - time.Second)
	hi := time.Now().Add(3600*time.Second - expirySkew + time.Second)
	if tok.ExpiresAt.Before(lo) || tok.ExpiresAt.After(hi) {
		t.Errorf("ExpiresAt = %v, want within [%v, %v]", tok.ExpiresAt, lo, hi)
	}
}

func TestTokenRefresherRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Refresh token revoked"}`)
	}))
	defer server.Close()

	_, err := NewTokenRefresher("cid", "secret", server.URL).Refresh(context.Background(), "old")
	herr, ok := AsError(err)
	if !ok || herr.Kind != Rejected || herr.Status != http.StatusBadRequest {
		t.Fatalf("error = %v", err)
	}
	if herr.Message != "Refresh token revoked" {
		t.Errorf("Message = %q", herr.Message)
	}
}

func TestTokenRefresherNoRefreshToken(t *testing.T) {
	_, err := NewTokenRefresher("cid", "secret", "http://127.0.0.1:1").Refresh(context.Background(), "")
	if !errors.Is(err, user.ErrNoRefreshToken) {
		t.Errorf("error = %v, want ErrNoRefreshToken", err)
	}
}
