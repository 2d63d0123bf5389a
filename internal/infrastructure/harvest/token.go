package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"harvestsync/internal/domain/user"
)

const (
	DefaultTokenURL = "https://id.getharvest.com/api/v2/oauth2/token"
	// expirySkew is subtracted from the issued expiry so a token is never
	// used in its final minute.
	expirySkew = 60 * time.Second
)

// TokenRefresher renews ledger access tokens with the OAuth2 refresh grant.
type TokenRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

var _ user.TokenRefresher = (*TokenRefresher)(nil)

func NewTokenRefresher(clientID, clientSecret, tokenURL string) *TokenRefresher {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &TokenRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
}

func (r *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (*user.Token, error) {
	if refreshToken == "" {
		return nil, user.ErrNoRefreshToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	// A token without an access token is always invalid, so the source goes
	// straight to the refresh grant.
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, &Error{
				Kind:    Rejected,
				Op:      "refresh token",
				Status:  retrieveErr.Response.StatusCode,
				Message: refreshMessage(retrieveErr),
				Err:     err,
			}
		}
		return nil, &Error{Kind: Unreachable, Op: "refresh token", Err: err}
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = r.now()
	}

	next := tok.RefreshToken
	if next == "" {
		next = refreshToken
	}

	return &user.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: next,
		ExpiresAt:    expiry.Add(-expirySkew),
	}, nil
}

func refreshMessage(err *oauth2.RetrieveError) string {
	if err.ErrorDescription != "" {
		return err.ErrorDescription
	}
	if err.ErrorCode != "" {
		return err.ErrorCode
	}
	return fmt.Sprintf("token endpoint returned status %d", err.Response.StatusCode)
}
