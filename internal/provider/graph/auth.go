package graph

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// earlyExpiry is subtracted from every token lifetime so a token never
// expires mid-request.
const earlyExpiry = 5 * time.Minute

// graphScope is the client credentials scope for application permissions.
const graphScope = "https://graph.microsoft.com/.default"

// accessTokens holds the current application token for one tenant. It is
// safe for concurrent use; concurrent callers share a single fetch.
type accessTokens struct {
	mu     sync.Mutex
	cfg    clientcredentials.Config
	client *http.Client
	tok    *oauth2.Token
}

func newAccessTokens(tokenURL, clientID, clientSecret string, client *http.Client) *accessTokens {
	return &accessTokens{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		client: client,
	}
}

// get returns the cached token while it is valid and fetches a new one
// otherwise. A token issued without a lifetime is kept until Graph rejects it.
func (a *accessTokens) get(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tok.Valid() {
		return a.tok.AccessToken, nil
	}
	return a.fetch(ctx)
}

// renew drops the cached token and fetches a new one.
func (a *accessTokens) renew(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tok = nil
	return a.fetch(ctx)
}

// fetch must be called with a.mu held.
func (a *accessTokens) fetch(ctx context.Context) (string, error) {
	if a.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	}

	tok, err := a.cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if !tok.Expiry.IsZero() {
		tok.Expiry = tok.Expiry.Add(-earlyExpiry)
	}

	a.tok = tok
	return tok.AccessToken, nil
}
