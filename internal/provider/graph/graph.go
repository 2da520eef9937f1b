package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mail-composer/internal/email"
)

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

const (
	// maxRetries bounds the retries after the first attempt.
	maxRetries = 3

	// baseRetryDelay doubles on every retry.
	baseRetryDelay = 1 * time.Second
)

// GraphProvider sends messages through the sendMail action of the configured
// sender mailbox, authenticating as an application.
type GraphProvider struct {
	endpoint  string
	client    *http.Client
	tokens    *accessTokens
	baseDelay time.Duration
}

// New creates a GraphProvider for the tenant and sender mailbox in cfg.
func New(cfg GraphProviderConfig) *GraphProvider {
	client := &http.Client{Timeout: 30 * time.Second}
	return newGraphProvider(
		cfg,
		"https://graph.microsoft.com/v1.0/users/"+url.PathEscape(cfg.Sender)+"/sendMail",
		"https://login.microsoftonline.com/"+url.PathEscape(cfg.TenantID)+"/oauth2/v2.0/token",
		client,
	)
}

func newGraphProvider(cfg GraphProviderConfig, endpoint, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		endpoint:  endpoint,
		client:    client,
		tokens:    newAccessTokens(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		baseDelay: baseRetryDelay,
	}
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// Send posts msg to Graph. Throttled and server-side failures are retried
// with backoff, and a rejected token is renewed once. Every attempt carries
// the same client-request-id so Graph can correlate them.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Message) error {
	payload, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	requestID := uuid.NewString()

	var (
		lastErr error
		renewed bool
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := g.post(ctx, requestID, payload)
		if err == nil {
			slog.Info("message delivered",
				"provider", g.Name(),
				"message_id", msg.MessageID,
				"request_id", requestID,
				"recipients", len(msg.Recipients()),
			)
			return nil
		}
		lastErr = err

		var apiErr *apiError
		if !errors.As(err, &apiErr) || !apiErr.retryable {
			return err
		}

		if apiErr.status == http.StatusUnauthorized {
			if renewed {
				return err
			}
			slog.Info("renewing Graph API token after 401", "request_id", requestID)
			if _, err := g.tokens.renew(ctx); err != nil {
				return fmt.Errorf("token refresh failed: %w", err)
			}
			renewed = true
			continue
		}

		if attempt == maxRetries {
			break
		}
		delay := g.retryDelay(apiErr, attempt)
		slog.Warn("Graph API request failed, retrying",
			"status", apiErr.status,
			"code", apiErr.code,
			"attempt", attempt+1,
			"delay", delay,
		)
		if err := sleepWithContext(ctx, delay); err != nil {
			return fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

// post performs one sendMail request.
func (g *GraphProvider) post(ctx context.Context, requestID string, payload []byte) error {
	token, err := g.tokens.get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("client-request-id", requestID)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &apiError{message: err.Error(), retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	return newAPIError(resp.StatusCode, body, resp.Header.Get("Retry-After"))
}

// retryDelay honors a server-provided Retry-After and falls back to
// exponential backoff.
func (g *GraphProvider) retryDelay(err *apiError, attempt int) time.Duration {
	if err.retryAfter > 0 {
		return err.retryAfter
	}
	return backoffDelay(g.baseDelay, attempt)
}

// apiError is a failed sendMail response.
type apiError struct {
	status     int
	code       string
	message    string
	retryable  bool
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	if e.status == 0 {
		return "Graph API request failed: " + e.message
	}
	if e.code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.status, e.code, e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.status, e.message)
}

// newAPIError builds an apiError from a response. Throttling, server errors
// and 401 are retryable; every other status is final.
func newAPIError(status int, body []byte, retryAfter string) *apiError {
	e := &apiError{
		status:     status,
		message:    string(body),
		retryAfter: parseRetryAfter(retryAfter, time.Now()),
	}

	var parsed graphErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		e.code = parsed.Error.Code
		e.message = parsed.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusTooManyRequests,
		status >= 500:
		e.retryable = true
	}
	return e
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Anything else,
// including a date in the past, yields zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// backoffDelay returns base doubled attempt times.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

// sleepWithContext waits for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
