// Package verify implements the endpoint ownership handshake: a challenge
// request the receiver must echo back before the endpoint counts as verified.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/courseloop/hookrelay/internal/logging"
	"github.com/courseloop/hookrelay/internal/store"
	"github.com/courseloop/hookrelay/internal/tracing"
)

// ChallengeParam is the query parameter carrying the verification token.
const ChallengeParam = "webhook-verify"

// maxEchoBody bounds how much of the receiver's echo gets read.
const maxEchoBody = 4 * 1024

var (
	// ErrChallengeFailed means the receiver answered but did not echo the
	// token, as raw body or as a {"challenge": token} document.
	ErrChallengeFailed = errors.New("verify: challenge echo mismatch")
	// ErrUnreachable means the challenge request itself failed.
	ErrUnreachable = errors.New("verify: endpoint unreachable")
)

// Verifier runs the handshake and persists the result.
type Verifier struct {
	endpoints store.EndpointStore
	client    *http.Client
	log       *logging.Logger
}

// New builds a verifier. A nil client gets a 10s-timeout default.
func New(endpoints store.EndpointStore, client *http.Client, log *logging.Logger) *Verifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Verifier{endpoints: endpoints, client: client, log: log}
}

// Verify challenges the endpoint with its stored token and marks it verified
// on a correct echo.
func (v *Verifier) Verify(ctx context.Context, endpointID string) error {
	ctx, span := tracing.StartSpan(ctx, "verify.Verify",
		attribute.String("endpoint_id", endpointID),
	)
	defer span.End()

	ep, err := v.endpoints.Get(ctx, endpointID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}

	if err := v.challenge(ctx, ep.URL, ep.VerificationToken); err != nil {
		tracing.SetSpanError(ctx, err)
		v.log.WithContext(ctx).WithEndpoint(ep.ID).WithError(err).Warn("endpoint verification failed")
		return err
	}

	now := time.Now().UTC()
	if err := v.endpoints.SetVerified(ctx, ep.ID, ep.VerificationToken, now); err != nil {
		return fmt.Errorf("persist verification: %w", err)
	}
	tracing.AddSpanEvent(ctx, "endpoint.verified")
	v.log.WithContext(ctx).WithEndpoint(ep.ID).Info("endpoint verified")
	return nil
}

// challenge sends the GET and checks the echo.
func (v *Verifier) challenge(ctx context.Context, rawURL, token string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	q := u.Query()
	q.Set(ChallengeParam, token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrChallengeFailed, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBody))
	if err != nil {
		return fmt.Errorf("%w: read echo: %v", ErrChallengeFailed, err)
	}

	if echoMatches(body, token) {
		return nil
	}
	return ErrChallengeFailed
}

// echoMatches accepts the raw token or a {"challenge": token} JSON document.
func echoMatches(body []byte, token string) bool {
	if strings.TrimSpace(string(body)) == token {
		return true
	}
	var doc struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	return doc.Challenge == token
}
