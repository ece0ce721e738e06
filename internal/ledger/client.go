// Package ledger adapts the external append-only ledger: an HTTP gateway
// client guarded by a circuit breaker, and an in-process ledger for
// development and tests.
package ledger

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
	"strings"
	"time"

	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/ports"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/circuit"
	"pharmatrace/pkg/platform/sentinel"
)

var _ ports.Ledger = (*Client)(nil)

const (
	DefaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

type Config struct {
	BaseURL          string
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// Client talks to the ledger gateway's JSON API.
//
// A 4xx answer is a definite rejection and wraps ports.ErrLedgerRejected.
// Timeouts, 5xx answers and transport errors leave the outcome unknown and
// wrap sentinel.ErrIndeterminate. While the breaker is open calls fail fast
// with sentinel.ErrUnavailable.
type Client struct {
	http    *http.Client
	baseURL string
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		breaker: circuit.New("ledger",
			circuit.WithFailureThreshold(cfg.FailureThreshold),
			circuit.WithCooldown(cfg.Cooldown),
		),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const idempotencyHeader = "Idempotency-Key"

type handoffRequest struct {
	IdempotencyKey string   `json:"idempotency_key"`
	From           string   `json:"from"`
	To             string   `json:"to"`
	UnitIDs        []string `json:"unit_ids"`
}

type handoffResponse struct {
	TxRef string `json:"tx_ref"`
}

type eventLogResponse struct {
	Events []ports.LedgerEvent `json:"events"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RegisterHandoff posts the handoff with its idempotency key in both the
// header and the body; the gateway answers a repeated key with the original
// transaction.
func (c *Client) RegisterHandoff(ctx context.Context, h ports.HandoffRegistration) (shared.TransactionReference, error) {
	if h.IdempotencyKey == "" {
		return shared.TransactionReference{}, fmt.Errorf("handoff has no idempotency key: %w", ports.ErrLedgerRejected)
	}
	body := handoffRequest{
		IdempotencyKey: h.IdempotencyKey,
		From:           h.From.String(),
		To:             h.To.String(),
		UnitIDs:        make([]string, len(h.UnitIDs)),
	}
	for i, u := range h.UnitIDs {
		body.UnitIDs[i] = u.String()
	}
	var resp handoffResponse
	if err := c.call(ctx, http.MethodPost, "/v1/handoffs", h.IdempotencyKey, body, &resp); err != nil {
		return shared.TransactionReference{}, err
	}
	ref, err := shared.NewTransactionReference(resp.TxRef)
	if err != nil {
		// The gateway accepted the request; we just cannot read its answer.
		return shared.TransactionReference{}, fmt.Errorf("ledger returned malformed tx reference %q: %w", resp.TxRef, sentinel.ErrIndeterminate)
	}
	return ref, nil
}

func (c *Client) EventLog(ctx context.Context, token id.TokenID) ([]ports.LedgerEvent, error) {
	var resp eventLogResponse
	if err := c.call(ctx, http.MethodGet, "/v1/tokens/"+url.PathEscape(token.String())+"/events", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) call(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("ledger circuit open: %w", sentinel.ErrUnavailable)
	}

	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal ledger request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create ledger request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.failure(ctx, path, err)
		return fmt.Errorf("ledger %s %s: %v: %w", method, path, err, sentinel.ErrIndeterminate)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		msg := readError(resp.Body)
		c.failure(ctx, path, errors.New(msg))
		return fmt.Errorf("ledger %s %s returned %d: %s: %w", method, path, resp.StatusCode, msg, sentinel.ErrIndeterminate)
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		c.success(ctx)
		return fmt.Errorf("ledger %s: %w", path, sentinel.ErrNotFound)
	case resp.StatusCode >= 400:
		c.success(ctx)
		return fmt.Errorf("ledger %s %s returned %d: %s: %w", method, path, resp.StatusCode, readError(resp.Body), ports.ErrLedgerRejected)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.success(ctx)
		return fmt.Errorf("decode ledger response: %v: %w", err, sentinel.ErrIndeterminate)
	}
	c.success(ctx)
	return nil
}

func (c *Client) failure(ctx context.Context, path string, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "ledger circuit opened", "path", path, "error", err)
	}
}

func (c *Client) success(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "ledger circuit closed")
	}
}

func readError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
