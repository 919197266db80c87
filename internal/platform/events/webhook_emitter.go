package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC of payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// ErrWebhookQueueFull is returned by Emit when the delivery queue is at
// capacity. The event is dropped.
var ErrWebhookQueueFull = errors.New("webhook delivery queue full")

// WebhookOption configures a WebhookEmitter.
type WebhookOption func(*WebhookEmitter)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookEmitter) { w.client = c }
}

// WithRetryDelays sets the waits between attempts; len(delays)+1 attempts
// are made in total.
func WithRetryDelays(delays ...time.Duration) WebhookOption {
	return func(w *WebhookEmitter) { w.retryDelays = delays }
}

func WithQueueSize(n int) WebhookOption {
	return func(w *WebhookEmitter) { w.queueSize = n }
}

// WithWebhookLogger sets where failed deliveries are reported.
func WithWebhookLogger(l zerolog.Logger) WebhookOption {
	return func(w *WebhookEmitter) { w.logger = l }
}

// WebhookEmitter POSTs each event as signed JSON to a single endpoint.
// Emit only enqueues; a single worker delivers in order with retries, so
// a slow or failing endpoint never holds up the caller.
type WebhookEmitter struct {
	url         string
	secret      string
	client      *http.Client
	retryDelays []time.Duration
	queueSize   int
	logger      zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan AuditEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWebhookEmitter(rawURL, secret string, opts ...WebhookOption) (*WebhookEmitter, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook url must be an absolute http(s) url, got %q", rawURL)
	}
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	w := &WebhookEmitter{
		url:         rawURL,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second},
		queueSize:   256,
		logger:      zerolog.Nop(),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.queueSize < 1 {
		w.queueSize = 1
	}
	w.queue = make(chan AuditEvent, w.queueSize)

	// Deliveries outlive the request that emitted them.
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w, nil
}

// Emit stamps the event and queues it for delivery.
func (w *WebhookEmitter) Emit(_ context.Context, event AuditEvent) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return fmt.Errorf("webhook emitter closed")
	}
	select {
	case w.queue <- Stamp(event):
		return nil
	default:
		return ErrWebhookQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// When ctx ends first, pending retries are abandoned.
func (w *WebhookEmitter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return ctx.Err()
	}
}

func (w *WebhookEmitter) run(ctx context.Context) {
	defer close(w.done)
	for event := range w.queue {
		if err := w.send(ctx, event); err != nil {
			w.logger.Error().Err(err).
				Str("event_id", event.ID).
				Str("event_type", event.Type).
				Msg("audit webhook delivery failed")
		}
	}
}

func (w *WebhookEmitter) send(ctx context.Context, event AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	sig := SignPayload(payload, w.secret)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if lastErr = w.deliver(ctx, payload, sig); lastErr == nil {
			return nil
		}
		if attempt >= len(w.retryDelays) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retryDelays[attempt]):
		}
	}
	return fmt.Errorf("deliver audit event %s: %w", event.Type, lastErr)
}

func (w *WebhookEmitter) deliver(ctx context.Context, payload []byte, sig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+sig)
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
