package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"daopresale/core/events"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 256
	defaultDrainWait   = 10 * time.Second
)

// ErrQueueFull is returned when the delivery queue cannot accept an event.
var ErrQueueFull = errors.New("webhook: delivery queue full")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("webhook: dispatcher closed")

// EventPayload is the webhook body for a presale event.
type EventPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
	DeliveryID string            `json:"deliveryId"`
}

// Dispatcher delivers presale events to a single endpoint with HMAC
// signatures, retry and exponential backoff. It implements events.Emitter so
// it can be installed on the presale engine directly.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	drainWait time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	queue     chan delivery
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type delivery struct {
	eventType string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithLogger overrides the logger used to report failed deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithDrainTimeout bounds how long Close keeps delivering queued events.
func WithDrainTimeout(wait time.Duration) Option {
	return func(d *Dispatcher) {
		if wait > 0 {
			d.drainWait = wait
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		drainWait:   defaultDrainWait,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
		closing:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops accepting events and delivers what is already queued. Once the
// drain timeout elapses, in-flight requests are cancelled and the remaining
// queue is dropped with a warning per event. Close is safe to call twice.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.closing)
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		timer := time.NewTimer(d.drainWait)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			d.cancel()
			<-done
		}
		d.cancel()
	})
}

// Emit implements events.Emitter. Events that do not carry a typed payload
// are ignored; a full queue drops the event and logs it.
func (d *Dispatcher) Emit(evt events.Event) {
	if d == nil || evt == nil {
		return
	}
	carrier, ok := evt.(events.Payload)
	if !ok {
		return
	}
	raw := carrier.Event()
	if raw == nil {
		return
	}
	if err := d.Enqueue(EventPayload{Type: raw.Type, Attributes: raw.Attributes}); err != nil {
		d.logger.Warn("webhook event dropped", slog.String("type", raw.Type), slog.Any("error", err))
	}
}

// Enqueue schedules a payload for asynchronous delivery.
func (d *Dispatcher) Enqueue(payload EventPayload) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	if payload.EmittedAt.IsZero() {
		payload.EmittedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = uuid.NewString()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case <-d.closing:
		return ErrClosed
	case <-d.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case d.queue <- delivery{eventType: payload.Type, body: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.closing:
			d.drain()
			return
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.queue:
			if d.ctx.Err() != nil {
				d.logger.Warn("webhook event dropped on shutdown", slog.String("type", job.eventType))
				continue
			}
			d.process(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("webhook delivery abandoned",
				slog.String("type", job.eventType),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Presale-Event", job.eventType)
	req.Header.Set("X-Presale-Signature", Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
