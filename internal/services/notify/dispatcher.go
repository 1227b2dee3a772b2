package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"go.uber.org/zap"
)

// Config controls outbound webhook delivery.
type Config struct {
	// URL is the downstream webhook endpoint. Empty disables delivery.
	URL string
	// MaxAttempts is the total number of delivery attempts per event.
	MaxAttempts int
	// BaseBackoff is the delay before the first retry; it doubles per attempt.
	BaseBackoff time.Duration
	// QueueSize bounds the pending event queue.
	QueueSize int
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Dispatcher delivers call lifecycle events to a downstream webhook with
// at-least-once semantics. Delivery is fire-and-forget from the caller's
// point of view: Dispatch never blocks call handling, and a downstream
// outage only produces warnings.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	queue  chan domain.CallEvent

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewDispatcher creates a dispatcher; Start must be called before events
// are delivered.
func NewDispatcher(cfg Config) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		queue:  make(chan domain.CallEvent, cfg.QueueSize),
		stop:   make(chan struct{}),
	}
}

// Start launches the delivery workers. They run until Close is called and
// the queue drains, or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	logger.Base().Info("notification dispatcher started",
		zap.Int("workers", workers),
		zap.Int("max_attempts", d.cfg.MaxAttempts),
		zap.String("url", d.cfg.URL))
}

// Dispatch enqueues an event for delivery. It never blocks: when the queue
// is full the event is dropped with a warning, and when no downstream URL
// is configured it is a no-op.
func (d *Dispatcher) Dispatch(ev domain.CallEvent) {
	if d.cfg.URL == "" {
		return
	}
	select {
	case d.queue <- ev:
	default:
		logger.Base().Warn("notification queue full, dropping event",
			zap.String("event", string(ev.EventType)),
			zap.String("call_id", ev.CallID))
	}
}

// Close stops accepting events and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ctx, ev)
				default:
					return
				}
			}
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

// deliver attempts the webhook POST with exponential backoff. Every failure
// path logs and returns; a dead downstream never affects call handling.
func (d *Dispatcher) deliver(ctx context.Context, ev domain.CallEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		logger.Base().Error("failed to encode call event",
			zap.String("call_id", ev.CallID), zap.Error(err))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := d.cfg.BaseBackoff << (attempt - 2)
			// Jitter spreads retries from concurrent workers.
			backoff += time.Duration(rand.Int63n(int64(d.cfg.BaseBackoff)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}

		lastErr = d.post(ctx, body)
		if lastErr == nil {
			logger.Base().Info("call event delivered",
				zap.String("event", string(ev.EventType)),
				zap.String("call_id", ev.CallID),
				zap.Int("attempt", attempt))
			return
		}
		logger.Base().Warn("call event delivery failed",
			zap.String("event", string(ev.EventType)),
			zap.String("call_id", ev.CallID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	logger.Base().Error("call event dropped after retries exhausted",
		zap.String("event", string(ev.EventType)),
		zap.String("call_id", ev.CallID),
		zap.Int("attempts", d.cfg.MaxAttempts),
		zap.Error(lastErr))
}

func (d *Dispatcher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
