package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngtrust/internal/observability"
)

const (
	defaultQueueSize   = 1024
	defaultTTL         = 10 * time.Minute
	defaultMaxAttempts = 3
	defaultPushTimeout = 10 * time.Second
	retryDelay         = 500 * time.Millisecond
)

var (
	ErrAlreadyInitialized = errors.New("dispatcher already initialized")
	ErrNilTransport       = errors.New("nil transport")
)

// Dispatcher delivers notices through an injected Transport on a single worker.
// Delivery is best effort: failures are retried a few times, then logged and dropped.
type Dispatcher struct {
	language    string
	ttl         time.Duration
	maxAttempts int
	pushTimeout time.Duration
	now         func() time.Time

	mu        sync.Mutex
	transport Transport
	queue     chan Notice
	runCancel context.CancelFunc
	done      chan struct{}

	log *log.Entry
}

type Option func(*Dispatcher)

// WithLanguage sets the language for notices that do not carry their own.
func WithLanguage(lang string) Option {
	return func(d *Dispatcher) { d.language = lang }
}

func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan Notice, size)
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.ttl = ttl }
}

func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ttl:         defaultTTL,
		maxAttempts: defaultMaxAttempts,
		pushTimeout: defaultPushTimeout,
		now:         time.Now,
		queue:       make(chan Notice, defaultQueueSize),
		log:         log.WithField("object", "Dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init binds the transport and starts delivering. It may be called again after Shutdown.
func (d *Dispatcher) Init(transport Transport) error {
	if transport == nil {
		return ErrNilTransport
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transport != nil {
		return ErrAlreadyInitialized
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.transport = transport
	d.runCancel = cancel
	d.done = make(chan struct{})
	go d.run(runCtx, transport, d.done)
	return nil
}

// Shutdown stops the worker and releases the transport. Queued notices are kept for the
// next Init. Safe to call when not initialized.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	cancel, done := d.runCancel, d.done
	d.transport = nil
	d.runCancel = nil
	d.done = nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify queues n without blocking. A full queue drops the notice.
func (d *Dispatcher) Notify(n Notice) {
	if n.Language == "" {
		n.Language = d.language
	}
	if n.expireAt.IsZero() && d.ttl > 0 {
		n.expireAt = d.now().Add(d.ttl)
	}
	select {
	case d.queue <- n:
	default:
		observability.RecordNotification("dropped")
		d.log.WithField("method", "Notify").WithField("user_id", n.UserID).Warn("notice queue is full, dropping notice")
	}
}

func (d *Dispatcher) run(ctx context.Context, transport Transport, done chan struct{}) {
	var retries sync.WaitGroup
	defer close(done)
	defer retries.Wait()

	l := d.log.WithField("method", "run")
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			d.deliver(ctx, transport, n, &retries, l)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, transport Transport, n Notice, retries *sync.WaitGroup, l *log.Entry) {
	if n.expired(d.now()) {
		observability.RecordNotification("expired")
		l.WithField("user_id", n.UserID).Debug("notice expired")
		return
	}
	text := Render(n)
	if text == "" {
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, d.pushTimeout)
	err := transport.Push(pushCtx, n.UserID, text)
	cancel()
	if err == nil {
		observability.RecordNotification("sent")
		return
	}

	n.attempts++
	l = l.WithField("user_id", n.UserID).WithField("error", err.Error())
	if n.attempts >= d.maxAttempts || ctx.Err() != nil {
		observability.RecordNotification("failed")
		l.Error("cant deliver notice")
		return
	}
	l.Warn("notice delivery failed, retrying")
	retries.Add(1)
	go func() {
		defer retries.Done()
		select {
		case <-ctx.Done():
		case <-time.After(retryDelay):
			select {
			case d.queue <- n:
			default:
			}
		}
	}()
}

// Component adapts the dispatcher to the start/stop runtime with a fixed transport.
func (d *Dispatcher) Component(transport Transport) *component {
	return &component{d: d, transport: transport}
}

type component struct {
	d         *Dispatcher
	transport Transport
}

func (c *component) Start(context.Context) error {
	return c.d.Init(c.transport)
}

func (c *component) Stop(ctx context.Context) error {
	return c.d.Shutdown(ctx)
}
