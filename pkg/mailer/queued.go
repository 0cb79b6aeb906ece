package mailer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// delivery is one message waiting for a worker.
type delivery struct {
	to      string
	subject string
	body    string
	attempt int
}

// QueueConfig tunes the background delivery pool.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// QueuedMailer decouples mail delivery from the request path. Send
// enqueues the message and returns immediately; workers deliver through
// the wrapped Mailer and retry transient failures with a fixed delay.
type QueuedMailer struct {
	transport  Mailer
	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	deliveries chan delivery
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
}

// NewQueuedMailer wraps transport with an asynchronous delivery pool.
func NewQueuedMailer(transport Mailer, cfg QueueConfig) *QueuedMailer {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 8
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &QueuedMailer{
		transport:  transport,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		deliveries: make(chan delivery, cfg.BufferSize),
	}
}

// Start launches the delivery workers. Safe to call once.
func (q *QueuedMailer) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Sugar().Infow("mail queue started", "workers", q.workers)
}

// Stop cancels the workers and waits for them to exit. Buffered messages
// that have not been picked up yet are dropped.
func (q *QueuedMailer) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Sugar().Infow("mail queue stopped")
}

// Send enqueues a message for background delivery.
func (q *QueuedMailer) Send(to, subject, body string) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("mail queue not started")
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("mail queue stopped: %w", ctx.Err())
	case q.deliveries <- delivery{to: to, subject: subject, body: body}:
		return nil
	}
}

func (q *QueuedMailer) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case d := <-q.deliveries:
			if err := q.transport.Send(d.to, d.subject, d.body); err != nil {
				q.retry(d, err)
			}
		}
	}
}

func (q *QueuedMailer) retry(d delivery, err error) {
	d.attempt++
	if d.attempt > q.maxRetries {
		q.logger.Sugar().Errorw("mail delivery abandoned", "to", d.to, "subject", d.subject, "error", err)
		return
	}
	q.logger.Sugar().Warnw("mail delivery failed, retrying", "to", d.to, "attempt", d.attempt, "error", err)

	// The calling worker is still counted in wg, so Add here cannot race
	// a Wait that has already seen zero. Stop now waits for delayed
	// redeliveries too.
	q.wg.Add(1)
	go func(d delivery) {
		defer q.wg.Done()
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
		case <-timer.C:
			select {
			case <-q.ctx.Done():
			case q.deliveries <- d:
			}
		}
	}(d)
}
