package mailer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrQueueFull        = errors.New("mail queue is full")
	ErrDispatcherClosed = errors.New("mail dispatcher is closed")
)

type Options struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

type Stats struct {
	Queued  int   `json:"queued"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

type job struct {
	id         string
	msg        Message
	enqueuedAt time.Time
}

// Dispatcher owns the mail queue. Each message gets exactly one delivery
// attempt; failures are logged and counted, never retried.
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration
	workers int

	queue chan job

	// mu guards closed and the close of queue against concurrent Enqueue.
	mu     sync.RWMutex
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc

	startOnce sync.Once
	wg        sync.WaitGroup

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewDispatcher(sender Sender, logger *zap.Logger, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: opts.SendTimeout,
		workers: opts.Workers,
		queue:   make(chan job, opts.QueueSize),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work()
		}
		d.logger.Info("mail dispatcher started",
			zap.Int("workers", d.workers),
			zap.Int("queue_size", cap(d.queue)),
			zap.Duration("send_timeout", d.timeout),
		)
	})
}

// Enqueue never blocks. It returns the job id used in the delivery logs.
func (d *Dispatcher) Enqueue(msg Message) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return "", ErrDispatcherClosed
	}

	j := job{id: uuid.NewString(), msg: msg, enqueuedAt: time.Now()}
	select {
	case d.queue <- j:
		return j.id, nil
	default:
		d.dropped.Add(1)
		return "", ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued mail to drain. If ctx ends
// first, in-flight sends are cancelled and ctx.Err is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return fmt.Errorf("mail dispatcher shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:  len(d.queue),
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(d.baseCtx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.safeSend(ctx, j.msg)
	fields := []zap.Field{
		zap.String("job_id", j.id),
		zap.String("to", j.msg.To),
		zap.String("subject", j.msg.Subject),
		zap.Duration("queued_for", start.Sub(j.enqueuedAt)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		d.failed.Add(1)
		d.logger.Error("failed to send email", append(fields, zap.Error(err))...)
		return
	}
	d.sent.Add(1)
	d.logger.Info("email sent", fields...)
}

func (d *Dispatcher) safeSend(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return d.sender.Send(ctx, msg)
}
