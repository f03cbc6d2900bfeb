package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Dispatcher.Send when no buffer slot is free.
	ErrQueueFull = errors.New("notify: delivery queue full")
	// ErrClosed is returned by Dispatcher.Send after Close.
	ErrClosed = errors.New("notify: dispatcher closed")
)

// DispatchConfig controls asynchronous delivery.
type DispatchConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single delivery. The caller's cancellation does not
	// reach the worker; only this timeout does.
	Timeout time.Duration
}

// DefaultDispatchConfig returns the delivery defaults.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{Workers: 2, QueueSize: 256, Timeout: 15 * time.Second}
}

type job struct {
	ctx     context.Context
	address string
	code    Code
}

// Dispatcher is a Sender that queues deliveries and hands them to the wrapped
// Sender from a fixed pool of workers, so Send returns in constant time
// whatever the transport latency.
type Dispatcher struct {
	next      Sender
	timeout   time.Duration
	log       *zap.Logger
	ch        chan job
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts cfg.Workers goroutines delivering through next.
func NewDispatcher(cfg DispatchConfig, next Sender, log *zap.Logger) *Dispatcher {
	def := DefaultDispatchConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		next:    next,
		timeout: cfg.Timeout,
		log:     log,
		ch:      make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.ch:
			d.deliver(j)
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case j := <-d.ch:
			d.deliver(j)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()
	if err := d.next.Send(ctx, j.address, j.code); err != nil {
		d.failed.Add(1)
		d.log.Warn("code delivery failed",
			zap.String("purpose", string(j.code.Purpose)),
			zap.Error(err),
		)
		return
	}
	d.delivered.Add(1)
}

// Send queues one delivery and returns without waiting for the transport.
func (d *Dispatcher) Send(ctx context.Context, address string, code Code) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.ch <- job{ctx: context.WithoutCancel(ctx), address: address, code: code}:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting deliveries, flushes the queue and waits for the workers.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports deliveries rejected because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered reports deliveries the wrapped Sender accepted.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Failed reports deliveries the wrapped Sender rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
