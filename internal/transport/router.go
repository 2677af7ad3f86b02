package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"topicsmith/internal/domain"
)

var (
	ErrNoProducer    = errors.New("no producer found")
	ErrSuspended     = errors.New("producer suspended")
	ErrRouterClosed  = errors.New("transport router closed")
	ErrProducerLost  = errors.New("producer connection lost")
	ErrInboxOverflow = errors.New("producer inbox full")
)

// ConfigError marks a permanent producer misconfiguration. Supervision
// suspends the destination instead of restarting, preventing restart storms
// on unrecoverable setup failures.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("producer config: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// Producer is one live connection to a destination broker.
type Producer interface {
	Send(ctx context.Context, rec domain.DeliveryRecord) (domain.RecordMetadata, error)
	Close()
}

// ProducerFactory builds the live producer for a destination. It is invoked
// at worker start and again on every supervised restart. A *ConfigError
// return suspends the destination.
type ProducerFactory func(ctx context.Context) (Producer, error)

// Completion receives the terminal result of one delivery. Nil for
// fire-and-forget callers; the outcome event is emitted either way.
type Completion func(domain.RecordMetadata, error)

type delivery struct {
	id   string
	rec  domain.DeliveryRecord
	done Completion
}

type worker struct {
	name      string
	factory   ProducerFactory
	inbox     chan delivery
	suspended atomic.Bool
}

// Router owns one supervised producer worker per destination and broadcasts
// every delivery outcome to subscribers. The router never buffers records
// beyond each worker's inbox.
type Router struct {
	mu      sync.RWMutex
	workers map[string]*worker
	subs    []chan domain.DeliveryOutcome

	inboxSize int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   atomic.Bool
	closed    atomic.Bool
}

func NewRouter() *Router {
	return &Router{workers: make(map[string]*worker), inboxSize: 256}
}

// AddDestination registers a destination before Start. Workers are created
// once for the router's lifetime, never per record.
func (r *Router) AddDestination(name string, factory ProducerFactory) error {
	if r.started.Load() {
		return fmt.Errorf("destination %q added after router start", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[name]; ok {
		return fmt.Errorf("duplicate destination %q", name)
	}
	r.workers[name] = &worker{name: name, factory: factory, inbox: make(chan delivery, r.inboxSize)}
	return nil
}

func (r *Router) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workers {
		r.wg.Add(1)
		go func(w *worker) {
			defer r.wg.Done()
			r.supervise(w)
		}(w)
	}
}

func (r *Router) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	// workers are gone; fail out anything that raced into an inbox
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workers {
		w.drain(r, ErrRouterClosed)
	}
}

// Subscribe returns a channel observing every delivery outcome. A subscriber
// that falls behind loses outcomes; it never stalls delivery.
func (r *Router) Subscribe(buffer int) <-chan domain.DeliveryOutcome {
	ch := make(chan domain.DeliveryOutcome, buffer)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// Deliver routes one record to its destination worker. Unknown or suspended
// destinations fail fast through the completion callback; the record is
// never silently dropped.
func (r *Router) Deliver(rec domain.DeliveryRecord, deliveryID string, done Completion) {
	if r.closed.Load() {
		r.finish(delivery{id: deliveryID, rec: rec, done: done}, domain.RecordMetadata{}, ErrRouterClosed)
		return
	}
	r.mu.RLock()
	w, ok := r.workers[rec.Destination]
	r.mu.RUnlock()
	if !ok {
		r.finish(delivery{id: deliveryID, rec: rec, done: done}, domain.RecordMetadata{},
			fmt.Errorf("%w for destination %q", ErrNoProducer, rec.Destination))
		return
	}
	if w.suspended.Load() {
		r.finish(delivery{id: deliveryID, rec: rec, done: done}, domain.RecordMetadata{},
			fmt.Errorf("%w: destination %q", ErrSuspended, rec.Destination))
		return
	}
	d := delivery{id: deliveryID, rec: rec, done: done}
	select {
	case w.inbox <- d:
		// the router may have closed between the check above and the send;
		// no worker will drain the inbox then, so fail the record out here
		if r.closed.Load() {
			w.drain(r, ErrRouterClosed)
		}
	default:
		r.finish(d, domain.RecordMetadata{}, fmt.Errorf("%w: destination %q", ErrInboxOverflow, rec.Destination))
	}
}

// supervise restarts the worker on every abnormal exit, one-for-one, with
// capped backoff. A ConfigError exit suspends the destination until operator
// intervention; queued deliveries are failed out.
func (r *Router) supervise(w *worker) {
	backoff := 100 * time.Millisecond
	for {
		start := time.Now()
		err := r.runWorker(w)
		if r.ctx.Err() != nil {
			w.drain(r, r.ctx.Err())
			return
		}
		var ce *ConfigError
		if errors.As(err, &ce) {
			w.suspended.Store(true)
			log.Printf("transport: destination %s suspended: %v", w.name, err)
			w.drain(r, err)
			return
		}
		log.Printf("transport: destination %s worker exited: %v (restarting)", w.name, err)
		if time.Since(start) > time.Minute {
			backoff = 100 * time.Millisecond
		}
		select {
		case <-r.ctx.Done():
			w.drain(r, r.ctx.Err())
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
}

func (r *Router) runWorker(w *worker) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("producer worker panic: %v", rec)
		}
	}()
	p, err := w.factory(r.ctx)
	if err != nil {
		return err
	}
	defer p.Close()
	for {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case d := <-w.inbox:
			md, sendErr := p.Send(r.ctx, d.rec)
			r.finish(d, md, sendErr)
			if errors.Is(sendErr, ErrProducerLost) {
				return sendErr
			}
		}
	}
}

// drain fails out deliveries already queued for a worker that will not run.
func (w *worker) drain(r *Router, cause error) {
	for {
		select {
		case d := <-w.inbox:
			r.finish(d, domain.RecordMetadata{}, cause)
		default:
			return
		}
	}
}

// finish completes the caller callback per the ack strategy and always emits
// the outcome event.
func (r *Router) finish(d delivery, md domain.RecordMetadata, err error) {
	if d.done != nil && d.rec.Ack != domain.AckNone {
		d.done(md, err)
	}
	out := domain.DeliveryOutcome{
		DeliveryID:  d.id,
		Destination: d.rec.Destination,
		Metadata:    md,
		Err:         err,
	}
	if err != nil {
		out.Record = d.rec
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- out:
		default:
		}
	}
}
