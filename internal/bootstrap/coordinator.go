package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"topicsmith/internal/domain"
	"topicsmith/internal/schemareg"
	"topicsmith/internal/subject"
	"topicsmith/internal/topicadmin"
)

// State is the coordinator lifecycle phase. It resets to Initializing on
// every process start; nothing is persisted.
type State int32

const (
	StateInitializing State = iota
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var ErrQueueFull = errors.New("bootstrap queue full")

// Result is the terminal reply for one bootstrap request: either the created
// metadata or an ordered list of human-readable failure reasons.
type Result struct {
	Metadata domain.TopicMetadata
	Reasons  []string
}

func (r Result) Succeeded() bool { return len(r.Reasons) == 0 }

func failure(reasons ...string) Result { return Result{Reasons: reasons} }

// Publisher is the metadata-delivery slice the pipeline uses.
type Publisher interface {
	Publish(ctx context.Context, md domain.TopicMetadata) (domain.RecordMetadata, error)
}

// StreamView answers read queries from the continuously ingested metadata log.
type StreamView interface {
	Streams(subjectFilter string) []domain.TopicMetadata
}

type Config struct {
	MetadataTopic  string
	RetryInterval  time.Duration
	QueueCapacity  int
	RequestTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.MetadataTopic == "" {
		c.MetadataTopic = "_topicsmith.metadata"
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Minute
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 45 * time.Second
	}
}

type bootstrapMsg struct {
	req   domain.BootstrapRequest
	reply chan reply
}

type preflightMsg struct {
	err error
}

type retryMsg struct{}

type reply struct {
	res Result
	err error
}

// Coordinator orchestrates stream provisioning: schema registration,
// metadata delivery, and topic creation as one idempotent operation. All
// state transitions happen on the single owner loop; per-request pipelines
// run concurrently once admitted.
type Coordinator struct {
	cfg         Config
	registrar   schemareg.Registrar
	provisioner topicadmin.Provisioner
	publisher   Publisher
	view        StreamView

	msgs  chan any
	state atomic.Int32

	causeMu sync.RWMutex
	cause   error

	wg      sync.WaitGroup
	started atomic.Bool

	// owned by the run loop; read by tests after Wait
	retryTimer *time.Timer

	// Observe, when set, is invoked with every terminal bootstrap result.
	Observe func(succeeded bool)

	// injection points for tests
	now       func() time.Time
	newID     func() string
	preflight func(ctx context.Context) error
}

func NewCoordinator(cfg Config, registrar schemareg.Registrar, provisioner topicadmin.Provisioner, publisher Publisher, view StreamView) *Coordinator {
	cfg.withDefaults()
	c := &Coordinator{
		cfg:         cfg,
		registrar:   registrar,
		provisioner: provisioner,
		publisher:   publisher,
		view:        view,
		msgs:        make(chan any, cfg.QueueCapacity),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	c.preflight = func(ctx context.Context) error {
		_, err := registrar.Register(ctx, cfg.MetadataTopic, schemareg.MetadataSchema())
		return err
	}
	return c
}

// Start launches the owner loop and the preflight registration of the
// metadata-topic schema. Requests arriving before the preflight resolves are
// queued in arrival order, not dropped.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Wait blocks until the owner loop has exited.
func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) failedError() error {
	c.causeMu.RLock()
	defer c.causeMu.RUnlock()
	return fmt.Errorf("bootstrap coordinator is in a failed state due to cause: %v", c.cause)
}

func (c *Coordinator) setCause(err error) {
	c.causeMu.Lock()
	c.cause = err
	c.causeMu.Unlock()
}

// InitiateTopicBootstrap submits one provisioning request and waits for its
// terminal result. The wait is bounded by the configured request timeout;
// the pipeline keeps running server-side if the caller gives up.
func (c *Coordinator) InitiateTopicBootstrap(ctx context.Context, req domain.BootstrapRequest) (Result, error) {
	replyCh := make(chan reply, 1)
	select {
	case c.msgs <- bootstrapMsg{req: req, reply: replyCh}:
	default:
		return Result{}, ErrQueueFull
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("bootstrap of %q: %w", req.Subject, ctx.Err())
	case r := <-replyCh:
		return r.res, r.err
	}
}

// GetStreams returns the current metadata view, optionally filtered to one
// subject. Reads never touch the write pipeline, but a failed coordinator
// rejects them like any other message.
func (c *Coordinator) GetStreams(subjectFilter string) ([]domain.TopicMetadata, error) {
	if c.State() == StateFailed {
		return nil, c.failedError()
	}
	return c.view.Streams(subjectFilter), nil
}

func (c *Coordinator) run(ctx context.Context) {
	var stash []bootstrapMsg
	c.startPreflight(ctx)

	for {
		select {
		case <-ctx.Done():
			if c.retryTimer != nil {
				c.retryTimer.Stop()
			}
			for _, m := range stash {
				m.reply <- reply{err: ctx.Err()}
			}
			return
		case m := <-c.msgs:
			switch m := m.(type) {
			case preflightMsg:
				if m.err == nil {
					c.state.Store(int32(StateActive))
					log.Printf("bootstrap: metadata schema registered, coordinator active")
					for _, queued := range stash {
						c.spawnPipeline(ctx, queued)
					}
				} else {
					c.setCause(m.err)
					c.state.Store(int32(StateFailed))
					log.Printf("bootstrap: preflight registration failed: %v (retry in %s)", m.err, c.cfg.RetryInterval)
					for _, queued := range stash {
						queued.reply <- reply{err: c.failedError()}
					}
					c.armRetry(ctx)
				}
				stash = nil
			case retryMsg:
				c.state.Store(int32(StateInitializing))
				log.Printf("bootstrap: retrying metadata schema registration")
				c.startPreflight(ctx)
			case bootstrapMsg:
				switch c.State() {
				case StateInitializing:
					if len(stash) >= c.cfg.QueueCapacity {
						m.reply <- reply{err: ErrQueueFull}
						continue
					}
					stash = append(stash, m)
				case StateFailed:
					m.reply <- reply{err: c.failedError()}
				case StateActive:
					c.spawnPipeline(ctx, m)
				}
			}
		}
	}
}

func (c *Coordinator) startPreflight(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.preflight(ctx)
		select {
		case c.msgs <- preflightMsg{err: err}:
		case <-ctx.Done():
		}
	}()
}

// armRetry schedules exactly one re-entry into Initializing. It is only
// called from the owner loop on the Failed transition, so two preflight
// attempts never overlap.
func (c *Coordinator) armRetry(ctx context.Context) {
	c.retryTimer = time.AfterFunc(c.cfg.RetryInterval, func() {
		select {
		case c.msgs <- retryMsg{}:
		case <-ctx.Done():
		}
	})
}

func (c *Coordinator) spawnPipeline(ctx context.Context, m bootstrapMsg) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := c.pipeline(ctx, m.req)
		if c.Observe != nil {
			c.Observe(res.Succeeded())
		}
		m.reply <- reply{res: res}
	}()
}

// pipeline runs validate -> register schema -> publish metadata -> provision
// topic, strictly in order. Every failure resolves to reasons, never to a
// raw error or a panic escaping the request.
func (c *Coordinator) pipeline(ctx context.Context, req domain.BootstrapRequest) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(fmt.Sprintf("bootstrap pipeline panic: %v", r))
		}
	}()

	if reasons := subject.Validate(req.Subject); len(reasons) > 0 {
		return failure(reasons...)
	}
	subj := subject.Canonicalize(req.Subject)

	schemaID, err := c.registrar.Register(ctx, subj, req.Schema)
	if err != nil {
		return failure(err.Error())
	}

	md := domain.TopicMetadata{
		ID:             c.newID(),
		Subject:        subj,
		SchemaID:       schemaID,
		StreamType:     req.StreamType,
		Classification: req.Classification,
		Contact:        req.Contact,
		Documentation:  req.Documentation,
		Notes:          req.Notes,
		CreatedAtUTC:   c.now().UTC(),
	}
	if _, err := c.publisher.Publish(ctx, md); err != nil {
		return failure(err.Error())
	}

	exists, err := c.provisioner.Exists(ctx, subj)
	if err != nil {
		return failure(err.Error())
	}
	if !exists {
		if err := c.provisioner.Create(ctx, subj); err != nil {
			return failure(err.Error())
		}
	}
	return Result{Metadata: md}
}
