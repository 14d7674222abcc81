package stream

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/tracing"
)

type State int32

const (
	StateIdle State = iota
	StateSubscribing
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var transitions = map[State][]State{
	StateIdle:         {StateSubscribing, StateClosed},
	StateSubscribing:  {StateStreaming, StateClosed},
	StateStreaming:    {StateReconnecting, StateSubscribing, StateClosed},
	StateReconnecting: {StateSubscribing, StateStreaming, StateClosed},
	StateClosed:       {},
}

var (
	// ErrStreamTerminated is the expected end of a long-lived response.
	// The channel reconnects after it.
	ErrStreamTerminated = errors.New("notification stream terminated by server")
	// ErrConnectionClosed is returned by Source.Handle for a unit that
	// announces the server is closing the connection.
	ErrConnectionClosed = errors.New("server closed notification connection")
	// ErrResubscribe is returned by a Source when its subscription is no
	// longer valid and a new one must be created.
	ErrResubscribe = errors.New("notification subscription is no longer valid")
	ErrClosed      = errors.New("notification channel closed")
)

// Source is the protocol-specific half of a channel.
type Source interface {
	// Subscribe creates a subscription and returns its id.
	Subscribe(ctx context.Context) (string, error)
	// Open starts the long-lived response for subscriptionID.
	Open(ctx context.Context, subscriptionID string) (io.ReadCloser, error)
	Split(data []byte) (advance int, unit []byte, ok bool)
	// Handle decodes and dispatches one unit. Units are handled strictly in
	// the order they arrived.
	Handle(ctx context.Context, unit []byte) error
}

type Options struct {
	AccountID string
	Protocol  string
	// MinBackoff is the least time between two stream openings.
	MinBackoff time.Duration
	// OnError receives per-unit failures, which never stop the channel, and
	// the error that ends Run.
	OnError func(error)
	Logger  logger.Logger
}

// Channel keeps a notification stream open for one account:
// Idle → Subscribing → Streaming → (Reconnecting ⇄ Streaming) → Closed.
type Channel struct {
	source  Source
	opts    Options
	limiter *rate.Limiter

	mu             sync.RWMutex
	state          State
	subscriptionID string
}

func NewChannel(source Source, opts Options) *Channel {
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}
	limit := rate.Inf
	if opts.MinBackoff > 0 {
		limit = rate.Every(opts.MinBackoff)
	}
	return &Channel{
		source:  source,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		state:   StateIdle,
	}
}

func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) SubscriptionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptionID
}

func (c *Channel) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, allowed := range transitions[c.state] {
		if allowed == to {
			if c.opts.Logger != nil {
				c.opts.Logger.Debugf("[%s] notification channel %s -> %s", c.opts.AccountID, c.state, to)
			}
			c.state = to
			return nil
		}
	}
	return errors.Errorf("invalid notification channel transition %s -> %s", c.state, to)
}

func (c *Channel) close() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

// Run drives the state machine on the calling goroutine until ctx is
// done. A channel runs once; it is Closed when Run returns. Run returns nil
// once ctx is done and an error when subscribing or reading fails for a
// reason other than the expected end of a stream.
func (c *Channel) Run(ctx context.Context) error {
	err := c.run(ctx)
	if err != nil && !errors.Is(err, ErrClosed) {
		c.opts.OnError(err)
	}
	return err
}

func (c *Channel) run(ctx context.Context) error {
	defer c.close()
	if c.State() == StateIdle {
		if err := c.transition(StateSubscribing); err != nil {
			return err
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		switch c.State() {
		case StateSubscribing:
			if err := c.subscribe(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := c.transition(StateStreaming); err != nil {
				return err
			}
		case StateStreaming:
			if err := c.limiter.Wait(ctx); err != nil {
				return nil
			}
			err := c.stream(ctx)
			if ctx.Err() != nil {
				return nil
			}
			next, err := c.afterStream(err)
			if err != nil {
				return err
			}
			if err := c.transition(next); err != nil {
				return err
			}
		case StateReconnecting:
			reconnectsTotal.WithLabelValues(c.opts.Protocol).Inc()
			if err := c.transition(StateStreaming); err != nil {
				return err
			}
		case StateClosed:
			return ErrClosed
		default:
			return errors.Errorf("notification channel in unexpected state %s", c.State())
		}
	}
}

func (c *Channel) subscribe(ctx context.Context) error {
	if c.SubscriptionID() != "" {
		return nil
	}
	span, ctx := opentracing.StartSpanFromContext(ctx, "Channel.subscribe")
	defer span.Finish()
	tracing.TagComponentStream(span)
	tracing.TagAccount(span, c.opts.AccountID)

	id, err := c.source.Subscribe(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "subscribing to notifications")
	}
	c.mu.Lock()
	c.subscriptionID = id
	c.mu.Unlock()
	return nil
}

// afterStream decides where to go once a stream ended with err.
func (c *Channel) afterStream(err error) (State, error) {
	switch {
	case err == nil, errors.Is(err, ErrStreamTerminated):
		return StateReconnecting, nil
	case errors.Is(err, ErrConnectionClosed):
		return StateSubscribing, nil
	case errors.Is(err, ErrResubscribe):
		c.mu.Lock()
		c.subscriptionID = ""
		c.mu.Unlock()
		return StateSubscribing, nil
	}
	return StateClosed, err
}

func (c *Channel) stream(ctx context.Context) error {
	body, err := c.source.Open(ctx, c.SubscriptionID())
	if err != nil {
		if errors.Is(err, ErrResubscribe) {
			return err
		}
		return errors.Wrap(err, "opening notification stream")
	}
	defer body.Close()

	frames := NewFrames(c.source.Split)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			units, err := frames.Write(buf[:n])
			for _, unit := range units {
				if err := c.dispatch(ctx, unit); err != nil {
					return err
				}
			}
			if err != nil {
				return err
			}
		}
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF), errors.Is(readErr, ErrStreamTerminated):
			return ErrStreamTerminated
		default:
			return errors.Wrap(readErr, "reading notification stream")
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, unit []byte) error {
	unitsTotal.WithLabelValues(c.opts.Protocol).Inc()
	err := c.source.Handle(ctx, unit)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrResubscribe):
		return err
	}
	unitErrorsTotal.WithLabelValues(c.opts.Protocol).Inc()
	c.opts.OnError(err)
	return nil
}
