package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("outbound queue full")
)

const (
	DefaultInboxSize  = 64
	DefaultOutboxSize = 256
)

type (
	// Transport is the network side of a connection.
	Transport interface {
		ID() string
		Emit(event string, payload any) error
		// Close terminates the transport. It may be called after the
		// transport has already gone away.
		Close()
	}

	// Dispatcher handles events for a client. *Engine implements it.
	Dispatcher interface {
		Dispatch(ctx context.Context, c *Client, ev Event) error
	}

	ConnectionOptions struct {
		InboxSize  int
		OutboxSize int
	}
)

type outbound struct {
	event   string
	payload any
}

// Connection owns the lifetime of one client connection. Inbound events are
// handled one at a time in arrival order. Outbound events are queued and
// written by a separate goroutine so a slow client never blocks the sender;
// a client whose queue overflows is closed. However the connection ends, the
// dispatcher sees exactly one Disconnect.
type Connection struct {
	transport  Transport
	dispatcher Dispatcher
	client     *Client

	inbox  chan Event
	outbox chan outbound

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
	startOnce sync.Once

	log *logrus.Entry
}

func NewConnection(parent context.Context, transport Transport, dispatcher Dispatcher, userID string, opts ConnectionOptions) *Connection {
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = DefaultOutboxSize
	}

	ctx, cancel := context.WithCancel(parent)
	c := &Connection{
		transport:  transport,
		dispatcher: dispatcher,
		inbox:      make(chan Event, opts.InboxSize),
		outbox:     make(chan outbound, opts.OutboxSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		finished:   make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"connection_id": transport.ID(),
			"user_id":       userID,
		}),
	}
	c.client = NewClient(c, userID)
	return c
}

func (c *Connection) ID() string { return c.transport.ID() }

// Client returns the engine-side state of this connection.
func (c *Connection) Client() *Client { return c.client }

// Start launches the event and writer goroutines.
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		go c.writeLoop()
		go c.eventLoop()
		c.log.Debug("Connection established")
	})
}

// Deliver queues an inbound event. It blocks while the inbox is full and
// fails once the connection is closed. Disconnect closes the connection.
func (c *Connection) Deliver(ev Event) error {
	if _, ok := ev.(Disconnect); ok {
		c.Close()
		return nil
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.inbox <- ev:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	}
}

// Send queues an outbound event without blocking. Implements Peer.
func (c *Connection) Send(event string, payload any) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.outbox <- outbound{event: event, payload: payload}:
		return nil
	default:
		c.log.WithField("event", event).Warn("Closing slow connection")
		go c.Close()
		return ErrSlowConsumer
	}
}

// Close terminates the connection. Safe to call more than once and from
// transport callbacks fired by the close itself.
func (c *Connection) Close() {
	closed := false
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		closed = true
	})
	if closed {
		c.transport.Close()
	}
}

// Done is closed once the connection has been torn down and its session
// membership released.
func (c *Connection) Done() <-chan struct{} { return c.finished }

func (c *Connection) eventLoop() {
	defer close(c.finished)
	defer c.dispatch(context.Background(), Disconnect{})

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.inbox:
			c.dispatch(c.ctx, ev)
		}
	}
}

func (c *Connection) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic handling %s: %v", ev.eventName(), r)
			c.log.WithError(err).Error("Event handler panicked")
			_ = c.Send(EventError, ErrorPayload{Message: "internal error", Code: KindStoreUnavailable.Code()})
		}
	}()
	_ = c.dispatcher.Dispatch(ctx, c.client, ev)
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.outbox:
			if err := c.transport.Emit(m.event, m.payload); err != nil {
				c.log.WithField("event", m.event).WithError(err).Debug("Failed to emit event")
			}
		}
	}
}
