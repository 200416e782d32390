package mqtt

import (
	"errors"
	"sync"
	"time"
)

const (
	defaultCallTimeout  = 30 * time.Second
	defaultCommandQueue = 1024
)

// ErrCommandQueueFull is returned by a Token when too many calls are queued.
var ErrCommandQueueFull = errors.New("command queue full")

// AsyncClient wraps a Client with non-blocking calls. Calls are queued and
// run in order by one worker goroutine; each returns a Token. The dispatch
// loop of the client's registry is always running.
type AsyncClient struct {
	c *Client

	cmds    chan command
	stop    chan struct{}
	stopped chan struct{}

	// wg tracks publish completions still waiting for acks.
	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// command is one queued call and the token it completes.
type command struct {
	t   *Token
	run func()
}

// NewAsyncClient creates an asynchronous client. It accepts the same
// options as NewClient.
func NewAsyncClient(serverURI, clientID string, opts ...Option) (*AsyncClient, error) {
	c, err := NewClient(serverURI, clientID, opts...)
	if err != nil {
		return nil, err
	}
	c.reg.Start()

	a := &AsyncClient{
		c:       c,
		cmds:    make(chan command, defaultCommandQueue),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go a.worker()
	return a, nil
}

// Client returns the underlying synchronous client.
func (a *AsyncClient) Client() *Client { return a.c }

func (a *AsyncClient) worker() {
	defer close(a.stopped)
	for {
		select {
		case cmd := <-a.cmds:
			cmd.run()
		case <-a.stop:
			return
		}
	}
}

// enqueue queues cmd or fails t when the client is closed or the queue
// is full.
func (a *AsyncClient) enqueue(t *Token, cmd func()) *Token {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		go t.complete(nil, ErrClientClosed)
		return t
	}
	select {
	case a.cmds <- command{t: t, run: cmd}:
	default:
		go t.complete(nil, ErrCommandQueueFull)
	}
	return t
}

// Connect starts the connect handshake.
func (a *AsyncClient) Connect(opts ...CallOption) *Token {
	co := applyCallOptions(opts)
	t := newToken(co)
	return a.enqueue(t, func() {
		if err := a.c.Connect(co.timeout); err != nil {
			t.complete(nil, err)
			return
		}
		t.complete(&SuccessData{SessionPresent: a.c.SessionPresent()}, nil)
	})
}

// Publish queues msg. The token completes when the QoS flow has finished:
// immediately after the write for QoS 0, on PUBACK or PUBCOMP otherwise.
func (a *AsyncClient) Publish(msg *Message, opts ...CallOption) *Token {
	co := applyCallOptions(opts)
	t := newToken(co)
	return a.enqueue(t, func() {
		id, err := a.c.Publish(msg, co.timeout)
		if err != nil {
			t.complete(&SuccessData{PacketID: id}, err)
			return
		}
		if msg.QoS == QoS0 {
			t.complete(&SuccessData{}, nil)
			return
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			err := a.c.WaitForCompletion(id, co.timeout)
			t.complete(&SuccessData{PacketID: id}, err)
		}()
	})
}

// Subscribe queues a SUBSCRIBE for subs.
func (a *AsyncClient) Subscribe(subs []Subscription, opts ...CallOption) *Token {
	co := applyCallOptions(opts)
	t := newToken(co)
	return a.enqueue(t, func() {
		codes, props, err := a.c.reg.subscribe(a.c.s, subs, co.props, co.timeout)
		t.complete(&SuccessData{ReasonCodes: codes, Properties: props}, err)
	})
}

// Unsubscribe queues an UNSUBSCRIBE for filters.
func (a *AsyncClient) Unsubscribe(filters []string, opts ...CallOption) *Token {
	co := applyCallOptions(opts)
	t := newToken(co)
	return a.enqueue(t, func() {
		codes, props, err := a.c.reg.unsubscribe(a.c.s, filters, co.props, co.timeout)
		t.complete(&SuccessData{ReasonCodes: codes, Properties: props}, err)
	})
}

// Disconnect queues a disconnect that drains in-flight flows for up to
// the call timeout.
func (a *AsyncClient) Disconnect(opts ...CallOption) *Token {
	co := applyCallOptions(opts)
	t := newToken(co)
	return a.enqueue(t, func() {
		t.complete(&SuccessData{}, a.c.Disconnect(co.timeout))
	})
}

func (a *AsyncClient) IsConnected() bool { return a.c.IsConnected() }

// Close stops the worker, fails queued calls and closes the client.
func (a *AsyncClient) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stop)
	<-a.stopped

	err := a.c.Close()
	a.wg.Wait()

	for {
		select {
		case cmd := <-a.cmds:
			cmd.t.complete(nil, ErrClientClosed)
		default:
			return err
		}
	}
}
