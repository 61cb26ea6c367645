package broker

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Executor runs one database operation. Implementations own exactly one
// database connection and are never invoked concurrently.
type Executor interface {

	// Execute runs the tagged operation and returns its result.
	Execute(op Op, payload interface{}) (interface{}, error)

	// Recover re-establishes the database connection after a fatal
	// driver error.
	Recover() error

	// Close releases the connection.
	Close() error
}

// Request is the envelope every producer sends to the broker: a tagged
// operation, its payload and a channel the reply is delivered on.
type Request struct {
	Op      Op
	Payload interface{}
	reply   chan Response
}

// Response carries the operation result, or a typed error, back to the
// producer.
type Response struct {
	Value interface{}
	Err   error
}

// Broker pairs pending requests with idle workers, FIFO on both sides.
// Many producers funnel into a small pool of workers so the database
// sees a bounded number of connections.
type Broker struct {
	requests chan *Request
	idle     chan Executor
	workers  []Executor
	logger   log.Logger
}

// New creates a Broker over the given workers.
func New(workers []Executor, options ...Option) *Broker {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	b := &Broker{
		requests: make(chan *Request, opts.queueSize),
		idle:     make(chan Executor, len(workers)),
		workers:  workers,
		logger:   opts.logger,
	}
	for _, w := range workers {
		b.idle <- w
	}
	return b
}

// Run dispatches until the context is cancelled. In-flight operations
// finish; queued requests receive a shutdown error.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case req := <-b.requests:
			select {
			case <-ctx.Done():
				req.reply <- Response{Err: errors.New("broker shutting down")}
				b.drain()
				return
			case worker := <-b.idle:
				go b.execute(worker, req)
			}
		}
	}
}

// Exec submits one operation and blocks until its reply arrives or the
// context is cancelled.
func (b *Broker) Exec(ctx context.Context, op Op, payload interface{}) (interface{}, error) {
	req := &Request{
		Op:      op,
		Payload: payload,
		reply:   make(chan Response, 1),
	}
	select {
	case b.requests <- req:
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
	select {
	case res := <-req.reply:
		return res.Value, errors.WithStack(res.Err)
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// Close closes every worker connection. Call after Run has returned.
func (b *Broker) Close() error {
	var lastErr error
	for _, w := range b.workers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	return errors.WithStack(lastErr)
}

func (b *Broker) execute(worker Executor, req *Request) {
	value, err := worker.Execute(req.Op, req.Payload)
	if err != nil && isFatal(err) {
		level.Warn(b.logger).Log("msg", "worker lost its connection, recovering", "op", req.Op, "err", err)
		if rerr := worker.Recover(); rerr != nil {
			level.Error(b.logger).Log("msg", "worker failed to recover", "err", rerr)
		}
	}
	// Always reply, even on failure, so the producer's send/recv cycle
	// never wedges.
	req.reply <- Response{Value: value, Err: err}
	b.idle <- worker
}

func (b *Broker) drain() {
	for {
		select {
		case req := <-b.requests:
			req.reply <- Response{Err: errors.New("broker shutting down")}
		default:
			return
		}
	}
}
