package apns

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/mdigger/binapns/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// checkpoint is the single error signal of one connection. It fires once,
// with the last identifier processed by the gateway, and every request
// written to the connection observes the same value.
type checkpoint struct {
	done chan struct{}
	once sync.Once
	id   uint32
}

func newCheckpoint() *checkpoint {
	return &checkpoint{done: make(chan struct{})}
}

func (c *checkpoint) fire(id uint32) {
	c.once.Do(func() {
		c.id = id
		close(c.done)
	})
}

// Done is closed when the checkpoint fires.
func (c *checkpoint) Done() <-chan struct{} { return c.done }

// ID returns the reported identifier. Valid only after Done is closed.
func (c *checkpoint) ID() uint32 { return c.id }

// raceOutcome finishes one side of the writer/reader race. The id is zero
// unless the gateway sent an error response.
type raceOutcome struct {
	id     uint32
	reason string
	err    error
}

func (o *raceOutcome) Error() string {
	if o.err != nil {
		return o.reason + ": " + o.err.Error()
	}
	return o.reason
}

func (o *raceOutcome) Unwrap() error { return o.err }

// worker owns the connection to the push gateway. It writes queued requests
// and watches for the error response, reconnecting after every failure.
type worker struct {
	config  *Config
	queue   *requestQueue
	log     *zap.Logger
	metrics *Metrics
	mu      sync.Mutex // sequence and dequeue
	seq     uint32     // identifier of the next frame
}

func newWorker(config *Config, queue *requestQueue) *worker {
	return &worker{
		config:  config,
		queue:   queue,
		log:     config.logger(),
		metrics: config.Metrics,
	}
}

// run connects and serves connections until the context is done. It returns
// an error only if a connection could not be established within the retry
// policy.
func (w *worker) run(ctx context.Context) error {
	var addr = w.config.Environment.PushAddr()
	for connections := 0; ; connections++ {
		conn, err := retry.Do(ctx, w.config.Retry, func(ctx context.Context) (net.Conn, error) {
			conn, err := w.config.Dial(ctx, addr)
			if err != nil && ctx.Err() == nil {
				w.log.Warn("connection failed", zap.String("addr", addr), zap.Error(err))
			}
			return conn, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if connections > 0 {
			w.metrics.reconnected()
		}
		w.log.Info("connected", zap.String("addr", addr))
		w.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// serve runs the writer and the reader on the connection until one of them
// stops, then closes the connection and fires its checkpoint with the
// outcome. On shutdown the checkpoint is left alone: requests written so far
// are resolved by their timeout.
func (w *worker) serve(ctx context.Context, conn net.Conn) uint32 {
	w.mu.Lock()
	w.seq = 1
	w.mu.Unlock()

	var (
		cp      = newCheckpoint()
		g, gctx = errgroup.WithContext(ctx)
	)
	g.Go(func() error { return w.write(gctx, conn, cp) })
	g.Go(func() error { return w.read(conn) })
	g.Go(func() error {
		<-gctx.Done()
		conn.Close() // unblocks the loser
		return nil
	})

	var (
		outcome *raceOutcome
		id      uint32
		reason  = "unknown"
	)
	if errors.As(g.Wait(), &outcome) {
		id, reason = outcome.id, outcome.Error()
	}
	if ctx.Err() != nil {
		w.log.Info("connection closed on shutdown")
		return id
	}
	w.log.Info("connection closed", zap.Uint32("id", id), zap.String("reason", reason))
	cp.fire(id)
	return id
}

// write takes requests from the queue and writes a frame per token.
func (w *worker) write(ctx context.Context, conn net.Conn, cp *checkpoint) error {
	for {
		if err := w.queue.Wait(ctx); err != nil {
			return &raceOutcome{reason: "writer stopped"}
		}
		req := w.dequeue(ctx, cp)
		if req == nil {
			continue
		}
		for i := range req.tokens {
			if _, err := req.frame(i, w.next()).WriteTo(conn); err != nil {
				// an error response may still be unread: let the reader report it
				timer := time.NewTimer(w.config.Timeout)
				defer timer.Stop()
				select {
				case <-ctx.Done():
				case <-timer.C:
				}
				return &raceOutcome{reason: "write", err: err}
			}
			w.metrics.frameSent()
		}
		select {
		case req.sent <- struct{}{}:
		default:
		}
	}
}

// dequeue takes the head of the queue and tells it the identifier of its
// first frame and the connection checkpoint. Both happen under the same lock
// so no other request can get in between.
func (w *worker) dequeue(ctx context.Context, cp *checkpoint) *pendingRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ctx.Err() != nil {
		return nil // the connection is going away; leave the request queued
	}
	req := w.queue.Pop()
	if req == nil {
		return nil
	}
	w.metrics.queued(w.queue.Len())
	req.handoff <- handoff{start: w.seq, checkpoint: cp}
	return req
}

// next returns the identifier for the next frame.
func (w *worker) next() uint32 {
	w.mu.Lock()
	id := w.seq
	w.seq++
	w.mu.Unlock()
	return id
}

// read waits for the error response. The gateway closes the connection
// right after sending it, so only one frame is ever read.
func (w *worker) read(conn net.Conn) error {
	frame, ok := readErrorFrame(conn)
	if !ok {
		return &raceOutcome{reason: "connection lost"}
	}
	w.log.Warn("error response",
		zap.Uint32("id", frame.ID),
		zap.Stringer("status", frame.Status))
	w.metrics.errorFrame(frame.Status)
	return &raceOutcome{id: frame.ID, reason: "error response: " + frame.Status.String()}
}
