package apns

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/mdigger/binapns"

// Manager sends notifications through the binary push gateway. It keeps a
// single connection that is reconnected after every failure and reports for
// each notification which device tokens were accepted.
//
// A Manager is safe for concurrent use.
type Manager struct {
	id      string
	config  Config
	queue   *requestQueue
	state   state
	log     *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
	cancel  context.CancelFunc
	done    chan struct{}
	err     error // set before done is closed
}

// Start validates the configuration and starts the connection worker. The
// configuration is copied; later changes to it have no effect.
func Start(config *Config) (*Manager, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	var cfg = *config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var id = uuid.NewString()
	cfg.Logger = cfg.logger().With(zap.String("manager", id))
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		id:      id,
		config:  cfg,
		queue:   newRequestQueue(),
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.state.Open()
	go m.supervise(ctx, newWorker(&m.config, m.queue))
	m.log.Info("manager started", zap.Stringer("environment", cfg.Environment))
	return m, nil
}

// WithManager starts a manager, passes it to fn and closes it when fn
// returns.
func WithManager(config *Config, fn func(*Manager) error) error {
	m, err := Start(config)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func (m *Manager) supervise(ctx context.Context, w *worker) {
	defer close(m.done)
	if err := w.run(ctx); err != nil {
		m.log.Error("push connection failed", zap.Error(err))
		m.err = err
	}
	m.state.Shut()
}

// Send queues the notification and waits until the gateway either reports
// an error or stays silent for the configured timeout after the last frame.
//
// Validation errors are returned before anything is queued. If the manager
// is closed before the notification is written, ErrServiceClosed is
// returned. If ctx is done while the notification is still queued, it is
// removed from the queue and ctx.Err() is returned.
func (m *Manager) Send(ctx context.Context, ntf *Notification) (*SendResult, error) {
	ctx, span := m.tracer.Start(ctx, "apns.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("apns.manager", m.id),
			attribute.Int("apns.tokens", len(ntf.Tokens)),
		))
	defer span.End()

	result, err := m.send(ctx, ntf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("apns.delivered", len(result.Delivered)),
		attribute.Int("apns.must_resend", len(result.MustResend)),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (m *Manager) send(ctx context.Context, ntf *Notification) (*SendResult, error) {
	if !m.state.IsOpen() {
		return nil, ErrServiceClosed
	}
	req, err := newPendingRequest(ntf, time.Now())
	if err != nil {
		return nil, err
	}
	m.queue.Push(req)
	m.metrics.queued(m.queue.Len())

	var h handoff
	select {
	case h = <-req.handoff:
	case <-m.done:
		select {
		case h = <-req.handoff:
		default:
			return nil, ErrServiceClosed
		}
	case <-ctx.Done():
		if m.queue.Remove(req) {
			m.metrics.queued(m.queue.Len())
			return nil, ctx.Err()
		}
		h = <-req.handoff // taken by the writer just now
	}

	result, err := m.await(ctx, req, h)
	if err != nil {
		return nil, err
	}
	m.metrics.result(result)
	return result, nil
}

// await resolves a request taken by the writer.
func (m *Manager) await(ctx context.Context, req *pendingRequest, h handoff) (*SendResult, error) {
	var cp = h.checkpoint
	select {
	case <-cp.Done():
		return partition(req.tokens, h.start, cp.ID()), nil
	case <-req.sent:
	case <-m.done:
		select {
		case <-cp.Done():
			return partition(req.tokens, h.start, cp.ID()), nil
		case <-req.sent:
		default:
			// stopped before all frames were written
			return mustResend(req.tokens), nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(m.config.Timeout)
	defer timer.Stop()
	select {
	case <-cp.Done():
		return partition(req.tokens, h.start, cp.ID()), nil
	case <-timer.C:
		return delivered(req.tokens), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting notifications, closes the connection and waits for
// the worker to exit. Notifications already written are still resolved by
// their timeout.
func (m *Manager) Close() {
	if m.state.Shut() {
		m.log.Info("manager closing")
	}
	m.cancel()
	<-m.done
}

// Done is closed when the connection worker has exited, either after Close
// or because the gateway could not be reached.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err returns the reason the worker exited on its own, or nil.
func (m *Manager) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// ID returns the identifier of the manager used in logs and traces.
func (m *Manager) ID() string { return m.id }

// Config returns a copy of the validated configuration.
func (m *Manager) Config() Config { return m.config }
