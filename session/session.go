// Package session keeps a local mirror of a remote authority's world.
//
// A Session applies the diffs the authority pushes, strictly in arrival order,
// and dispatches outbound calls on its own workers so that callers on the
// observer schedule never wait on the network. Reads of the mirror go through
// View, which holds the session lock for the duration of the callback.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/internal/fifo"
	"github.com/plus3/remoteworld/protocol"
)

const tracerName = "github.com/plus3/remoteworld/session"

// Link is the connection to an authority. Recv returns the next encoded diff
// pushed by the authority and io.EOF once the connection has ended.
type Link interface {
	Call(ctx context.Context, procedure string, payload []byte) ([]byte, error)
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithTracerProvider sets the provider outbound call spans are recorded with.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// WithWorkers sets how many outbound calls may be in flight at once. The
// default of one sends calls in the order they were issued; with more workers
// calls may overtake each other.
func WithWorkers(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithManualApply queues inbound diffs until ApplyPending is called instead of
// applying them as they arrive.
func WithManualApply() Option {
	return func(s *Session) {
		s.manual = true
	}
}

// Session is a connected mirror of an authority's world.
type Session struct {
	mu    sync.Mutex
	world *ecs.Storage

	registry *ecs.ComponentRegistry
	core     protocol.Components
	welcome  protocol.Welcome
	link     Link
	diffProc Procedure[*ecs.Diff, protocol.ApplyResult]

	inbox   *fifo.Queue[*ecs.Diff]
	calls   *fifo.Queue[pendingCall]
	manual  bool
	workers int
	closed  atomic.Bool

	logger *slog.Logger
	tracer trace.Tracer
	stats  sessionStats
}

type sessionStats struct {
	diffsReceived atomic.Int64
	diffsApplied  atomic.Int64
	opsSkipped    atomic.Int64
	malformed     atomic.Int64
	callsIssued   atomic.Int64
	callsFailed   atomic.Int64
}

// Stats counts a session's traffic.
type Stats struct {
	DiffsReceived int64
	DiffsApplied  int64
	OpsSkipped    int64
	Malformed     int64
	CallsIssued   int64
	CallsFailed   int64
	CallsQueued   int
	DiffsPending  int
}

// New creates a session over link. The core protocol components are
// registered in registry if they are not already.
func New(link Link, welcome protocol.Welcome, registry *ecs.ComponentRegistry, opts ...Option) *Session {
	s := &Session{
		world:    ecs.NewStorage(registry),
		registry: registry,
		core:     protocol.Register(registry),
		welcome:  welcome,
		link:     link,
		diffProc: WorldDiffProcedure(registry),
		inbox:    fifo.New[*ecs.Diff](),
		calls:    fifo.New[pendingCall](),
		workers:  1,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("connection_id", welcome.ConnectionID)
	return s
}

// Welcome returns the handshake the authority greeted this session with.
func (s *Session) Welcome() protocol.Welcome {
	return s.welcome
}

// Components returns the core component handles.
func (s *Session) Components() protocol.Components {
	return s.core
}

// Registry returns the component registry the mirror uses.
func (s *Session) Registry() *ecs.ComponentRegistry {
	return s.registry
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// View runs fn with exclusive access to the mirror. fn must not retain the
// storage or call back into the session.
func (s *Session) View(fn func(world *ecs.Storage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.world)
}

// Run receives inbound diffs and dispatches outbound calls until ctx ends or
// the link reports io.EOF. The session then stops accepting calls, and calls
// still queued resolve with ErrClosed.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.receive(ctx)
	})
	for range s.workers {
		g.Go(func() error {
			s.dispatch(ctx)
			return nil
		})
	}
	err := g.Wait()
	s.calls.Close()
	s.failPending()
	s.logger.Debug("session stopped", "error", err)
	return err
}

// pendingCall is an outbound call waiting for a dispatch worker.
type pendingCall struct {
	run  func(ctx context.Context)
	fail func(err error)
}

// failPending resolves every call still queued with ErrClosed.
func (s *Session) failPending() {
	for _, call := range s.calls.Drain() {
		s.stats.callsFailed.Add(1)
		call.fail(ErrClosed)
	}
}

func (s *Session) receive(ctx context.Context) error {
	for {
		data, err := s.link.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session receive: %w", err)
		}
		if err := s.Deliver(data); err != nil {
			s.logger.Error("dropping malformed diff", "error", err)
		}
	}
}

func (s *Session) dispatch(ctx context.Context) {
	for {
		if call, ok := s.calls.TryDequeue(); ok {
			call.run(ctx)
			continue
		}
		if s.calls.Done() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.calls.Wait():
		}
	}
}

// Deliver decodes an inbound diff and applies it to the mirror, or queues it
// when the session applies manually. Diffs take effect in delivery order.
func (s *Session) Deliver(data []byte) error {
	diff, err := protocol.DecodeDiff(s.registry, data)
	if err != nil {
		s.stats.malformed.Add(1)
		return err
	}
	s.stats.diffsReceived.Add(1)
	if s.manual {
		s.inbox.Enqueue(diff)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(diff)
	return nil
}

// ApplyPending applies every queued inbound diff in arrival order and returns
// how many were applied.
func (s *Session) ApplyPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.inbox.Drain()
	for _, diff := range pending {
		s.apply(diff)
	}
	return len(pending)
}

func (s *Session) apply(diff *ecs.Diff) {
	report := diff.Apply(s.world)
	s.stats.diffsApplied.Add(1)
	if len(report.Skipped) > 0 {
		s.stats.opsSkipped.Add(int64(len(report.Skipped)))
		s.logger.Debug("inbound diff partially applied",
			"applied", report.Applied.Len(),
			"skipped", len(report.Skipped),
			"first_error", report.Skipped[0])
	}
}

// SubmitDiff sends a diff to the authority without waiting for it. A failure
// is logged and not retried; the returned future may be ignored.
func (s *Session) SubmitDiff(diff *ecs.Diff) *Future[protocol.ApplyResult] {
	future := Call(s, s.diffProc, diff)
	go func() {
		<-future.Done()
		result, err, _ := future.Result()
		if err != nil {
			s.logger.Warn("diff submission failed", "procedure", protocol.ProcWorldDiff, "error", err)
			return
		}
		if len(result.Skipped) > 0 {
			s.logger.Debug("diff partially applied by authority",
				"applied", result.Applied, "skipped", result.Skipped)
		}
	}()
	return future
}

// Close stops accepting calls and closes the link, which ends Run. Calls that
// were queued but not yet sent resolve with ErrClosed; calls already in flight
// resolve with whatever the link reports.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.calls.Close()
	s.failPending()
	s.inbox.Close()
	return s.link.Close()
}

// Stats returns traffic counters.
func (s *Session) Stats() Stats {
	return Stats{
		DiffsReceived: s.stats.diffsReceived.Load(),
		DiffsApplied:  s.stats.diffsApplied.Load(),
		OpsSkipped:    s.stats.opsSkipped.Load(),
		Malformed:     s.stats.malformed.Load(),
		CallsIssued:   s.stats.callsIssued.Load(),
		CallsFailed:   s.stats.callsFailed.Load(),
		CallsQueued:   s.calls.Len(),
		DiffsPending:  s.inbox.Len(),
	}
}
