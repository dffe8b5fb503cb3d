// Package authority owns the authoritative world that sessions mirror.
//
// A Server applies the diffs its connections submit, runs simulation systems
// on a fixed tick, and pushes every applied change to all open connections in
// the order it was applied. A new connection receives a snapshot of the whole
// world before any other diff.
package authority

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/protocol"
)

const tracerName = "github.com/plus3/remoteworld/authority"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTracerProvider sets the provider inbound call spans are recorded with.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// WithStore persists persistent-resource entities to store.
func WithStore(store Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithCompactEvery compacts the world every n ticks. Zero disables compaction.
func WithCompactEvery(n int) Option {
	return func(s *Server) {
		s.compactEvery = n
	}
}

// Server is the authority for one world.
type Server struct {
	mu        sync.Mutex
	world     *ecs.Storage
	registry  *ecs.ComponentRegistry
	core      protocol.Components
	scheduler *ecs.Scheduler
	conns     map[string]*Conn
	persisted map[ecs.EntityId]bool
	ticks     uint64

	store        Store
	compactEvery int
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewServer creates a server with an empty world. The core protocol
// components are registered in registry if they are not already.
func NewServer(registry *ecs.ComponentRegistry, opts ...Option) *Server {
	world := ecs.NewStorage(registry)
	s := &Server{
		world:     world,
		registry:  registry,
		core:      protocol.Register(registry),
		scheduler: ecs.NewScheduler(world),
		conns:     make(map[string]*Conn),
		persisted: make(map[ecs.EntityId]bool),
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the server's component registry.
func (s *Server) Registry() *ecs.ComponentRegistry {
	return s.registry
}

// Components returns the core component handles.
func (s *Server) Components() protocol.Components {
	return s.core
}

// View runs fn with exclusive access to the world. fn must not retain the
// storage or call back into the server.
func (s *Server) View(fn func(world *ecs.Storage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.world)
}

// RegisterSystem adds a simulation system. Systems run in registration order
// on every tick, and the writes they queue are applied and broadcast after the
// last one has run.
func (s *Server) RegisterSystem(name string, system ecs.System) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler.RegisterNamed(name, system)
}

// SystemStats returns execution statistics for the simulation systems.
func (s *Server) SystemStats() *ecs.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler.GetStats()
}

// Apply applies a diff as if it had been submitted by a connection.
func (s *Server) Apply(ctx context.Context, diff *ecs.Diff) ecs.ApplyReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, diff)
}

func (s *Server) applyLocked(ctx context.Context, diff *ecs.Diff) ecs.ApplyReport {
	report := diff.Apply(s.world)
	if report.Applied.Len() == 0 {
		return report
	}
	s.broadcastLocked(report.Applied, "")
	s.persistLocked(ctx, report.Applied)
	return report
}

// broadcastLocked pushes an applied diff to every connection except skip.
func (s *Server) broadcastLocked(diff *ecs.Diff, skip string) {
	data, err := protocol.EncodeDiff(s.registry, diff)
	if err != nil {
		s.logger.Error("cannot encode applied diff", "error", err)
		return
	}
	for id, conn := range s.conns {
		if id == skip {
			continue
		}
		conn.push(data)
	}
}

// Tick runs the simulation systems once.
func (s *Server) Tick(ctx context.Context, dt float64) ecs.ApplyReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := s.scheduler.Once(dt)
	if report.Applied.Len() > 0 {
		s.broadcastLocked(report.Applied, "")
		s.persistLocked(ctx, report.Applied)
	}
	for _, err := range report.Skipped {
		s.logger.Debug("system write skipped", "error", err)
	}

	s.ticks++
	if s.compactEvery > 0 && s.ticks%uint64(s.compactEvery) == 0 {
		s.world.Compact()
	}
	return report
}

// Run ticks the simulation at interval until ctx ends.
func (s *Server) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(lastTime).Seconds()
			lastTime = now
			s.Tick(ctx, dt)
		}
	}
}

// HandleRPC serves a call made on connection connID.
func (s *Server) HandleRPC(ctx context.Context, connID, procedure string, payload []byte) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "authority.call "+procedure,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.method", procedure),
			attribute.String("remoteworld.connection_id", connID),
		),
	)
	defer span.End()

	resp, err := s.handle(ctx, connID, procedure, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("call failed", "procedure", procedure, "connection_id", connID, "error", err)
	}
	return resp, err
}

func (s *Server) handle(ctx context.Context, connID, procedure string, payload []byte) ([]byte, error) {
	if procedure != protocol.ProcWorldDiff {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcedure, procedure)
	}

	diff, err := protocol.DecodeDiff(s.registry, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	s.mu.Lock()
	if _, ok := s.conns[connID]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	diff, refused := serverAssignedSpawns(diff)
	report := s.applyLocked(ctx, diff)
	s.mu.Unlock()
	report.Skipped = append(refused, report.Skipped...)

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("remoteworld.applied", report.Applied.Len()),
		attribute.Int("remoteworld.skipped", len(report.Skipped)),
	)
	return protocol.Marshal(protocol.NewApplyResult(report))
}

// serverAssignedSpawns drops submitted spawns that carry an explicit id and
// returns one error per dropped op.
func serverAssignedSpawns(diff *ecs.Diff) (*ecs.Diff, []error) {
	var refused []error
	kept := ecs.NewDiff()
	for _, op := range diff.Ops() {
		if op.Kind == ecs.OpSpawn && !op.Entity.IsNull() {
			refused = append(refused, fmt.Errorf("%w: %s", ErrClientEntityID, op.Entity))
			continue
		}
		kept.Append(op)
	}
	return kept, refused
}

// Connect opens a connection for userID, spawning its player and resource
// entities. An empty userID gets a generated anonymous id. The returned
// connection's first message is a snapshot of the world.
func (s *Server) Connect(ctx context.Context, userID string) (*Conn, error) {
	connID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("connection id: %w", err)
	}
	if userID == "" {
		userID = "anon-" + uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spawn := ecs.NewDiff().
		Spawn(ecs.Null,
			s.core.Player.With(protocol.Player{}),
			s.core.UserID.With(protocol.UserID(userID)),
		).
		Spawn(ecs.Null,
			s.core.ConnectionResource.With(protocol.ConnectionResource{ConnectionID: connID.String()}),
		)
	report := spawn.Apply(s.world)
	if len(report.Skipped) > 0 {
		return nil, fmt.Errorf("spawn connection entities: %w", report.Skipped[0])
	}
	ops := report.Applied.Ops()

	conn := newConn(s, protocol.Welcome{
		UserID:         userID,
		ConnectionID:   connID.String(),
		PlayerEntity:   ops[0].Entity,
		ResourceEntity: ops[1].Entity,
	})

	snapshot, err := protocol.EncodeDiff(s.registry, s.world.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	conn.push(snapshot)

	s.broadcastLocked(report.Applied, "")
	s.conns[conn.welcome.ConnectionID] = conn

	s.logger.Info("connection opened",
		"connection_id", conn.welcome.ConnectionID,
		"user_id", userID,
		"connections", len(s.conns))
	return conn, nil
}

// Disconnect closes a connection and despawns its player and resource
// entities. Disconnecting an unknown connection is a no-op.
func (s *Server) Disconnect(ctx context.Context, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.conns[connID]
	if !ok {
		return
	}
	delete(s.conns, connID)
	conn.close()

	s.applyLocked(ctx, ecs.NewDiff().
		Despawn(conn.welcome.PlayerEntity).
		Despawn(conn.welcome.ResourceEntity))

	s.logger.Info("connection closed", "connection_id", connID, "connections", len(s.conns))
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close disconnects every connection.
func (s *Server) Close(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Disconnect(ctx, id)
	}
}
