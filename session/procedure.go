package session

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/protocol"
)

// Procedure describes a remote procedure and how its messages are encoded.
type Procedure[Req, Resp any] struct {
	Name   string
	Encode func(Req) ([]byte, error)
	Decode func([]byte) (Resp, error)
}

// JSONProcedure builds a procedure whose request and response are JSON.
func JSONProcedure[Req, Resp any](name string) Procedure[Req, Resp] {
	return Procedure[Req, Resp]{
		Name:   name,
		Encode: func(req Req) ([]byte, error) { return protocol.Marshal(req) },
		Decode: func(data []byte) (Resp, error) {
			var resp Resp
			err := protocol.Unmarshal(data, &resp)
			return resp, err
		},
	}
}

// WorldDiffProcedure is the world_diff procedure bound to a registry.
func WorldDiffProcedure(reg *ecs.ComponentRegistry) Procedure[*ecs.Diff, protocol.ApplyResult] {
	return Procedure[*ecs.Diff, protocol.ApplyResult]{
		Name:   protocol.ProcWorldDiff,
		Encode: func(d *ecs.Diff) ([]byte, error) { return protocol.EncodeDiff(reg, d) },
		Decode: JSONProcedure[struct{}, protocol.ApplyResult]("").Decode,
	}
}

// Call issues a remote call without blocking. The request is encoded before
// Call returns; the exchange itself runs on the session's dispatch workers.
func Call[Req, Resp any](s *Session, proc Procedure[Req, Resp], req Req) *Future[Resp] {
	future := newFuture[Resp]()
	var zero Resp

	payload, err := proc.Encode(req)
	if err != nil {
		future.resolve(zero, &RPCError{Procedure: proc.Name, Err: err})
		return future
	}

	fail := func(err error) {
		future.resolve(zero, &RPCError{Procedure: proc.Name, Err: err})
	}

	s.stats.callsIssued.Add(1)
	queued := s.calls.Enqueue(pendingCall{fail: fail, run: func(ctx context.Context) {
		ctx, span := s.tracer.Start(ctx, "session.call "+proc.Name,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("rpc.method", proc.Name),
				attribute.String("remoteworld.connection_id", s.welcome.ConnectionID),
				attribute.Int("rpc.request.size", len(payload)),
			),
		)
		defer span.End()

		data, err := s.link.Call(ctx, proc.Name, payload)
		if err == nil {
			var resp Resp
			resp, err = proc.Decode(data)
			if err == nil {
				future.resolve(resp, nil)
				return
			}
		}
		s.stats.callsFailed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fail(err)
	}})
	if !queued {
		s.stats.callsFailed.Add(1)
		fail(ErrClosed)
	}
	return future
}
