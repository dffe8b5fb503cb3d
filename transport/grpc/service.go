// Package grpc carries the authority protocol over gRPC.
//
// The service is declared by hand rather than generated: both messages are
// well-known wrapper types, so the default proto codec needs no schema. A
// client subscribes with its user id and receives the welcome handshake as the
// first message of the stream, followed by every diff the authority pushes to
// that connection. Calls are unary and identify their connection and procedure
// through metadata.
package grpc

import (
	"context"
	"errors"
	"strings"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/plus3/remoteworld/authority"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "remoteworld.v1.WorldSync"

const (
	// ConnectionIDHeader carries the caller's connection id on calls.
	ConnectionIDHeader = "x-connection-id"
	// ProcedureHeader carries the procedure name on calls.
	ProcedureHeader = "x-procedure"
)

const (
	subscribeMethod = "/" + ServiceName + "/Subscribe"
	callMethod      = "/" + ServiceName + "/Call"
)

// worldSyncServer is the handler type the service desc dispatches to.
type worldSyncServer interface {
	subscribe(user string, stream gogrpc.ServerStream) error
	call(ctx context.Context, payload []byte) ([]byte, error)
}

var serviceDesc = gogrpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*worldSyncServer)(nil),
	Methods: []gogrpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams: []gogrpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "remoteworld/v1/worldsync.proto",
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// toStatus maps authority errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authority.ErrUnknownProcedure):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, authority.ErrUnknownConnection):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, authority.ErrBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus maps a call's gRPC status back onto the authority's errors so
// callers can test for them with errors.Is on either side of the wire.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unimplemented:
		return errors.Join(authority.ErrUnknownProcedure, err)
	case codes.NotFound:
		return errors.Join(authority.ErrUnknownConnection, err)
	case codes.InvalidArgument:
		return errors.Join(authority.ErrBadRequest, err)
	default:
		return err
	}
}
