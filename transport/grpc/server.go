package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/plus3/remoteworld/authority"
	"github.com/plus3/remoteworld/protocol"
)

// Server exposes an authority over gRPC.
type Server struct {
	world  *authority.Server
	logger *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the transport logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer wraps world.
func NewServer(world *authority.Server, opts ...ServerOption) *Server {
	s := &Server{world: world, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the service to registrar.
func (s *Server) Register(registrar gogrpc.ServiceRegistrar) {
	registrar.RegisterService(&serviceDesc, s)
}

// NewGRPCServer builds a gRPC server with tracing and health checks that
// serves s.
func NewGRPCServer(s *Server, opts ...gogrpc.ServerOption) *gogrpc.Server {
	opts = append([]gogrpc.ServerOption{gogrpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	grpcServer := gogrpc.NewServer(opts...)
	s.Register(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return grpcServer
}

func subscribeHandler(srv any, stream gogrpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(worldSyncServer).subscribe(req.GetValue(), stream)
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
	req := new(wrapperspb.BytesValue)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(worldSyncServer).call(ctx, req.(*wrapperspb.BytesValue).GetValue())
		if err != nil {
			return nil, err
		}
		return wrapperspb.Bytes(resp), nil
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &gogrpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	return interceptor(ctx, req, info, handler)
}

// subscribe opens an authority connection for the stream's lifetime.
func (s *Server) subscribe(user string, stream gogrpc.ServerStream) error {
	ctx := stream.Context()
	conn, err := s.world.Connect(ctx, user)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	defer conn.Close()

	welcome, err := protocol.Marshal(conn.Welcome())
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	if err := stream.SendMsg(wrapperspb.Bytes(welcome)); err != nil {
		return err
	}
	s.logger.Debug("stream subscribed", "connection_id", conn.Welcome().ConnectionID)

	for {
		data, err := conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return toStatus(err)
		}
		if err := stream.SendMsg(wrapperspb.Bytes(data)); err != nil {
			return err
		}
	}
}

func (s *Server) call(ctx context.Context, payload []byte) ([]byte, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	connID := firstValue(md, ConnectionIDHeader)
	if connID == "" {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("%s metadata is required", ConnectionIDHeader))
	}
	procedure := firstValue(md, ProcedureHeader)
	if procedure == "" {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("%s metadata is required", ProcedureHeader))
	}
	resp, err := s.world.HandleRPC(ctx, connID, procedure, payload)
	return resp, toStatus(err)
}
