package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/plus3/remoteworld/protocol"
)

// DefaultDialOptions returns plaintext dial options with client tracing.
func DefaultDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

type received struct {
	data []byte
	err  error
}

// Link is a session link to a remote authority. It implements session.Link.
type Link struct {
	cc      gogrpc.ClientConnInterface
	welcome protocol.Welcome
	stream  gogrpc.ClientStream
	cancel  context.CancelFunc
	inbound chan received
	done    chan struct{}
	once    sync.Once
}

// Subscribe opens a connection for userID on the authority behind cc and
// waits for its welcome. The caller keeps ownership of cc.
func Subscribe(ctx context.Context, cc gogrpc.ClientConnInterface, userID string) (*Link, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	stream, err := cc.NewStream(streamCtx, &serviceDesc.Streams[0], subscribeMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if err := stream.SendMsg(wrapperspb.String(userID)); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	first := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(first); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: await welcome: %w", err)
	}
	var welcome protocol.Welcome
	if err := protocol.Unmarshal(first.GetValue(), &welcome); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: decode welcome: %w", err)
	}

	l := &Link{
		cc:      cc,
		welcome: welcome,
		stream:  stream,
		cancel:  cancel,
		inbound: make(chan received, 64),
		done:    make(chan struct{}),
	}
	go l.pump()
	return l, nil
}

// Welcome returns the handshake the authority sent.
func (l *Link) Welcome() protocol.Welcome {
	return l.welcome
}

func (l *Link) pump() {
	defer close(l.inbound)
	for {
		msg := new(wrapperspb.BytesValue)
		err := l.stream.RecvMsg(msg)
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return
			}
			select {
			case l.inbound <- received{err: err}:
			case <-l.done:
			}
			return
		}
		select {
		case l.inbound <- received{data: msg.GetValue()}:
		case <-l.done:
			return
		}
	}
}

// Recv returns the next diff the authority pushed, or io.EOF once the stream
// has ended.
func (l *Link) Recv(ctx context.Context) ([]byte, error) {
	select {
	case r, ok := <-l.inbound:
		if !ok {
			return nil, io.EOF
		}
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call invokes a procedure on this link's connection.
func (l *Link) Call(ctx context.Context, procedure string, payload []byte) ([]byte, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		ConnectionIDHeader, l.welcome.ConnectionID,
		ProcedureHeader, procedure,
	)
	resp := new(wrapperspb.BytesValue)
	if err := l.cc.Invoke(ctx, callMethod, wrapperspb.Bytes(payload), resp); err != nil {
		return nil, fromStatus(err)
	}
	return resp.GetValue(), nil
}

// Close ends the subscription, which disconnects the connection on the
// authority.
func (l *Link) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.cancel()
	})
	return nil
}
