package cli

import (
	"context"
	"fmt"
	"time"

	gogrpc "google.golang.org/grpc"

	transport "github.com/plus3/remoteworld/transport/grpc"
)

// subscribe dials the authority and opens a connection for user. The returned
// cleanup closes both.
func subscribe(ctx context.Context, addr, user string) (*transport.Link, func(), error) {
	cc, err := gogrpc.NewClient(addr, transport.DefaultDialOptions()...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	subCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	link, err := transport.Subscribe(subCtx, cc, user)
	if err != nil {
		_ = cc.Close()
		return nil, nil, err
	}
	return link, func() {
		_ = link.Close()
		_ = cc.Close()
	}, nil
}
