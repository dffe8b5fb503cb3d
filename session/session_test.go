package session_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/protocol"
	"github.com/plus3/remoteworld/session"
)

type Health struct {
	Current int `json:"current"`
}

type fakeLink struct {
	inbound chan []byte
	handler func(ctx context.Context, procedure string, payload []byte) ([]byte, error)
	closed  chan struct{}
	once    sync.Once
}

func newFakeLink(handler func(context.Context, string, []byte) ([]byte, error)) *fakeLink {
	return &fakeLink{
		inbound: make(chan []byte, 16),
		handler: handler,
		closed:  make(chan struct{}),
	}
}

func (l *fakeLink) Call(ctx context.Context, procedure string, payload []byte) ([]byte, error) {
	return l.handler(ctx, procedure, payload)
}

func (l *fakeLink) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-l.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-l.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSession(t *testing.T, link session.Link, opts ...session.Option) (*session.Session, ecs.Component[Health]) {
	t.Helper()
	reg := ecs.NewComponentRegistry()
	protocol.Register(reg)
	health := ecs.RegisterComponent[Health](reg, "health")
	opts = append([]session.Option{session.WithLogger(discardLogger())}, opts...)
	sess := session.New(link, protocol.Welcome{UserID: "u1", ConnectionID: "c1"}, reg, opts...)
	return sess, health
}

func runSession(t *testing.T, sess *session.Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("session did not stop")
		}
	})
}

func encode(t *testing.T, sess *session.Session, d *ecs.Diff) []byte {
	t.Helper()
	data, err := protocol.EncodeDiff(sess.Registry(), d)
	require.NoError(t, err)
	return data
}

func noCalls(context.Context, string, []byte) ([]byte, error) {
	return nil, errors.New("unexpected call")
}

func TestDeliverAppliesInOrder(t *testing.T) {
	sess, health := newSession(t, newFakeLink(noCalls))
	id := ecs.EntityId(5)

	require.NoError(t, sess.Deliver(encode(t, sess, ecs.NewDiff().Spawn(id, health.With(Health{Current: 10})))))
	require.NoError(t, sess.Deliver(encode(t, sess, ecs.NewDiff().Set(id, health.With(Health{Current: 7})))))
	require.NoError(t, sess.Deliver(encode(t, sess, ecs.NewDiff().Set(id, health.With(Health{Current: 3})))))

	sess.View(func(world *ecs.Storage) {
		value, err := ecs.Get(world, id, health)
		require.NoError(t, err)
		assert.Equal(t, 3, value.Current)
		version, _ := world.ContentVersion(id, health.Desc())
		assert.Equal(t, uint64(3), version)
	})
	assert.Equal(t, int64(3), sess.Stats().DiffsApplied)
}

func TestDeliverSkipsOpsOnMissingEntities(t *testing.T) {
	sess, health := newSession(t, newFakeLink(noCalls))

	require.NoError(t, sess.Deliver(encode(t, sess, ecs.NewDiff().
		Set(ecs.EntityId(9), health.With(Health{})).
		Spawn(ecs.EntityId(2), health.With(Health{Current: 1})))))

	sess.View(func(world *ecs.Storage) {
		assert.True(t, world.Alive(ecs.EntityId(2)))
		assert.False(t, world.Alive(ecs.EntityId(9)))
	})
	assert.Equal(t, int64(1), sess.Stats().OpsSkipped)
}

func TestManualApplyQueuesUntilApplyPending(t *testing.T) {
	sess, health := newSession(t, newFakeLink(noCalls), session.WithManualApply())

	require.NoError(t, sess.Deliver(encode(t, sess, ecs.NewDiff().Spawn(ecs.EntityId(1), health.With(Health{Current: 1})))))
	require.NoError(t, sess.Deliver(encode(t, sess, ecs.NewDiff().Set(ecs.EntityId(1), health.With(Health{Current: 2})))))
	sess.View(func(world *ecs.Storage) {
		assert.Equal(t, 0, world.Len())
	})
	assert.Equal(t, 2, sess.Stats().DiffsPending)

	assert.Equal(t, 2, sess.ApplyPending())
	sess.View(func(world *ecs.Storage) {
		value, _ := ecs.Get(world, ecs.EntityId(1), health)
		assert.Equal(t, 2, value.Current)
	})
	assert.Equal(t, 0, sess.ApplyPending())
}

func TestDeliverRejectsMalformed(t *testing.T) {
	sess, _ := newSession(t, newFakeLink(noCalls))
	assert.ErrorIs(t, sess.Deliver([]byte("nope")), protocol.ErrMalformedDiff)
	assert.Equal(t, int64(1), sess.Stats().Malformed)
}

func TestRunAppliesPushedDiffs(t *testing.T) {
	link := newFakeLink(noCalls)
	sess, health := newSession(t, link)
	runSession(t, sess)

	link.inbound <- encode(t, sess, ecs.NewDiff().Spawn(ecs.EntityId(4), health.With(Health{Current: 4})))
	link.inbound <- []byte("garbage")
	link.inbound <- encode(t, sess, ecs.NewDiff().Set(ecs.EntityId(4), health.With(Health{Current: 8})))

	require.Eventually(t, func() bool {
		var current int
		sess.View(func(world *ecs.Storage) {
			value, _ := ecs.Get(world, ecs.EntityId(4), health)
			current = value.Current
		})
		return current == 8
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), sess.Stats().Malformed)
}

func TestRunEndsWhenLinkCloses(t *testing.T) {
	link := newFakeLink(noCalls)
	sess, _ := newSession(t, link)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	close(link.inbound)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after EOF")
	}
}

func TestCallResolvesAsynchronously(t *testing.T) {
	release := make(chan struct{})
	link := newFakeLink(func(ctx context.Context, procedure string, payload []byte) ([]byte, error) {
		<-release
		assert.Equal(t, "echo", procedure)
		return payload, nil
	})
	sess, _ := newSession(t, link)
	runSession(t, sess)

	echo := session.JSONProcedure[string, string]("echo")
	future := session.Call(sess, echo, "hello")

	_, _, ok := future.Result()
	assert.False(t, ok, "call returns before the link answers")

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	value, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", value)
}

func TestCallFailureIsRPCError(t *testing.T) {
	boom := errors.New("remote rejected")
	sess, _ := newSession(t, newFakeLink(func(context.Context, string, []byte) ([]byte, error) {
		return nil, boom
	}))
	runSession(t, sess)

	future := session.Call(sess, session.JSONProcedure[int, int]("double"), 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := future.Wait(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrRPCFailed)
	assert.ErrorIs(t, err, boom)
	var rpcErr *session.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "double", rpcErr.Procedure)
	assert.Equal(t, int64(1), sess.Stats().CallsFailed)
}

func TestCallAfterCloseFails(t *testing.T) {
	sess, _ := newSession(t, newFakeLink(noCalls))
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	future := session.Call(sess, session.JSONProcedure[int, int]("late"), 1)
	_, err, ok := future.Result()
	require.True(t, ok)
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestWaitGivesUpWithoutCancellingCall(t *testing.T) {
	release := make(chan struct{})
	sess, _ := newSession(t, newFakeLink(func(ctx context.Context, _ string, payload []byte) ([]byte, error) {
		<-release
		return payload, nil
	}))
	runSession(t, sess)

	future := session.Call(sess, session.JSONProcedure[int, int]("slow"), 7)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := future.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	select {
	case <-future.Done():
	case <-time.After(time.Second):
		t.Fatal("call did not complete")
	}
	value, err, _ := future.Result()
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSubmitDiffLogsFailures(t *testing.T) {
	var logs syncBuffer
	link := newFakeLink(func(context.Context, string, []byte) ([]byte, error) {
		return nil, errors.New("transport closed")
	})
	sess, health := newSession(t, link, session.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	runSession(t, sess)

	sess.SubmitDiff(ecs.NewDiff().Set(ecs.EntityId(1), health.With(Health{Current: 1})))

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(logs.String()), []byte("diff submission failed"))
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, logs.String(), "procedure=world_diff")
	assert.Contains(t, logs.String(), "transport closed")
}

func TestSubmitDiffSendsEncodedDiff(t *testing.T) {
	received := make(chan []byte, 1)
	link := newFakeLink(func(_ context.Context, procedure string, payload []byte) ([]byte, error) {
		assert.Equal(t, protocol.ProcWorldDiff, procedure)
		received <- payload
		return protocol.Marshal(protocol.ApplyResult{Applied: 1})
	})
	sess, health := newSession(t, link)
	runSession(t, sess)

	future := sess.SubmitDiff(ecs.NewDiff().Set(ecs.EntityId(3), health.With(Health{Current: 9})))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	diff, err := protocol.DecodeDiff(sess.Registry(), <-received)
	require.NoError(t, err)
	require.Equal(t, 1, diff.Len())
	assert.Equal(t, ecs.EntityId(3), diff.Ops()[0].Entity)
}

func TestCallsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	link := newFakeLink(func(_ context.Context, procedure string, payload []byte) ([]byte, error) {
		if procedure == "bad" {
			return nil, errors.New("denied")
		}
		return payload, nil
	})
	sess, _ := newSession(t, link, session.WithTracerProvider(tp))
	runSession(t, sess)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := session.Call(sess, session.JSONProcedure[int, int]("good"), 1).Wait(ctx)
	require.NoError(t, err)
	_, err = session.Call(sess, session.JSONProcedure[int, int]("bad"), 1).Wait(ctx)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return len(recorder.Ended()) == 2
	}, time.Second, 5*time.Millisecond)
	spans := recorder.Ended()
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, span := range spans {
		byName[span.Name()] = span
	}
	require.Contains(t, byName, "session.call good")
	require.Contains(t, byName, "session.call bad")
	assert.Equal(t, codes.Unset, byName["session.call good"].Status().Code)
	assert.Equal(t, codes.Error, byName["session.call bad"].Status().Code)
}

func TestCallsAreSentInIssueOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	sess, _ := newSession(t, newFakeLink(func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		mu.Lock()
		seen = append(seen, string(payload))
		mu.Unlock()
		return payload, nil
	}))
	runSession(t, sess)

	proc := session.JSONProcedure[int, int]("seq")
	var last *session.Future[int]
	for i := range 20 {
		last = session.Call(sess, proc, i)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := last.Wait(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 20)
	for i, payload := range seen {
		assert.Equal(t, strconv.Itoa(i), payload)
	}
}

func TestQueuedCallsFailWhenSessionCloses(t *testing.T) {
	sess, _ := newSession(t, newFakeLink(func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		return payload, nil
	}))

	future := session.Call(sess, session.JSONProcedure[int, int]("pending"), 1)
	assert.Equal(t, 1, sess.Stats().CallsQueued)

	require.NoError(t, sess.Close())
	_, err, ok := future.Result()
	require.True(t, ok, "a queued call resolves on close")
	assert.ErrorIs(t, err, session.ErrClosed)
	assert.ErrorIs(t, err, session.ErrRPCFailed)
	assert.Equal(t, 0, sess.Stats().CallsQueued)
	assert.Equal(t, int64(1), sess.Stats().CallsFailed)
}

func TestCallsAfterRunStopsFail(t *testing.T) {
	sess, _ := newSession(t, newFakeLink(func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		return payload, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}

	future := session.Call(sess, session.JSONProcedure[int, int]("late"), 2)
	require.NoError(t, sess.Close())

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	_, err := future.Wait(waitCtx)
	assert.ErrorIs(t, err, session.ErrClosed)
	assert.Zero(t, sess.Stats().CallsQueued)
}
