package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wailbentafat/debate-relay/broker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	frames chan Frame
}

func newRecorder() *recorder {
	return &recorder{frames: make(chan Frame, 64)}
}

func (r *recorder) WriteFrame(f Frame) error {
	r.frames <- f
	return nil
}

func (r *recorder) next(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func (r *recorder) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case f := <-r.frames:
		t.Fatalf("unexpected frame %s %s", f.Event, f.Data)
	case <-time.After(wait):
	}
}

type result struct {
	reason EndReason
	err    error
}

func start(ctx context.Context, r *Relay, debateID string, w FrameWriter) <-chan result {
	done := make(chan result, 1)
	go func() {
		reason, err := r.Stream(ctx, Session{ID: "s1", DebateID: debateID}, w)
		done <- result{reason, err}
	}()
	return done
}

func wait(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return result{}
	}
}

func expectFrame(t *testing.T, f Frame, event, data string) {
	t.Helper()
	if f.Event != event || string(f.Data) != data {
		t.Fatalf("frame = %s %s, want %s %s", f.Event, f.Data, event, data)
	}
}

func TestStreamCompletes(t *testing.T) {
	hub := broker.NewMemoryHub()
	rec := newRecorder()
	done := start(context.Background(), New(hub, testLogger()), "X", rec)

	expectFrame(t, rec.next(t), "connected", `{"message":"Monitor connected"}`)

	hub.PublishRaw("debate:X", []byte(`{"event":"update","data":{"step":1}}`))
	hub.PublishRaw("debate:X", []byte(`{"event":"debate_completed","data":{}}`))

	expectFrame(t, rec.next(t), "update", `{"step":1}`)
	expectFrame(t, rec.next(t), "debate_completed", `{}`)

	res := wait(t, done)
	if res.reason != EndCompleted || res.err != nil {
		t.Errorf("Stream() = %v, %v; want completed, nil", res.reason, res.err)
	}
	rec.expectNone(t, 20*time.Millisecond)

	if n := hub.Subscribers("debate:X"); n != 0 {
		t.Errorf("Subscribers() = %d after completion", n)
	}
	if n := hub.OpenConns(); n != 0 {
		t.Errorf("OpenConns() = %d after completion", n)
	}
}

func TestStreamSkipsMalformed(t *testing.T) {
	hub := broker.NewMemoryHub()
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := start(ctx, New(hub, testLogger()), "X", rec)

	rec.next(t)

	hub.PublishRaw("debate:X", []byte("not json"))
	hub.PublishRaw("debate:X", []byte(`[1,2,3]`))
	hub.PublishRaw("debate:X", []byte(`{"event":7}`))
	hub.PublishRaw("debate:X", []byte(`{"event":"turn","data":{"speaker":"A"}}`))

	expectFrame(t, rec.next(t), "turn", `{"speaker":"A"}`)
	rec.expectNone(t, 20*time.Millisecond)

	cancel()
	if res := wait(t, done); res.reason != EndClientGone {
		t.Errorf("reason = %v, want client_gone", res.reason)
	}
}

func TestStreamDefaults(t *testing.T) {
	hub := broker.NewMemoryHub()
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := start(ctx, New(hub, testLogger()), "X", rec)

	rec.next(t)
	hub.PublishRaw("debate:X", []byte(`{"data":{"x":1}}`))
	hub.PublishRaw("debate:X", []byte(`{"event":"turn"}`))

	expectFrame(t, rec.next(t), "update", `{"x":1}`)
	expectFrame(t, rec.next(t), "turn", `{}`)

	cancel()
	wait(t, done)
}

func TestStreamOrdering(t *testing.T) {
	hub := broker.NewMemoryHub()
	rec := newRecorder()
	done := start(context.Background(), New(hub, testLogger()), "X", rec)

	rec.next(t)

	conn, _ := hub.Dial(context.Background())
	defer conn.Close()
	const n = 40
	for i := 0; i < n; i++ {
		env, _ := broker.NewEnvelope("update", map[string]int{"i": i})
		if err := conn.Publish(context.Background(), "debate:X", env); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		// keep the subscriber buffer from filling
		f := rec.next(t)
		want, _ := broker.NewEnvelope("update", map[string]int{"i": i})
		expectFrame(t, f, "update", string(want.Data))
	}

	env, _ := broker.NewEnvelope("debate_completed", map[string]any{})
	conn.Publish(context.Background(), "debate:X", env)
	expectFrame(t, rec.next(t), "debate_completed", `{}`)
	wait(t, done)
}

func TestStreamClientDisconnect(t *testing.T) {
	hub := broker.NewMemoryHub()
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	done := start(ctx, New(hub, testLogger()), "X", rec)

	rec.next(t)
	hub.PublishRaw("debate:X", []byte(`{"event":"update","data":{"step":1}}`))
	rec.next(t)

	cancel()
	res := wait(t, done)
	if res.reason != EndClientGone || res.err != nil {
		t.Errorf("Stream() = %v, %v; want client_gone, nil", res.reason, res.err)
	}

	hub.PublishRaw("debate:X", []byte(`{"event":"update","data":{"step":2}}`))
	rec.expectNone(t, 20*time.Millisecond)

	if n := hub.Subscribers("debate:X"); n != 0 {
		t.Errorf("Subscribers() = %d after disconnect", n)
	}
	if n := hub.OpenConns(); n != 0 {
		t.Errorf("OpenConns() = %d after disconnect", n)
	}
}

func TestStreamQuietChannelStaysOpen(t *testing.T) {
	hub := broker.NewMemoryHub()
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	done := start(ctx, New(hub, testLogger()), "X", rec)

	expectFrame(t, rec.next(t), "connected", `{"message":"Monitor connected"}`)

	select {
	case res := <-done:
		t.Fatalf("session ended without a trigger: %v", res.reason)
	case <-time.After(100 * time.Millisecond):
	}
	rec.expectNone(t, 0)

	cancel()
	if res := wait(t, done); res.reason != EndClientGone {
		t.Errorf("reason = %v, want client_gone", res.reason)
	}
}

func TestStreamBrokerLost(t *testing.T) {
	hub := broker.NewMemoryHub()
	rec := newRecorder()
	done := start(context.Background(), New(hub, testLogger()), "X", rec)

	rec.next(t)
	hub.Sever("debate:X")

	res := wait(t, done)
	if res.reason != EndBrokerError {
		t.Errorf("reason = %v, want broker_error", res.reason)
	}
	if !errors.Is(res.err, broker.ErrBrokerUnavailable) {
		t.Errorf("err = %v, want ErrBrokerUnavailable", res.err)
	}
	if n := hub.OpenConns(); n != 0 {
		t.Errorf("OpenConns() = %d after broker loss", n)
	}
}

func TestStreamWriteFailure(t *testing.T) {
	hub := broker.NewMemoryHub()
	connected := make(chan struct{})
	writes := 0
	w := FrameWriterFunc(func(f Frame) error {
		writes++
		if f.Event == EventConnected {
			close(connected)
			return nil
		}
		return io.ErrClosedPipe
	})
	done := start(context.Background(), New(hub, testLogger()), "X", w)

	<-connected
	hub.PublishRaw("debate:X", []byte(`{"event":"update"}`))

	if res := wait(t, done); res.reason != EndClientGone || res.err != nil {
		t.Errorf("Stream() = %v, %v; want client_gone, nil", res.reason, res.err)
	}
	if writes != 2 {
		t.Errorf("writes = %d, want 2", writes)
	}
	if n := hub.OpenConns(); n != 0 {
		t.Errorf("OpenConns() = %d after write failure", n)
	}
}

func TestStreamRepeatedSessionsDoNotLeak(t *testing.T) {
	hub := broker.NewMemoryHub()
	r := New(hub, testLogger())

	for i := 0; i < 25; i++ {
		rec := newRecorder()
		ctx, cancel := context.WithCancel(context.Background())
		done := start(ctx, r, "X", rec)
		rec.next(t)

		switch i % 3 {
		case 0:
			hub.PublishRaw("debate:X", []byte(`{"event":"debate_completed","data":{}}`))
		case 1:
			cancel()
		case 2:
			hub.Sever("debate:X")
		}
		wait(t, done)
		cancel()
	}

	if n := hub.Subscribers("debate:X"); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
	if n := hub.OpenConns(); n != 0 {
		t.Errorf("OpenConns() = %d, want 0", n)
	}
}

func TestStreamIndependentSessions(t *testing.T) {
	hub := broker.NewMemoryHub()
	r := New(hub, testLogger())

	a, b := newRecorder(), newRecorder()
	doneA := start(context.Background(), r, "X", a)
	ctxB, cancelB := context.WithCancel(context.Background())
	doneB := start(ctxB, r, "X", b)
	a.next(t)
	b.next(t)

	hub.PublishRaw("debate:X", []byte(`{"event":"update","data":1}`))
	expectFrame(t, a.next(t), "update", `1`)
	expectFrame(t, b.next(t), "update", `1`)

	cancelB()
	wait(t, doneB)

	hub.PublishRaw("debate:X", []byte(`{"event":"debate_completed","data":{}}`))
	expectFrame(t, a.next(t), "debate_completed", `{}`)
	wait(t, doneA)
}

// fakeBroker lets a test drive a single subscription directly and observe
// the release sequence.
type fakeBroker struct {
	mu         sync.Mutex
	deliveries chan broker.Delivery
	err        error
	calls      []string
	subErr     error
}

func (f *fakeBroker) Dial(ctx context.Context) (broker.MessageBroker, error) {
	f.record("dial")
	return f, nil
}

func (f *fakeBroker) Publish(ctx context.Context, channel string, env broker.Envelope) error {
	return nil
}

func (f *fakeBroker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	f.record("subscribe " + channel)
	if f.subErr != nil {
		return nil, f.subErr
	}
	return f, nil
}

func (f *fakeBroker) Close() error {
	f.record("close")
	return nil
}

func (f *fakeBroker) Deliveries() <-chan broker.Delivery { return f.deliveries }

func (f *fakeBroker) Err() error { return f.err }

func (f *fakeBroker) Unsubscribe(ctx context.Context) error {
	if ctx.Err() != nil {
		f.record("unsubscribe with cancelled ctx")
		return ctx.Err()
	}
	f.record("unsubscribe")
	return nil
}

func (f *fakeBroker) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBroker) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func expectCalls(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %q, want %q", got, want)
		}
	}
}

func TestStreamIgnoresControlDeliveries(t *testing.T) {
	fb := &fakeBroker{deliveries: make(chan broker.Delivery, 8)}
	fb.deliveries <- broker.Delivery{Kind: broker.KindSubscribe, Channel: "debate:X"}
	fb.deliveries <- broker.Delivery{Kind: broker.KindPong, Payload: []byte(`{"event":"debate_completed"}`)}
	fb.deliveries <- broker.Delivery{Kind: broker.KindMessage, Payload: []byte(`{"event":"update","data":{"n":1}}`)}
	fb.deliveries <- broker.Delivery{Kind: broker.KindMessage, Payload: []byte(`{"event":"debate_completed"}`)}

	rec := newRecorder()
	res := wait(t, start(context.Background(), New(fb, testLogger()), "X", rec))
	if res.reason != EndCompleted {
		t.Fatalf("reason = %v, want completed", res.reason)
	}

	expectFrame(t, rec.next(t), "connected", `{"message":"Monitor connected"}`)
	expectFrame(t, rec.next(t), "update", `{"n":1}`)
	expectFrame(t, rec.next(t), "debate_completed", `{}`)
	rec.expectNone(t, 0)

	expectCalls(t, fb.history(), "dial", "subscribe debate:X", "unsubscribe", "close")
}

func TestStreamReleasesWithDetachedContext(t *testing.T) {
	fb := &fakeBroker{deliveries: make(chan broker.Delivery)}
	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	done := start(ctx, New(fb, testLogger()), "X", rec)
	rec.next(t)

	cancel()
	wait(t, done)

	expectCalls(t, fb.history(), "dial", "subscribe debate:X", "unsubscribe", "close")
}

func TestStreamReleasesOnPanic(t *testing.T) {
	fb := &fakeBroker{deliveries: make(chan broker.Delivery, 1)}
	fb.deliveries <- broker.Delivery{Kind: broker.KindMessage, Payload: []byte(`{"event":"update"}`)}

	w := FrameWriterFunc(func(f Frame) error {
		if f.Event == EventUpdate {
			panic("writer exploded")
		}
		return nil
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		New(fb, testLogger()).Stream(context.Background(), Session{ID: "s1", DebateID: "X"}, w)
	}()

	expectCalls(t, fb.history(), "dial", "subscribe debate:X", "unsubscribe", "close")
}

func TestStreamSubscribeFailure(t *testing.T) {
	fb := &fakeBroker{subErr: errors.New("NOAUTH")}
	w := FrameWriterFunc(func(f Frame) error {
		t.Errorf("unexpected frame %s", f.Event)
		return nil
	})

	reason, err := New(fb, testLogger()).Stream(context.Background(), Session{DebateID: "X"}, w)
	if reason != EndBrokerError || !errors.Is(err, broker.ErrBrokerUnavailable) {
		t.Errorf("Stream() = %v, %v", reason, err)
	}
	expectCalls(t, fb.history(), "dial", "subscribe debate:X", "close")
}

type downDialer struct{}

func (downDialer) Dial(ctx context.Context) (broker.MessageBroker, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestStreamDialFailure(t *testing.T) {
	w := FrameWriterFunc(func(f Frame) error {
		t.Errorf("unexpected frame %s", f.Event)
		return nil
	})
	reason, err := New(downDialer{}, testLogger()).Stream(context.Background(), Session{DebateID: "X"}, w)
	if reason != EndBrokerError || !errors.Is(err, broker.ErrBrokerUnavailable) {
		t.Errorf("Stream() = %v, %v", reason, err)
	}
}

func TestEndReasonString(t *testing.T) {
	tests := map[EndReason]string{
		EndCompleted:   "completed",
		EndClientGone:  "client_gone",
		EndBrokerError: "broker_error",
		EndReason(99):  "unknown",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", r, got, want)
		}
	}
}
