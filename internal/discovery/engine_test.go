package discovery

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/muurk/discovery/internal/socket"
	"github.com/muurk/discovery/internal/socket/sockettest"
	"github.com/muurk/discovery/internal/ssdp"
)

var (
	fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	peer     = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 1900}
)

const scenarioReply = "CACHE-CONTROL: max-age=1800\r\n" +
	"LOCATION: http://10.0.0.5:80/desc.xml\r\n" +
	"SERVER: TestServer/1.0\r\n" +
	"USN: uuid:1234::urn:schemas\r\n\r\n"

func reply(usn, server string) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\n"+
		"CACHE-CONTROL: max-age=60\r\n"+
		"LOCATION: http://10.0.0.5:80/%s.xml\r\n"+
		"SERVER: %s\r\n"+
		"USN: %s\r\n\r\n", usn, server, usn)
}

type harness struct {
	engine    *Engine
	sender    *sockettest.MemSocket
	multicast *sockettest.MemSocket
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		sender:    sockettest.New(),
		multicast: sockettest.New(),
	}
	opts = append([]Option{WithNow(func() time.Time { return fixedNow })}, opts...)
	h.engine = NewWithSockets(h.sender, h.multicast, opts...)
	t.Cleanup(func() { h.engine.Shutdown() })
	return h
}

func next(t *testing.T, sub *Subscription) Event {
	t.Helper()

	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()

	select {
	case ev, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScenarioValidReply(t *testing.T) {
	h := newHarness(t)
	sub := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	h.multicast.DeliverString(scenarioReply, peer)

	ev := next(t, sub)
	require.NoError(t, ev.Err)
	assert.Equal(t, "TestServer/1.0", ev.Record.Server)
	assert.Equal(t, "uuid:1234::urn:schemas", ev.Record.USN)
	assert.Equal(t, "http://10.0.0.5:80/desc.xml", ev.Record.Location)
	assert.Equal(t, fixedNow.Add(1800*time.Second), ev.Record.Expiry)
	assert.Equal(t, peer.String(), ev.Record.Source)
	assert.Equal(t, h.engine.Session(), ev.Session)
	assert.Equal(t, 1, h.engine.Len())
}

func TestScenarioMissingLocation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := newHarness(t, WithLogger(zap.New(core)))
	sub := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	h.multicast.DeliverString("SERVER: TestServer/1.0\r\nUSN: uuid:1234\r\nCACHE-CONTROL: max-age=5\r\n\r\n", peer)

	assertNoEvent(t, sub)
	assert.Equal(t, 0, h.engine.Len())
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Dropping reply").Len() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestScenarioIndependentBroadcasts(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	var calls sync.WaitGroup
	calls.Add(2)
	var n int
	var mu sync.Mutex
	h.sender.SendFunc = func([]byte, *net.UDPAddr) error {
		mu.Lock()
		n++
		first := n == 1
		mu.Unlock()
		calls.Done()
		if first {
			<-release
			return errors.New("network unreachable")
		}
		return nil
	}

	first := h.engine.Broadcast()
	second := h.engine.Broadcast()

	// Whichever send runs first holds the send lock until released
	select {
	case err := <-first:
		t.Fatalf("broadcast finished while the send was blocked: %v", err)
	case err := <-second:
		t.Fatalf("broadcast finished while the send was blocked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	results := []error{<-first, <-second}
	calls.Wait()

	var failed int
	for _, err := range results {
		if err != nil {
			assert.EqualError(t, err, "network unreachable")
			failed++
		}
	}
	assert.Equal(t, 1, failed, "each broadcast reports its own outcome")

	sent := h.sender.Sent()
	require.Len(t, sent, 2)
	for _, payload := range sent {
		assert.Equal(t, ssdp.BuildQuery(), payload)
	}
}

func TestScenarioShutdownCancelsReceive(t *testing.T) {
	h := newHarness(t)
	sub := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())
	require.Equal(t, StateListening, h.engine.State())

	done := make(chan error, 1)
	go func() { done <- h.engine.Shutdown() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	assert.Equal(t, StateStopped, h.engine.State())
	assert.True(t, h.multicast.Closed())
	assert.True(t, h.sender.Closed())

	// Cancellation is silent: the channel closes without an error event
	_, ok := <-sub.C()
	assert.False(t, ok)

	assert.ErrorIs(t, h.engine.StartListening(), ErrStopped)
	assert.ErrorIs(t, <-h.engine.Broadcast(), ErrStopped)
	assert.NoError(t, h.engine.Shutdown())
}

func TestDuplicateUSNKeepsFirst(t *testing.T) {
	h := newHarness(t)
	sub := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	h.multicast.DeliverString(reply("uuid:a", "first/1.0"), peer)
	h.multicast.DeliverString(reply("uuid:a", "second/2.0"), peer)
	h.multicast.DeliverString(reply("uuid:b", "other/1.0"), peer)

	assert.Equal(t, "uuid:a", next(t, sub).Record.USN)
	assert.Equal(t, "uuid:b", next(t, sub).Record.USN)

	snap := h.engine.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "first/1.0", snap[0].Server)
}

func TestEventsInDecodeOrder(t *testing.T) {
	h := newHarness(t)
	sub := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	var want []string
	for i := 0; i < 20; i++ {
		usn := fmt.Sprintf("uuid:%02d", i)
		want = append(want, usn)
		h.multicast.DeliverString(reply(usn, "srv"), peer)
		if i%5 == 0 {
			h.multicast.DeliverString("garbage", peer)
		}
	}

	var got []string
	for range want {
		got = append(got, next(t, sub).Record.USN)
	}
	assert.Equal(t, want, got)
}

func TestStartListeningIdempotent(t *testing.T) {
	h := newHarness(t)
	sub := h.engine.Subscribe()

	require.NoError(t, h.engine.StartListening())
	require.NoError(t, h.engine.StartListening())

	h.multicast.DeliverString(reply("uuid:a", "srv"), peer)
	next(t, sub)
	assertNoEvent(t, sub)
}

func TestResetStartsNewSession(t *testing.T) {
	h := newHarness(t)
	sub := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	h.multicast.DeliverString(reply("uuid:a", "srv"), peer)
	firstSession := next(t, sub).Session

	h.engine.Reset()
	assert.Equal(t, 0, h.engine.Len())
	assert.NotEqual(t, firstSession, h.engine.Session())
	assert.Equal(t, StateListening, h.engine.State())

	h.multicast.DeliverString(reply("uuid:a", "srv"), peer)
	ev := next(t, sub)
	assert.Equal(t, "uuid:a", ev.Record.USN)
	assert.Equal(t, h.engine.Session(), ev.Session)
}

func TestReceiveFailurePublishedOnce(t *testing.T) {
	h := newHarness(t)
	sub := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	failure := &socket.Error{Op: socket.OpReceive, Err: errors.New("interface down")}
	h.multicast.Fail(failure)

	ev := next(t, sub)
	require.True(t, ev.IsError())
	assert.ErrorIs(t, ev.Err, failure)
	assertNoEvent(t, sub)

	require.Eventually(t, func() bool {
		return h.engine.State() == StateIdle
	}, time.Second, 10*time.Millisecond)

	// Listening resumes on the same socket
	require.NoError(t, h.engine.StartListening())
	h.multicast.DeliverString(reply("uuid:a", "srv"), peer)
	assert.Equal(t, "uuid:a", next(t, sub).Record.USN)
}

func TestReplyReceiverSharesSet(t *testing.T) {
	replies := sockettest.New()
	h := newHarness(t, WithReplyReceiver(replies))
	sub := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	replies.DeliverString(reply("uuid:a", "unicast"), peer)
	assert.Equal(t, "unicast", next(t, sub).Record.Server)

	h.multicast.DeliverString(reply("uuid:a", "multicast"), peer)
	assertNoEvent(t, sub)

	require.NoError(t, h.engine.Shutdown())
	assert.True(t, replies.Closed())
}

func TestSenderAsReplyReceiverClosedOnce(t *testing.T) {
	sender := sockettest.New()
	multicast := sockettest.New()
	e := NewWithSockets(sender, multicast, WithReplyReceiver(sender))

	require.NoError(t, e.StartListening())
	assert.Len(t, e.closers(), 2)
	require.NoError(t, e.Shutdown())
}

func TestShutdownWithUncomparableSockets(t *testing.T) {
	var closes int
	var mu sync.Mutex
	s := funcSocket{close: func() error {
		mu.Lock()
		defer mu.Unlock()
		closes++
		return nil
	}}

	tests := []struct {
		name       string
		opts       []Option
		wantCloses int
	}{
		{name: "sender", wantCloses: 1},
		{name: "sender as reply receiver", opts: []Option{WithReplyReceiver(s)}, wantCloses: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mu.Lock()
			closes = 0
			mu.Unlock()

			e := NewWithSockets(s, sockettest.New(), tt.opts...)
			require.NotPanics(t, func() { require.NoError(t, e.Shutdown()) })

			// The lock must be free after Shutdown
			assert.Equal(t, StateStopped, e.State())
			require.NoError(t, e.Shutdown())

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, tt.wantCloses, closes)
		})
	}
}

func TestSameSocket(t *testing.T) {
	mem := sockettest.New()
	fn := funcSocket{close: func() error { return nil }}

	assert.True(t, sameSocket(mem, mem))
	assert.False(t, sameSocket(mem, sockettest.New()))
	assert.False(t, sameSocket(fn, fn))
	assert.False(t, sameSocket(mem, fn))
	assert.False(t, sameSocket(mem, nil))
}

func TestServicesGaugeAcrossEngines(t *testing.T) {
	base := gaugeValue(t, metricServices)

	a := newHarness(t)
	b := newHarness(t)
	require.NoError(t, a.engine.StartListening())
	require.NoError(t, b.engine.StartListening())

	a.multicast.DeliverString(reply("uuid:a", "srv"), peer)
	a.multicast.DeliverString(reply("uuid:b", "srv"), peer)
	b.multicast.DeliverString(reply("uuid:a", "srv"), peer)
	require.Eventually(t, func() bool {
		return a.engine.Len() == 2 && b.engine.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, base+3, gaugeValue(t, metricServices))

	a.engine.Reset()
	assert.Equal(t, base+1, gaugeValue(t, metricServices))

	require.NoError(t, b.engine.Shutdown())
	assert.Equal(t, base, gaugeValue(t, metricServices))

	// Reset after Shutdown leaves the gauge alone
	b.engine.Reset()
	assert.Equal(t, base, gaugeValue(t, metricServices))
}

func TestMultipleSubscribers(t *testing.T) {
	h := newHarness(t)
	a := h.engine.Subscribe()
	b := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	h.multicast.DeliverString(reply("uuid:a", "srv"), peer)

	assert.Equal(t, "uuid:a", next(t, a).Record.USN)
	assert.Equal(t, "uuid:a", next(t, b).Record.USN)

	a.Close()
	h.multicast.DeliverString(reply("uuid:b", "srv"), peer)
	assert.Equal(t, "uuid:b", next(t, b).Record.USN)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	slow := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	for i := 0; i < 50; i++ {
		h.multicast.DeliverString(reply(fmt.Sprintf("uuid:%d", i), "srv"), peer)
	}

	require.Eventually(t, func() bool {
		return h.engine.Len() == 50
	}, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 50; i++ {
		assert.Equal(t, fmt.Sprintf("uuid:%d", i), next(t, slow).Record.USN)
	}
}

func TestShutdownDrainsQueuedEvents(t *testing.T) {
	h := newHarness(t)
	sub := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	h.multicast.DeliverString(reply("uuid:a", "srv"), peer)
	require.Eventually(t, func() bool { return h.engine.Len() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, h.engine.Shutdown())

	ev, ok := <-sub.C()
	require.True(t, ok)
	assert.Equal(t, "uuid:a", ev.Record.USN)
	_, ok = <-sub.C()
	assert.False(t, ok)
}

func TestSubscribeAfterShutdown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Shutdown())

	_, ok := <-h.engine.Subscribe().C()
	assert.False(t, ok)
}

func TestShutdownCombinesCloseErrors(t *testing.T) {
	e := NewWithSockets(failingCloser{sockettest.New(), errors.New("send close")},
		failingCloser{sockettest.New(), errors.New("recv close")})

	err := e.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send close")
	assert.Contains(t, err.Error(), "recv close")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "State(7)", State(7).String())
}

func TestBufferSizeTruncates(t *testing.T) {
	h := newHarness(t, WithBufferSize(80))
	sub := h.engine.Subscribe()
	require.NoError(t, h.engine.StartListening())

	// USN falls beyond the buffer, so the record is dropped
	h.multicast.DeliverString(reply("uuid:a", "srv"), peer)
	assertNoEvent(t, sub)

	h.multicast.DeliverString("USN:uuid:b\r\nSERVER:s\r\nLOCATION:http://h/\r\nCACHE-CONTROL:max-age=1\r\n", peer)
	assert.Equal(t, "uuid:b", next(t, sub).Record.USN)
}

// funcSocket is a value type that cannot be used as a map key
type funcSocket struct {
	close func() error
}

func (f funcSocket) SendTo([]byte, *net.UDPAddr) error { return nil }

func (f funcSocket) ReceiveFrom([]byte) (int, net.Addr, error) { return 0, nil, socket.ErrClosed }

func (f funcSocket) Close() error { return f.close() }

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

type failingCloser struct {
	*sockettest.MemSocket
	err error
}

func (f failingCloser) Close() error {
	f.MemSocket.Close()
	return f.err
}
