package discovery

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/discovery/internal/logging"
	"github.com/muurk/discovery/internal/socket"
	"github.com/muurk/discovery/internal/ssdp"
)

// ErrStopped is returned by operations on an engine that has been shut down
var ErrStopped = errors.New("discovery engine stopped")

// State is the lifecycle state of an Engine
type State int

const (
	// StateIdle means no receive loop is running
	StateIdle State = iota
	// StateListening means at least one receive loop is running
	StateListening
	// StateStopped is terminal; the sockets are closed
	StateStopped
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Receiver names, used in logs and metrics
const (
	ReceiverMulticast = "multicast"
	ReceiverUnicast   = "unicast"
)

// Config holds the settings New uses to open real sockets
type Config struct {
	// BufferSize is the receive buffer size; longer datagrams are truncated
	BufferSize int

	// ReadUnicastReplies also reads the send socket, where M-SEARCH replies
	// addressed to the query's source port arrive
	ReadUnicastReplies bool

	// Port is the multicast listen port (0 means 1900)
	Port int
}

// DefaultConfig returns the standard SSDP settings
func DefaultConfig() Config {
	return Config{
		BufferSize:         ssdp.ReceiveBufferSize,
		ReadUnicastReplies: true,
		Port:               ssdp.Port,
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithNow sets the clock used to compute expiry times
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithBufferSize sets the receive buffer size
func WithBufferSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

// WithReplyReceiver adds a second receive loop, typically over the send
// socket, whose records go through the same decode and merge step.
func WithReplyReceiver(r socket.Receiver) Option {
	return func(e *Engine) {
		if r != nil {
			e.receivers = append(e.receivers, &receiver{
				name:   ReceiverUnicast,
				sock:   r,
				shared: sameSocket(r, e.sender),
			})
		}
	}
}

// WithDestination overrides the address queries are sent to
func WithDestination(addr *net.UDPAddr) Option {
	return func(e *Engine) {
		if addr != nil {
			e.dest = addr
		}
	}
}

type receiver struct {
	name string
	sock socket.Receiver
	// shared is set when sock is also the send socket, so Shutdown closes
	// it once
	shared bool
	active bool
}

// sameSocket reports whether a and b hold the same socket. Values whose
// dynamic type cannot be compared are never the same.
func sameSocket(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() {
		return false
	}
	return va.Equal(vb)
}

// Engine runs SSDP discovery: it sends M-SEARCH queries, reads replies,
// keeps the deduplicated set of services for the current session and
// publishes each new service to subscribers.
type Engine struct {
	log        *zap.Logger
	now        func() time.Time
	bufferSize int
	dest       *net.UDPAddr

	sender socket.Sender
	sendMu sync.Mutex

	mu        sync.Mutex
	state     State
	set       *ServiceSet
	session   string
	receivers []*receiver
	running   int

	loops sync.WaitGroup
	feed  *feed
}

// New opens the send socket and the multicast listener and returns an idle
// engine that owns them. Nothing is returned if either socket fails.
func New(cfg Config, opts ...Option) (*Engine, error) {
	port := cfg.Port
	if port == 0 {
		port = ssdp.Port
	}

	sender, err := socket.NewSender()
	if err != nil {
		return nil, fmt.Errorf("failed to open send socket: %w", err)
	}

	listener, err := socket.NewMulticastListener(ssdp.MulticastGroup, port)
	if err != nil {
		_ = sender.Close()
		return nil, fmt.Errorf("failed to open multicast listener: %w", err)
	}

	base := []Option{WithBufferSize(cfg.BufferSize)}
	if cfg.ReadUnicastReplies {
		base = append(base, WithReplyReceiver(sender))
	}

	return NewWithSockets(sender, listener, append(base, opts...)...), nil
}

// NewWithSockets returns an idle engine over the given sockets.
// The engine takes ownership of both and closes them on Shutdown.
func NewWithSockets(sender socket.Sender, multicast socket.Receiver, opts ...Option) *Engine {
	e := &Engine{
		log:        logging.GetLogger().Named("discovery"),
		now:        time.Now,
		bufferSize: ssdp.ReceiveBufferSize,
		dest:       ssdp.MulticastUDPAddr(),
		sender:     sender,
		state:      StateIdle,
		set:        NewServiceSet(),
		session:    uuid.New().String(),
		receivers:  []*receiver{{name: ReceiverMulticast, sock: multicast}},
		feed:       newFeed(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// StartListening starts a receive loop for every receiver that is not
// already running. It is a no-op when all loops are running, and returns
// ErrStopped after Shutdown.
func (e *Engine) StartListening() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStopped {
		return ErrStopped
	}

	for _, r := range e.receivers {
		if r.active {
			continue
		}
		r.active = true
		e.running++
		e.loops.Add(1)
		go e.receiveLoop(r)
	}

	if e.state != StateListening {
		e.log.Info("Listening for SSDP replies",
			zap.Int("receivers", len(e.receivers)),
			zap.String("session", e.session),
		)
	}
	e.state = StateListening
	return nil
}

func (e *Engine) receiveLoop(r *receiver) {
	defer e.loops.Done()

	buf := make([]byte, e.bufferSize)
	for {
		n, from, err := r.sock.ReceiveFrom(buf)
		if err != nil {
			e.loopExited(r, err)
			return
		}

		e.handleDatagram(r.name, ssdp.Datagram{
			Data:       buf[:n],
			Source:     from,
			ReceivedAt: e.now(),
		})
	}
}

// handleDatagram decodes one datagram and merges the record into the set.
// Decode failures are logged and counted, never published.
func (e *Engine) handleDatagram(receiverName string, d ssdp.Datagram) {
	metricDatagramsReceived.WithLabelValues(receiverName).Inc()
	logging.LogDatagram(e.log, "received", addrString(d.Source), d.Data)

	rec, err := ssdp.Decode(d, d.ReceivedAt)
	if err != nil {
		reason := "malformed_header"
		var de *ssdp.DecodeError
		if errors.As(err, &de) {
			reason = de.Reason()
		}
		metricDatagramsDropped.WithLabelValues(reason).Inc()
		e.log.Debug("Dropping reply",
			zap.String("from", addrString(d.Source)),
			zap.String("receiver", receiverName),
			zap.Error(err),
		)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStopped {
		return
	}
	if !e.set.Add(rec) {
		metricDuplicates.Inc()
		return
	}

	metricServices.Inc()
	logging.LogServiceEvent(e.log, "discovered", rec.USN, rec.Location)
	e.feed.publish(Event{Session: e.session, Record: rec})
}

// loopExited records the end of a receive loop. A closed socket is a
// cancellation and stays silent; any other error is published once.
func (e *Engine) loopExited(r *receiver, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r.active = false
	e.running--

	if !socket.IsClosed(err) {
		metricReceiveFailures.WithLabelValues(r.name).Inc()
		e.log.Error("Receive loop failed",
			zap.String("receiver", r.name),
			zap.Error(err),
		)
		if e.state != StateStopped {
			e.feed.publish(Event{Session: e.session, Err: err})
		}
	}

	if e.running == 0 && e.state == StateListening {
		e.state = StateIdle
	}
}

// Broadcast sends one M-SEARCH query in the background. The returned channel
// yields the send result (nil on success) and is then closed. Broadcast never
// blocks the caller.
func (e *Engine) Broadcast() <-chan error {
	result := make(chan error, 1)

	e.mu.Lock()
	stopped := e.state == StateStopped
	e.mu.Unlock()

	if stopped {
		result <- ErrStopped
		close(result)
		return result
	}

	go func() {
		defer close(result)
		result <- e.send()
	}()
	return result
}

func (e *Engine) send() error {
	query := ssdp.BuildQuery()

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	logging.LogDatagram(e.log, "sent", e.dest.String(), query)
	if err := e.sender.SendTo(query, e.dest); err != nil {
		metricBroadcasts.WithLabelValues("error").Inc()
		e.log.Warn("M-SEARCH broadcast failed",
			zap.String("destination", e.dest.String()),
			zap.Error(err),
		)
		return err
	}

	metricBroadcasts.WithLabelValues("ok").Inc()
	e.log.Debug("M-SEARCH broadcast sent", zap.String("destination", e.dest.String()))
	return nil
}

// Subscribe returns a new subscription to engine events. After Shutdown the
// subscription's channel is already closed.
func (e *Engine) Subscribe() *Subscription {
	return e.feed.subscribe()
}

// Snapshot returns a copy of the services found in the current session,
// in discovery order.
func (e *Engine) Snapshot() []ssdp.ServiceRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set.Snapshot()
}

// Len returns the number of services found in the current session
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set.Len()
}

// Session returns the identifier of the current accumulation
func (e *Engine) Session() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// State returns the lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reset forgets every service and starts a new session. Sockets and
// receive loops are left running, so a service announced again after Reset
// is reported again.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateStopped {
		metricServices.Sub(float64(e.set.Len()))
	}
	e.set.Reset()
	e.session = uuid.New().String()
	e.log.Info("Service set reset", zap.String("session", e.session))
}

// Shutdown stops the engine: it closes both sockets, waits for the receive
// loops to exit and ends every subscription once its queued events are
// delivered. Calling it again returns nil. A broadcast still in flight
// completes with an error.
func (e *Engine) Shutdown() error {
	closers, ok := e.stop()
	if !ok {
		return nil
	}

	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}

	e.loops.Wait()
	e.feed.close()

	e.log.Info("Discovery engine stopped", zap.Error(err))
	return err
}

type closer interface {
	Close() error
}

// stop moves the engine to Stopped and returns the sockets to close. It
// reports false if the engine was already stopped.
func (e *Engine) stop() ([]closer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStopped {
		return nil, false
	}
	e.state = StateStopped
	metricServices.Sub(float64(e.set.Len()))
	return e.closers(), true
}

// closers lists each owned socket once
func (e *Engine) closers() []closer {
	out := make([]closer, 0, len(e.receivers)+1)
	if e.sender != nil {
		out = append(out, e.sender)
	}
	for _, r := range e.receivers {
		if r.shared || r.sock == nil {
			continue
		}
		out = append(out, r.sock)
	}
	return out
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
