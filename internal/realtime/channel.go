package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoProvider the channel was built without a transport provider
var ErrNoProvider = errors.New("realtime: no channel provider configured")

// Listener receives dispatched events
type Listener func(Event)

// Option configures a Channel
type Option func(*Channel)

// WithSubscriptionReplay controls whether subscribe/unsubscribe intent issued
// while disconnected is buffered and replayed on every (re)connect.
// Enabled by default; disabling drops the intent silently.
func WithSubscriptionReplay(enabled bool) Option {
	return func(c *Channel) {
		c.replay = enabled
	}
}

// WithStateObserver is called on every connection state transition
func WithStateObserver(fn func(ConnectionState)) Option {
	return func(c *Channel) {
		c.stateObserver = fn
	}
}

type listenerEntry struct {
	id string
	fn Listener
}

// Subscription handle returned by On; Close removes the listener
type Subscription struct {
	id      string
	kind    EventKind
	channel *Channel
	once    sync.Once
}

// ID unique handle id
func (s *Subscription) ID() string {
	return s.id
}

// Kind event kind the listener is registered for
func (s *Subscription) Kind() EventKind {
	return s.kind
}

// Close removes the listener. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.channel.remove(s.kind, s.id)
	})
}

// Channel push channel client: connection state, typed listener registry
// and the sensor subscription set.
type Channel struct {
	provider      Provider
	logger        *zap.Logger
	replay        bool
	stateObserver func(ConnectionState)

	mu            sync.Mutex
	state         ConnectionState
	conn          Conn
	epoch         uint64
	subscriptions map[string]struct{}

	listenersMu sync.RWMutex
	listeners   map[EventKind][]listenerEntry
}

// NewChannel creates a channel over provider. A nil provider is a
// configuration error.
func NewChannel(provider Provider, logger *zap.Logger, opts ...Option) (*Channel, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	c := &Channel{
		provider:      provider,
		logger:        logger,
		replay:        true,
		subscriptions: make(map[string]struct{}),
		listeners:     make(map[EventKind][]listenerEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State current connection state
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch number of times the channel has reached Connected
func (c *Channel) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Connect opens the transport. No-op while connecting, connected, or while
// the transport is re-establishing a dropped link on its own.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected || c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	conn, err := c.provider.Dial(ctx, c)
	if err != nil {
		c.mu.Lock()
		if c.conn == nil {
			c.setStateLocked(Disconnected)
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to connect push channel: %w", err)
	}

	c.mu.Lock()
	if c.conn == nil {
		c.conn = conn
	}
	c.mu.Unlock()
	return nil
}

// Disconnect closes the transport. Disconnect listeners fire if the channel
// was connected.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	wasConnected := c.state == Connected
	c.conn = nil
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if wasConnected {
		c.dispatch(Event{Kind: EventDisconnect})
	}
	return err
}

// SubscribeSensor asks upstream to push events for sensorID
func (c *Channel) SubscribeSensor(ctx context.Context, sensorID string) {
	c.mu.Lock()
	connected := c.state == Connected && c.conn != nil
	if connected || c.replay {
		c.subscriptions[sensorID] = struct{}{}
	}
	conn := c.conn
	c.mu.Unlock()

	if !connected {
		c.logger.Debug("Push channel not connected, subscription deferred",
			zap.String("sensor_id", sensorID),
			zap.Bool("replay", c.replay),
		)
		return
	}
	c.emit(ctx, conn, WireSubscribeSensor, sensorID)
}

// UnsubscribeSensor withdraws a sensor subscription
func (c *Channel) UnsubscribeSensor(ctx context.Context, sensorID string) {
	c.mu.Lock()
	connected := c.state == Connected && c.conn != nil
	if connected || c.replay {
		delete(c.subscriptions, sensorID)
	}
	conn := c.conn
	c.mu.Unlock()

	if !connected {
		return
	}
	c.emit(ctx, conn, WireUnsubscribeSensor, sensorID)
}

// Subscriptions current subscription intent, sorted
func (c *Channel) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.subscriptions)
}

// On registers a listener for kind. Listeners run synchronously in
// registration order.
func (c *Channel) On(kind EventKind, fn Listener) *Subscription {
	sub := &Subscription{id: uuid.NewString(), kind: kind, channel: c}

	c.listenersMu.Lock()
	c.listeners[kind] = append(c.listeners[kind], listenerEntry{id: sub.id, fn: fn})
	c.listenersMu.Unlock()

	return sub
}

// Off removes the listener behind sub; unknown handles are ignored
func (c *Channel) Off(sub *Subscription) {
	if sub == nil || sub.channel != c {
		return
	}
	sub.Close()
}

// ListenerCount number of listeners registered for kind
func (c *Channel) ListenerCount(kind EventKind) int {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	return len(c.listeners[kind])
}

func (c *Channel) remove(kind EventKind, id string) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	entries := c.listeners[kind]
	for i, entry := range entries {
		if entry.id == id {
			// copy so an in-progress dispatch keeps its own slice
			next := make([]listenerEntry, 0, len(entries)-1)
			next = append(next, entries[:i]...)
			next = append(next, entries[i+1:]...)
			c.listeners[kind] = next
			return
		}
	}
}

// OnConnected implements Handler
func (c *Channel) OnConnected(conn Conn) {
	c.mu.Lock()
	if c.conn != nil && c.conn != conn {
		c.mu.Unlock()
		return
	}
	if c.conn == nil && c.state == Disconnected {
		// Disconnect() already ran; ignore a late callback
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.epoch++
	epoch := c.epoch
	c.setStateLocked(Connected)
	var pending []string
	if c.replay {
		pending = sortedKeys(c.subscriptions)
	}
	c.mu.Unlock()

	c.logger.Info("Push channel connected",
		zap.Uint64("epoch", epoch),
		zap.Int("pending_subscriptions", len(pending)),
	)

	c.dispatch(Event{Kind: EventConnect})

	for _, sensorID := range pending {
		c.emit(context.Background(), conn, WireSubscribeSensor, sensorID)
	}
}

// OnDisconnected implements Handler
func (c *Channel) OnDisconnected(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn || c.state != Connected {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	c.logger.Warn("Push channel disconnected", zap.Error(err))
	c.dispatch(Event{Kind: EventDisconnect})
}

// OnFrame implements Handler
func (c *Channel) OnFrame(conn Conn, name string, data json.RawMessage) {
	c.mu.Lock()
	live := c.conn == conn && c.state == Connected
	c.mu.Unlock()
	if !live {
		c.logger.Debug("Dropping frame received outside a connected epoch", zap.String("event", name))
		return
	}

	ev, ok, err := decodeFrame(name, data)
	if !ok {
		c.logger.Debug("Ignoring unknown push event", zap.String("event", name))
		return
	}
	if err != nil {
		c.logger.Warn("Dropping malformed push event", zap.String("event", name), zap.Error(err))
		return
	}
	c.dispatch(ev)
}

// dispatch invokes every listener of ev.Kind in registration order. A
// panicking listener is logged and does not stop the others.
func (c *Channel) dispatch(ev Event) {
	c.listenersMu.RLock()
	entries := c.listeners[ev.Kind]
	c.listenersMu.RUnlock()

	for _, entry := range entries {
		c.invoke(entry, ev)
	}
}

func (c *Channel) invoke(entry listenerEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Push listener panicked",
				zap.String("kind", ev.Kind.String()),
				zap.String("listener_id", entry.id),
				zap.Any("panic", r),
			)
		}
	}()
	entry.fn(ev)
}

func (c *Channel) emit(ctx context.Context, conn Conn, event, sensorID string) {
	if err := conn.Emit(ctx, event, sensorID); err != nil {
		c.logger.Warn("Failed to send control message",
			zap.String("event", event),
			zap.String("sensor_id", sensorID),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("Control message sent",
		zap.String("event", event),
		zap.String("sensor_id", sensorID),
	)
}

func (c *Channel) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.stateObserver != nil {
		c.stateObserver(s)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
