package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emitted struct {
	event    string
	sensorID string
}

type fakeConn struct {
	mu      sync.Mutex
	emitted []emitted
	closed  bool
	emitErr error
}

func (f *fakeConn) Emit(_ context.Context, event, sensorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, emitted{event: event, sensorID: sensorID})
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) sent() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emitted...)
}

// fakeProvider hands out one conn per Dial; connectOnDial controls whether
// the link comes up synchronously.
type fakeProvider struct {
	conn          *fakeConn
	handler       Handler
	dials         int
	dialErr       error
	connectOnDial bool
}

func (p *fakeProvider) Dial(_ context.Context, h Handler) (Conn, error) {
	p.dials++
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	p.handler = h
	if p.conn == nil {
		p.conn = &fakeConn{}
	}
	if p.connectOnDial {
		h.OnConnected(p.conn)
	}
	return p.conn, nil
}

func newTestChannel(t *testing.T, p *fakeProvider, opts ...Option) *Channel {
	t.Helper()
	ch, err := NewChannel(p, zap.NewNop(), opts...)
	require.NoError(t, err)
	return ch
}

func readingFrame(t *testing.T, sensorID string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":                  1,
		"sensor_id":           sensorID,
		"humidity_percentage": 41.5,
		"timestamp":           "2024-05-01T10:00:00Z",
		"alert_level":         "normal",
	})
	require.NoError(t, err)
	return data
}

func TestNewChannel_NilProvider(t *testing.T) {
	ch, err := NewChannel(nil, zap.NewNop())
	require.Nil(t, ch)
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestChannel_ConnectIdempotent(t *testing.T) {
	p := &fakeProvider{connectOnDial: true}
	ch := newTestChannel(t, p)

	require.Equal(t, Disconnected, ch.State())
	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Connect(context.Background()))

	require.Equal(t, 1, p.dials)
	require.Equal(t, Connected, ch.State())
	require.Equal(t, uint64(1), ch.Epoch())
}

func TestChannel_ConnectWhileConnectingIsNoop(t *testing.T) {
	p := &fakeProvider{}
	ch := newTestChannel(t, p)

	require.NoError(t, ch.Connect(context.Background()))
	require.Equal(t, Connecting, ch.State())
	require.NoError(t, ch.Connect(context.Background()))
	require.Equal(t, 1, p.dials)
}

func TestChannel_DialFailure(t *testing.T) {
	p := &fakeProvider{dialErr: errors.New("refused")}
	ch := newTestChannel(t, p)

	err := ch.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, Disconnected, ch.State())

	// can retry after a failed dial
	p.dialErr = nil
	p.connectOnDial = true
	require.NoError(t, ch.Connect(context.Background()))
	require.Equal(t, Connected, ch.State())
}

func TestChannel_ListenerOrder(t *testing.T) {
	p := &fakeProvider{connectOnDial: true}
	ch := newTestChannel(t, p)

	var order []int
	for i := 0; i < 4; i++ {
		i := i
		ch.On(EventReading, func(Event) { order = append(order, i) })
	}

	require.NoError(t, ch.Connect(context.Background()))
	ch.OnFrame(p.conn, WireNewReading, readingFrame(t, "S1"))

	require.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestChannel_PanickingListenerIsolated(t *testing.T) {
	p := &fakeProvider{connectOnDial: true}
	ch := newTestChannel(t, p)

	var got []string
	ch.On(EventReading, func(ev Event) { got = append(got, "first:"+ev.SensorID()) })
	ch.On(EventReading, func(Event) { panic("boom") })
	ch.On(EventReading, func(ev Event) { got = append(got, "third:"+ev.SensorID()) })

	require.NoError(t, ch.Connect(context.Background()))
	require.NotPanics(t, func() {
		ch.OnFrame(p.conn, WireNewReading, readingFrame(t, "S1"))
	})
	require.Equal(t, []string{"first:S1", "third:S1"}, got)
}

func TestChannel_SubscriptionHandleClose(t *testing.T) {
	p := &fakeProvider{connectOnDial: true}
	ch := newTestChannel(t, p)

	var a, b int
	subA := ch.On(EventAlert, func(Event) { a++ })
	ch.On(EventAlert, func(Event) { b++ })
	require.Equal(t, 2, ch.ListenerCount(EventAlert))
	require.NotEmpty(t, subA.ID())
	require.Equal(t, EventAlert, subA.Kind())

	require.NoError(t, ch.Connect(context.Background()))
	alert := json.RawMessage(`{"alert_id":"A1","sensor_id":"S1","severity":"HIGH","status":"active"}`)
	ch.OnFrame(p.conn, WireNewAlert, alert)

	subA.Close()
	subA.Close()
	ch.Off(subA)
	ch.Off(nil)
	require.Equal(t, 1, ch.ListenerCount(EventAlert))

	ch.OnFrame(p.conn, WireNewAlert, alert)
	require.Equal(t, 1, a)
	require.Equal(t, 2, b)
}

func TestChannel_ListenerRemovedDuringDispatch(t *testing.T) {
	p := &fakeProvider{connectOnDial: true}
	ch := newTestChannel(t, p)

	var calls []string
	var second *Subscription
	ch.On(EventReading, func(Event) {
		calls = append(calls, "first")
		second.Close()
	})
	second = ch.On(EventReading, func(Event) { calls = append(calls, "second") })

	require.NoError(t, ch.Connect(context.Background()))
	ch.OnFrame(p.conn, WireNewReading, readingFrame(t, "S1"))
	ch.OnFrame(p.conn, WireNewReading, readingFrame(t, "S1"))

	// removal takes effect from the next dispatch
	require.Equal(t, []string{"first", "second", "first"}, calls)
}

func TestChannel_ConnectFiresBeforeData(t *testing.T) {
	p := &fakeProvider{}
	ch := newTestChannel(t, p)

	var seq []EventKind
	ch.On(EventConnect, func(ev Event) { seq = append(seq, ev.Kind) })
	ch.On(EventReading, func(ev Event) { seq = append(seq, ev.Kind) })

	require.NoError(t, ch.Connect(context.Background()))
	// frame before the link is up is dropped
	ch.OnFrame(p.conn, WireNewReading, readingFrame(t, "S1"))
	require.Empty(t, seq)

	p.handler.OnConnected(p.conn)
	ch.OnFrame(p.conn, WireNewReading, readingFrame(t, "S1"))
	require.Equal(t, []EventKind{EventConnect, EventReading}, seq)
}

func TestChannel_UnknownAndMalformedFramesDropped(t *testing.T) {
	p := &fakeProvider{connectOnDial: true}
	ch := newTestChannel(t, p)

	var n int
	ch.On(EventReading, func(Event) { n++ })
	require.NoError(t, ch.Connect(context.Background()))

	ch.OnFrame(p.conn, "sensor_deleted", json.RawMessage(`{}`))
	ch.OnFrame(p.conn, WireNewReading, json.RawMessage(`{"sensor_id":`))
	require.Equal(t, 0, n)
}

func TestChannel_SensorEvents(t *testing.T) {
	p := &fakeProvider{connectOnDial: true}
	ch := newTestChannel(t, p)

	var changes []SensorChange
	ch.On(EventSensor, func(ev Event) { changes = append(changes, *ev.Sensor) })
	require.NoError(t, ch.Connect(context.Background()))

	payload := json.RawMessage(`{"sensor_id":"S9","status":"active","min_humidity_threshold":30,"max_humidity_threshold":70,"reading_interval_minutes":15}`)
	ch.OnFrame(p.conn, WireSensorCreated, payload)
	ch.OnFrame(p.conn, WireSensorUpdated, payload)

	require.Len(t, changes, 2)
	require.Equal(t, SensorCreated, changes[0].Type)
	require.Equal(t, SensorUpdated, changes[1].Type)
	require.Equal(t, "S9", changes[1].Sensor.SensorID)
}

func TestChannel_SubscribeWhileConnected(t *testing.T) {
	p := &fakeProvider{connectOnDial: true}
	ch := newTestChannel(t, p)
	require.NoError(t, ch.Connect(context.Background()))

	ch.SubscribeSensor(context.Background(), "S1")
	ch.UnsubscribeSensor(context.Background(), "S1")

	require.Equal(t, []emitted{
		{event: WireSubscribeSensor, sensorID: "S1"},
		{event: WireUnsubscribeSensor, sensorID: "S1"},
	}, p.conn.sent())
	require.Empty(t, ch.Subscriptions())
}

func TestChannel_ReplayOnReconnect(t *testing.T) {
	p := &fakeProvider{}
	ch := newTestChannel(t, p)

	ch.SubscribeSensor(context.Background(), "S2")
	ch.SubscribeSensor(context.Background(), "S1")
	ch.SubscribeSensor(context.Background(), "S3")
	ch.UnsubscribeSensor(context.Background(), "S3")
	require.Equal(t, []string{"S1", "S2"}, ch.Subscriptions())

	var disconnects int
	ch.On(EventDisconnect, func(Event) { disconnects++ })

	require.NoError(t, ch.Connect(context.Background()))
	require.Empty(t, p.conn.sent())

	p.handler.OnConnected(p.conn)
	require.Equal(t, []emitted{
		{event: WireSubscribeSensor, sensorID: "S1"},
		{event: WireSubscribeSensor, sensorID: "S2"},
	}, p.conn.sent())

	// transport drops and re-establishes the link on its own
	p.handler.OnDisconnected(p.conn, errors.New("reset"))
	require.Equal(t, Disconnected, ch.State())
	require.Equal(t, 1, disconnects)

	ch.SubscribeSensor(context.Background(), "S4")
	p.handler.OnConnected(p.conn)
	require.Equal(t, Connected, ch.State())
	require.Equal(t, uint64(2), ch.Epoch())

	sent := p.conn.sent()
	require.Len(t, sent, 5)
	require.Equal(t, []emitted{
		{event: WireSubscribeSensor, sensorID: "S1"},
		{event: WireSubscribeSensor, sensorID: "S2"},
		{event: WireSubscribeSensor, sensorID: "S4"},
	}, sent[2:])
}

func TestChannel_ReplayDisabledDropsIntent(t *testing.T) {
	p := &fakeProvider{}
	ch := newTestChannel(t, p, WithSubscriptionReplay(false))

	ch.SubscribeSensor(context.Background(), "S1")
	require.Empty(t, ch.Subscriptions())

	require.NoError(t, ch.Connect(context.Background()))
	p.handler.OnConnected(p.conn)
	require.Empty(t, p.conn.sent())
}

func TestChannel_Disconnect(t *testing.T) {
	p := &fakeProvider{connectOnDial: true}
	var states []ConnectionState
	ch := newTestChannel(t, p, WithStateObserver(func(s ConnectionState) { states = append(states, s) }))

	var disconnects, readings int
	ch.On(EventDisconnect, func(Event) { disconnects++ })
	ch.On(EventReading, func(Event) { readings++ })

	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Disconnect())

	require.True(t, p.conn.closed)
	require.Equal(t, Disconnected, ch.State())
	require.Equal(t, 1, disconnects)
	require.Equal(t, []ConnectionState{Connecting, Connected, Disconnected}, states)

	// late callbacks from the closed session are ignored
	p.handler.OnConnected(p.conn)
	ch.OnFrame(p.conn, WireNewReading, readingFrame(t, "S1"))
	require.Equal(t, Disconnected, ch.State())
	require.Equal(t, 0, readings)

	// second disconnect fires nothing
	require.NoError(t, ch.Disconnect())
	require.Equal(t, 1, disconnects)
}

func TestChannel_FramesFromStaleConnIgnored(t *testing.T) {
	p := &fakeProvider{connectOnDial: true}
	ch := newTestChannel(t, p)

	var n int
	ch.On(EventReading, func(Event) { n++ })
	require.NoError(t, ch.Connect(context.Background()))

	ch.OnFrame(&fakeConn{}, WireNewReading, readingFrame(t, "S1"))
	require.Equal(t, 0, n)
}

func TestChannel_EmitFailureIsLogged(t *testing.T) {
	p := &fakeProvider{connectOnDial: true, conn: &fakeConn{emitErr: ErrNotConnected}}
	ch := newTestChannel(t, p)
	require.NoError(t, ch.Connect(context.Background()))

	require.NotPanics(t, func() { ch.SubscribeSensor(context.Background(), "S1") })
	require.Equal(t, []string{"S1"}, ch.Subscriptions())
}

func TestConnectionState_String(t *testing.T) {
	require.Equal(t, "disconnected", Disconnected.String())
	require.Equal(t, "connecting", Connecting.String())
	require.Equal(t, "connected", Connected.String())
	require.Equal(t, "reading", EventReading.String())
	require.Equal(t, "disconnect", EventDisconnect.String())
}
