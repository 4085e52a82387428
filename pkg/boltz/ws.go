package boltz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultCloseTimeout      = 3 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	minReadTimeout           = time.Second
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrManagerStopped   = errors.New("connection manager stopped")
)

// ConnectionHandler receives what the connection manager reads off the wire.
// Both methods are called off the read loop.
type ConnectionHandler interface {
	HandleUpdate(uri string, update SwapUpdate)
	// HandleDisconnect is called when a connection drops without having
	// been asked to close.
	HandleDisconnect(uri string)
}

type ManagerOption func(*ConnectionManager)

func WithConnectTimeout(d time.Duration) ManagerOption {
	return func(m *ConnectionManager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

func WithKeepAliveInterval(d time.Duration) ManagerOption {
	return func(m *ConnectionManager) {
		if d > 0 {
			m.keepAliveInterval = d
		}
	}
}

func WithCloseTimeout(d time.Duration) ManagerOption {
	return func(m *ConnectionManager) {
		if d > 0 {
			m.closeTimeout = d
		}
	}
}

func WithDialer(dialer *websocket.Dialer) ManagerOption {
	return func(m *ConnectionManager) {
		if dialer != nil {
			m.dialer = dialer
		}
	}
}

// ConnectionManager keeps at most one push channel connection per endpoint
// URI and a keep-alive ticker shared by all of them.
type ConnectionManager struct {
	handler ConnectionHandler
	dialer  *websocket.Dialer

	connectTimeout    time.Duration
	keepAliveInterval time.Duration
	closeTimeout      time.Duration

	conns    *xsync.MapOf[string, *Connection]
	dials    singleflight.Group
	dispatch *serialDispatcher

	ctx    context.Context
	cancel context.CancelFunc

	kaMu   sync.Mutex
	kaStop chan struct{}
}

func NewConnectionManager(handler ConnectionHandler, opts ...ManagerOption) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &ConnectionManager{
		handler:           handler,
		dialer:            &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		connectTimeout:    defaultConnectTimeout,
		keepAliveInterval: defaultKeepAliveInterval,
		closeTimeout:      defaultCloseTimeout,
		conns:             xsync.NewMapOf[string, *Connection](),
		dispatch:          newSerialDispatcher(),
		ctx:               ctx,
		cancel:            cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureConnected returns the open connection for uri, dialing a new one if
// there is none or the existing one is closed. Concurrent callers for the
// same uri share a single dial. A failed dial is not retried.
func (m *ConnectionManager) EnsureConnected(ctx context.Context, uri string) (*Connection, error) {
	if m.ctx.Err() != nil {
		return nil, ErrManagerStopped
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if conn, ok := m.conns.Load(uri); ok && conn.IsOpen() {
		return conn, nil
	}

	// The dial is scoped to the manager so one caller giving up does not
	// abort it for the others waiting on it.
	ch := m.dials.DoChan(uri, func() (any, error) {
		if conn, ok := m.conns.Load(uri); ok && conn.IsOpen() {
			return conn, nil
		}
		return m.dial(uri)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Connection), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connection returns the tracked connection for uri, if any.
func (m *ConnectionManager) Connection(uri string) (*Connection, bool) {
	return m.conns.Load(uri)
}

// Size returns the number of tracked connections.
func (m *ConnectionManager) Size() int {
	return m.conns.Size()
}

// Close tears down the connection for uri, if any.
func (m *ConnectionManager) Close(uri string) {
	if conn, ok := m.conns.Load(uri); ok {
		conn.close(true)
	}
}

// Stop closes every connection and stops the keep-alive ticker. The manager
// cannot be reused afterwards.
func (m *ConnectionManager) Stop() {
	m.cancel()

	var wg sync.WaitGroup
	m.conns.Range(func(_ string, conn *Connection) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.close(true)
		}()
		return true
	})
	wg.Wait()

	m.kaMu.Lock()
	if m.kaStop != nil {
		close(m.kaStop)
		m.kaStop = nil
	}
	m.kaMu.Unlock()
}

// KeepAliveActive reports whether the shared keep-alive ticker is running.
func (m *ConnectionManager) KeepAliveActive() bool {
	m.kaMu.Lock()
	defer m.kaMu.Unlock()
	return m.kaStop != nil
}

func (m *ConnectionManager) dial(uri string) (*Connection, error) {
	ctx, cancel := context.WithTimeout(m.ctx, m.connectTimeout)
	defer cancel()

	ws, resp, err := m.dialer.DialContext(ctx, uri, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (status %d)", uri, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", uri, err)
	}

	connCtx, connCancel := context.WithCancel(m.ctx)
	conn := &Connection{
		uri:     uri,
		ws:      ws,
		manager: m,
		ctx:     connCtx,
		cancel:  connCancel,
		done:    make(chan struct{}),
	}

	m.conns.Store(uri, conn)
	m.startKeepAlive()

	go conn.readLoop()
	go func() {
		select {
		case <-m.ctx.Done():
			conn.close(true)
		case <-conn.done:
		}
	}()

	log.Debugf("connected to %s", uri)
	return conn, nil
}

// remove drops conn from the table only if it is still the one tracked for
// its uri, a newer connection may have replaced it already.
func (m *ConnectionManager) remove(conn *Connection) {
	m.conns.Compute(conn.uri, func(old *Connection, loaded bool) (*Connection, bool) {
		if loaded && old == conn {
			return nil, true
		}
		return old, !loaded
	})
	m.stopKeepAliveIfIdle()
}

func (m *ConnectionManager) startKeepAlive() {
	m.kaMu.Lock()
	defer m.kaMu.Unlock()

	if m.kaStop != nil || m.ctx.Err() != nil {
		return
	}
	stop := make(chan struct{})
	m.kaStop = stop
	go m.keepAlive(stop)
}

func (m *ConnectionManager) stopKeepAliveIfIdle() {
	m.kaMu.Lock()
	defer m.kaMu.Unlock()

	if m.kaStop == nil || m.conns.Size() > 0 {
		return
	}
	close(m.kaStop)
	m.kaStop = nil
	log.Debug("no open connections, keep-alive stopped")
}

func (m *ConnectionManager) keepAlive(stop <-chan struct{}) {
	ticker := time.NewTicker(m.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.conns.Range(func(uri string, conn *Connection) bool {
				if !conn.IsOpen() {
					return true
				}
				if err := conn.Send(pingRequest()); err != nil {
					log.WithError(err).Debugf("keep-alive ping to %s failed", uri)
				}
				return true
			})
		}
	}
}

// readTimeout is how long a connection may stay silent before it is
// considered dead: three missed keep-alive rounds.
func (m *ConnectionManager) readTimeout() time.Duration {
	return max(3*m.keepAliveInterval, minReadTimeout)
}

func (m *ConnectionManager) handleMessage(conn *Connection, payload []byte) {
	event, err := DecodeEvent(payload)
	if err != nil {
		log.WithError(err).Warnf("dropping message from %s", conn.uri)
		return
	}

	switch event.Event {
	case EventUpdate:
		updates, err := event.SwapUpdates()
		if err != nil {
			log.WithError(err).Warnf("dropping update from %s", conn.uri)
			return
		}
		for _, update := range updates {
			update := update
			m.dispatch.submit(update.Id, func() {
				m.handler.HandleUpdate(conn.uri, update)
			})
		}
	case EventPong:
		conn.lastPong.Store(time.Now().Unix())
	case EventSubscribe, EventUnsubscribe:
		log.Debugf("%s confirmed for %v", event.Event, event.Args)
	case EventError:
		log.Warnf("push channel error from %s: %s %v", conn.uri, event.Error, event.Args)
	default:
		log.Debugf("ignoring %q event from %s", event.Event, conn.uri)
	}
}

// Connection is a single push channel socket. All reads happen in its read
// loop, writes are serialized by writeMu.
type Connection struct {
	uri     string
	ws      *websocket.Conn
	manager *ConnectionManager

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu   sync.Mutex
	requested atomic.Bool
	closeOnce sync.Once
	lastPong  atomic.Int64
}

func (c *Connection) URI() string {
	return c.uri
}

// Done is closed once the read loop has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) IsOpen() bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// LastPong returns when the last pong was received, zero if none was.
func (c *Connection) LastPong() time.Time {
	if ts := c.lastPong.Load(); ts > 0 {
		return time.Unix(ts, 0)
	}
	return time.Time{}
}

// Send writes a control message. On failure the connection is scheduled
// for cleanup and ErrConnectionClosed is returned.
func (c *Connection) Send(req Request) error {
	if !c.IsOpen() {
		log.Warnf("cannot send %s to %s: connection not open", req.Op, c.uri)
		go c.close(false)
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := c.ws.WriteJSON(req); err != nil {
		log.WithError(err).Warnf("failed to send %s to %s", req.Op, c.uri)
		go c.close(false)
		return fmt.Errorf("%w: %s", ErrConnectionClosed, err)
	}
	return nil
}

func (c *Connection) readLoop() {
	defer func() {
		close(c.done)
		c.close(false)
	}()

	for {
		// Any message, pongs included, proves the peer alive. A peer silent
		// for several keep-alive rounds is dropped as a disconnect.
		_ = c.ws.SetReadDeadline(time.Now().Add(c.manager.readTimeout()))

		// ReadMessage returns only once every fragment of a message is in.
		msgType, payload, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case c.requested.Load(), c.ctx.Err() != nil:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				log.Debugf("connection to %s closed by peer", c.uri)
			default:
				log.WithError(err).Warnf("connection to %s lost", c.uri)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.manager.handleMessage(c, payload)
	}
}

// close tears the connection down once. requested marks a teardown asked for
// by the owner, which is not reported as a disconnect.
func (c *Connection) close(requested bool) {
	if requested {
		c.requested.Store(true)
	}

	c.closeOnce.Do(func() {
		c.cancel()

		deadline := time.Now().Add(c.manager.closeTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err == nil {
			select {
			case <-c.done:
			case <-time.After(time.Until(deadline)):
				log.Debugf("close handshake with %s timed out", c.uri)
			}
		}
		_ = c.ws.Close()
		<-c.done

		c.manager.remove(c)

		if !c.requested.Load() && c.manager.ctx.Err() == nil && c.manager.handler != nil {
			go c.manager.handler.HandleDisconnect(c.uri)
		}
	})
}
