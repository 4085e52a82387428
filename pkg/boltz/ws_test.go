package boltz_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/test/mockboltz"
	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type recorder struct {
	mu      sync.Mutex
	updates []boltz.SwapUpdate
}

func (r *recorder) callback(update boltz.SwapUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recorder) all() []boltz.SwapUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]boltz.SwapUpdate(nil), r.updates...)
}

type disconnects struct {
	mu   sync.Mutex
	uris []string
}

func (d *disconnects) HandleUpdate(string, boltz.SwapUpdate) {}

func (d *disconnects) HandleDisconnect(uri string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uris = append(d.uris, uri)
}

func (d *disconnects) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.uris)
}

func newRegistry(t *testing.T, opts ...boltz.RegistryOption) *boltz.SubscriptionRegistry {
	t.Helper()
	reg := boltz.NewSubscriptionRegistry(opts...)
	t.Cleanup(reg.Close)
	return reg
}

func TestConnectionManager(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent connects share one connection", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		const n = 10
		conns := make([]*boltz.Connection, n)
		errs := make([]error, n)

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				conns[i], errs[i] = reg.Manager().EnsureConnected(ctx, srv.WSURL())
			}(i)
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			require.Same(t, conns[0], conns[i])
		}
		require.Equal(t, int64(1), srv.AcceptedConnections())
		require.Equal(t, 1, reg.Manager().Size())
	})

	t.Run("connect failure", func(t *testing.T) {
		reg := newRegistry(t, boltz.WithManagerOptions(boltz.WithConnectTimeout(time.Second)))

		conn, err := reg.Manager().EnsureConnected(ctx, "ws://127.0.0.1:1/v2/ws")
		require.Error(t, err)
		require.Nil(t, conn)
		require.Zero(t, reg.Manager().Size())
		require.False(t, reg.Manager().KeepAliveActive())
	})

	t.Run("caller context", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := reg.Manager().EnsureConnected(cctx, srv.WSURL())
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("reconnects after close", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		first, err := reg.Manager().EnsureConnected(ctx, srv.WSURL())
		require.NoError(t, err)

		reg.Manager().Close(srv.WSURL())
		require.False(t, first.IsOpen())
		require.Zero(t, reg.Manager().Size())

		second, err := reg.Manager().EnsureConnected(ctx, srv.WSURL())
		require.NoError(t, err)
		require.NotSame(t, first, second)
		require.True(t, second.IsOpen())
		require.Equal(t, int64(2), srv.AcceptedConnections())
	})

	t.Run("send on closed connection", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		conn, err := reg.Manager().EnsureConnected(ctx, srv.WSURL())
		require.NoError(t, err)
		reg.Manager().Close(srv.WSURL())

		err = conn.Send(boltz.Request{Op: "ping"})
		require.ErrorIs(t, err, boltz.ErrConnectionClosed)
	})

	t.Run("keep-alive stops when idle", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t, boltz.WithManagerOptions(
			boltz.WithKeepAliveInterval(20*time.Millisecond),
		))
		require.False(t, reg.Manager().KeepAliveActive())

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "swap1", rec.callback))
		require.True(t, reg.Manager().KeepAliveActive())

		require.Eventually(t, func() bool { return srv.Pings() >= 3 }, waitFor, tick)
		conn, ok := reg.Manager().Connection(srv.WSURL())
		require.True(t, ok)
		require.Eventually(t, func() bool { return !conn.LastPong().IsZero() }, waitFor, tick)

		reg.Unsubscribe("swap1")

		require.Eventually(t, func() bool {
			return !reg.Manager().KeepAliveActive() && srv.OpenConnections() == 0
		}, waitFor, tick)
		require.Zero(t, reg.Manager().Size())

		pings := srv.Pings()
		time.Sleep(100 * time.Millisecond)
		require.Equal(t, pings, srv.Pings())
	})

	t.Run("silent peer is dropped", func(t *testing.T) {
		release := make(chan struct{})
		upgrader := websocket.Upgrader{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer ws.Close()
			<-release
		}))
		t.Cleanup(srv.Close)
		t.Cleanup(func() { close(release) })

		handler := &disconnects{}
		m := boltz.NewConnectionManager(handler, boltz.WithKeepAliveInterval(20*time.Millisecond))
		t.Cleanup(m.Stop)

		uri := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, err := m.EnsureConnected(ctx, uri)
		require.NoError(t, err)
		require.True(t, conn.IsOpen())

		require.Eventually(t, func() bool {
			return !conn.IsOpen() && handler.count() == 1
		}, waitFor, tick)
		require.True(t, conn.LastPong().IsZero())
		require.Zero(t, m.Size())
		require.False(t, m.KeepAliveActive())
	})

	t.Run("stop", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := boltz.NewSubscriptionRegistry()

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "swap1", rec.callback))

		reg.Close()
		require.False(t, reg.Manager().KeepAliveActive())
		require.Zero(t, reg.Manager().Size())
		require.Eventually(t, func() bool { return srv.OpenConnections() == 0 }, waitFor, tick)

		_, err := reg.Manager().EnsureConnected(ctx, srv.WSURL())
		require.ErrorIs(t, err, boltz.ErrManagerStopped)
	})
}

func TestSubscriptionRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers updates", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "swap1", rec.callback))
		require.Eventually(t, func() bool { return srv.Subscribers("swap1") == 1 }, waitFor, tick)

		tx := &boltz.SwapTransaction{Id: "txid", Hex: "0200"}
		require.NoError(t, srv.PushUpdate("swap1", boltz.StatusTransactionMempool, tx))

		require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
		update := rec.all()[0]
		require.Equal(t, "swap1", update.Id)
		require.Equal(t, boltz.StatusTransactionMempool, update.Status)
		require.Equal(t, "0200", update.Transaction.Hex)
	})

	t.Run("duplicate subscribe is a no-op", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		first, second := &recorder{}, &recorder{}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "swap1", first.callback))
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "swap1", second.callback))
		require.Equal(t, 1, reg.Count())
		require.Equal(t, int64(1), srv.AcceptedConnections())

		require.Eventually(t, func() bool { return srv.Subscribers("swap1") == 1 }, waitFor, tick)
		require.NoError(t, srv.PushUpdate("swap1", boltz.StatusSwapCreated, nil))

		require.Eventually(t, func() bool { return first.count() == 1 }, waitFor, tick)
		require.Zero(t, second.count())
	})

	t.Run("many swaps share one connection", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		errs := make([]error, 5)
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := &recorder{}
				errs[i] = reg.Subscribe(ctx, srv.WSURL(), fmt.Sprintf("swap%d", i), rec.callback)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		require.Equal(t, 5, reg.Count())
		require.Equal(t, int64(1), srv.AcceptedConnections())

		for i := 0; i < 4; i++ {
			reg.Unsubscribe(fmt.Sprintf("swap%d", i))
		}
		require.Equal(t, 1, reg.Manager().Size())

		reg.Unsubscribe("swap4")
		require.Eventually(t, func() bool { return reg.Manager().Size() == 0 }, waitFor, tick)
	})

	t.Run("unsubscribe unknown id", func(t *testing.T) {
		reg := newRegistry(t)
		reg.Unsubscribe("unknown")
		require.Zero(t, reg.Count())
	})

	t.Run("failed subscribe leaves nothing behind", func(t *testing.T) {
		reg := newRegistry(t, boltz.WithManagerOptions(boltz.WithConnectTimeout(time.Second)))

		rec := &recorder{}
		err := reg.Subscribe(ctx, "ws://127.0.0.1:1/v2/ws", "swap1", rec.callback)
		require.Error(t, err)
		require.False(t, reg.IsSubscribed("swap1"))
		require.Zero(t, reg.Count())
	})

	t.Run("late update after unsubscribe", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		removed, kept := &recorder{}, &recorder{}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "removed", removed.callback))
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "kept", kept.callback))

		require.Eventually(t, func() bool { return srv.Subscribers("kept") == 1 }, waitFor, tick)

		reg.Unsubscribe("removed")
		reg.HandleUpdate(srv.WSURL(), boltz.SwapUpdate{Id: "removed", Status: boltz.StatusInvoiceSettled})

		srv.PushRaw([]byte(`{"event":"update","args":[{"id":"removed","status":"invoice.settled"}]}`))
		require.NoError(t, srv.PushUpdate("kept", boltz.StatusSwapCreated, nil))

		require.Eventually(t, func() bool { return kept.count() == 1 }, waitFor, tick)
		require.Never(t, func() bool { return removed.count() > 0 }, 200*time.Millisecond, tick)
	})

	t.Run("updates for the same swap keep order", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		var (
			mu     sync.Mutex
			order  []string
			others atomic.Int32
		)
		slow := func(update boltz.SwapUpdate) {
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			order = append(order, update.Status)
			mu.Unlock()
		}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "ordered", slow))
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "other", func(boltz.SwapUpdate) {
			others.Add(1)
		}))
		require.Eventually(t, func() bool { return srv.Subscribers("other") == 1 }, waitFor, tick)

		expected := make([]string, 0, 20)
		for i := 0; i < 20; i++ {
			status := fmt.Sprintf("status.%d", i)
			expected = append(expected, status)
			require.NoError(t, srv.PushUpdate("ordered", status, nil))
			require.NoError(t, srv.PushUpdate("other", status, nil))
		}

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == 20
		}, waitFor, tick)
		mu.Lock()
		require.Equal(t, expected, order)
		mu.Unlock()
		require.Eventually(t, func() bool { return others.Load() == 20 }, waitFor, tick)
	})

	t.Run("fragmented messages are reassembled", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{WriteBufferSize: 128})
		reg := newRegistry(t)

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "swap1", rec.callback))
		require.Eventually(t, func() bool { return srv.Subscribers("swap1") == 1 }, waitFor, tick)

		reason := strings.Repeat("x", 4096)
		require.NoError(t, srv.PushUpdateWithReason("swap1", boltz.StatusTransactionFailed, nil, reason))

		require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
		require.Equal(t, reason, rec.all()[0].FailureReason)
	})

	t.Run("malformed messages keep the connection open", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "swap1", rec.callback))
		require.Eventually(t, func() bool { return srv.Subscribers("swap1") == 1 }, waitFor, tick)

		srv.PushRaw([]byte(`not json`))
		srv.PushRaw([]byte(`{"event":"update","args":["swap1"]}`))
		srv.PushRaw([]byte(`{"event":"error","error":"something"}`))
		require.NoError(t, srv.PushUpdate("swap1", boltz.StatusSwapCreated, nil))

		require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
		require.Equal(t, int64(1), srv.AcceptedConnections())
		require.Equal(t, 1, reg.Manager().Size())
	})

	t.Run("update for unknown swap is ignored", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t)

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "swap1", rec.callback))
		require.Eventually(t, func() bool { return srv.Subscribers("swap1") == 1 }, waitFor, tick)

		require.NotPanics(t, func() {
			reg.HandleUpdate(srv.WSURL(), boltz.SwapUpdate{Id: "never-seen", Status: "invoice.settled"})
		})
		srv.PushRaw([]byte(`{"event":"update","args":[{"id":"never-seen","status":"invoice.settled"}]}`))
		require.NoError(t, srv.PushUpdate("swap1", boltz.StatusSwapCreated, nil))

		require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
		require.Equal(t, "swap1", rec.all()[0].Id)
	})

	t.Run("resubscribes after unexpected drop", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t, boltz.WithResubscribe(10, 20*time.Millisecond))

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "swap1", rec.callback))
		require.Eventually(t, func() bool { return srv.Subscribers("swap1") == 1 }, waitFor, tick)

		srv.DropConnections()

		require.Eventually(t, func() bool {
			return srv.AcceptedConnections() == 2 && srv.Subscribers("swap1") == 1
		}, waitFor, tick)

		require.NoError(t, srv.PushUpdate("swap1", boltz.StatusInvoiceSettled, nil))
		require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
		require.True(t, reg.IsSubscribed("swap1"))
	})

	t.Run("no resubscribe when disabled", func(t *testing.T) {
		srv := startMock(t, mockboltz.Config{})
		reg := newRegistry(t, boltz.WithResubscribe(0, 0))

		rec := &recorder{}
		require.NoError(t, reg.Subscribe(ctx, srv.WSURL(), "swap1", rec.callback))
		require.Eventually(t, func() bool { return srv.Subscribers("swap1") == 1 }, waitFor, tick)

		srv.DropConnections()

		require.Eventually(t, func() bool { return reg.Manager().Size() == 0 }, waitFor, tick)
		require.Never(t, func() bool { return srv.AcceptedConnections() > 1 }, 200*time.Millisecond, tick)
		// The subscription stays tracked until its owner removes it.
		require.True(t, reg.IsSubscribed("swap1"))
	})
}
