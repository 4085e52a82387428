package boltz

import (
	"context"
	"fmt"
	"time"

	"github.com/ArkLabsHQ/lnswap/utils"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

const (
	defaultResubscribeAttempts = 5
	defaultResubscribeInterval = 2 * time.Second
)

// UpdateCallback is invoked with every update for a subscribed swap, in the
// order the updates were received.
type UpdateCallback func(update SwapUpdate)

type subscription struct {
	uri      string
	callback UpdateCallback
}

type RegistryOption func(*SubscriptionRegistry)

// WithResubscribe sets how many times, and how often, the registry tries to
// restore the subscriptions of a connection that dropped unexpectedly.
// Zero attempts disables resubscription.
func WithResubscribe(attempts int, interval time.Duration) RegistryOption {
	return func(r *SubscriptionRegistry) {
		r.resubscribeAttempts = attempts
		if interval > 0 {
			r.resubscribeInterval = interval
		}
	}
}

func WithManagerOptions(opts ...ManagerOption) RegistryOption {
	return func(r *SubscriptionRegistry) {
		r.managerOpts = append(r.managerOpts, opts...)
	}
}

// SubscriptionRegistry tracks which swap is subscribed on which endpoint and
// keeps one connection per endpoint alive while it has subscriptions.
type SubscriptionRegistry struct {
	manager *ConnectionManager
	subs    *xsync.MapOf[string, *subscription]
	refs    *xsync.MapOf[string, int]

	managerOpts         []ManagerOption
	resubscribeAttempts int
	resubscribeInterval time.Duration
}

func NewSubscriptionRegistry(opts ...RegistryOption) *SubscriptionRegistry {
	r := &SubscriptionRegistry{
		subs:                xsync.NewMapOf[string, *subscription](),
		refs:                xsync.NewMapOf[string, int](),
		resubscribeAttempts: defaultResubscribeAttempts,
		resubscribeInterval: defaultResubscribeInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.manager = NewConnectionManager(r, r.managerOpts...)
	return r
}

func (r *SubscriptionRegistry) Manager() *ConnectionManager {
	return r.manager
}

// Subscribe registers callback for swapId and asks the endpoint at uri for
// its updates. Subscribing an id that is already tracked is a no-op.
func (r *SubscriptionRegistry) Subscribe(
	ctx context.Context, uri, swapId string, callback UpdateCallback,
) error {
	if swapId == "" || uri == "" || callback == nil {
		return fmt.Errorf("missing uri, swap id or callback")
	}

	sub := &subscription{uri: uri, callback: callback}
	if _, loaded := r.subs.LoadOrStore(swapId, sub); loaded {
		log.Warnf("swap %s is already subscribed", swapId)
		return nil
	}
	r.refs.Compute(uri, func(n int, _ bool) (int, bool) {
		return n + 1, false
	})

	conn, err := r.manager.EnsureConnected(ctx, uri)
	if err != nil {
		r.release(swapId, sub)
		return err
	}
	if err := conn.Send(subscribeRequest(swapId)); err != nil {
		r.release(swapId, sub)
		return err
	}

	log.WithField("swap_id", swapId).Debugf("subscribed to updates on %s", uri)
	return nil
}

// Unsubscribe stops delivering updates for swapId. The entry is removed
// before anything is sent so that updates still in flight are dropped.
// The endpoint connection is closed once its last subscription is gone.
func (r *SubscriptionRegistry) Unsubscribe(swapId string) {
	sub, ok := r.subs.LoadAndDelete(swapId)
	if !ok {
		return
	}
	remaining := r.decRef(sub.uri)

	if conn, ok := r.manager.Connection(sub.uri); ok && conn.IsOpen() {
		if err := conn.Send(unsubscribeRequest(swapId)); err != nil {
			log.WithError(err).Debugf("failed to unsubscribe swap %s", swapId)
		}
	}
	if remaining == 0 {
		r.closeIfIdle(sub.uri)
	}
}

// IsSubscribed reports whether swapId has an active subscription.
func (r *SubscriptionRegistry) IsSubscribed(swapId string) bool {
	_, ok := r.subs.Load(swapId)
	return ok
}

func (r *SubscriptionRegistry) Count() int {
	return r.subs.Size()
}

// Close drops every subscription and stops the connection manager.
func (r *SubscriptionRegistry) Close() {
	r.subs.Clear()
	r.refs.Clear()
	r.manager.Stop()
}

func (r *SubscriptionRegistry) HandleUpdate(uri string, update SwapUpdate) {
	sub, ok := r.subs.Load(update.Id)
	if !ok || sub.uri != uri {
		log.WithField("swap_id", update.Id).Debugf(
			"ignoring update %s for untracked swap", update.Status,
		)
		return
	}
	sub.callback(update)
}

func (r *SubscriptionRegistry) HandleDisconnect(uri string) {
	if r.resubscribeAttempts <= 0 {
		return
	}
	if n, ok := r.refs.Load(uri); !ok || n == 0 {
		return
	}
	r.resubscribe(uri)
}

func (r *SubscriptionRegistry) resubscribe(uri string) {
	ctx := r.manager.ctx
	err := utils.Retry(ctx, r.resubscribeInterval, r.resubscribeAttempts,
		func(ctx context.Context) (bool, error) {
			ids := r.idsFor(uri)
			if len(ids) == 0 {
				return true, nil
			}

			dialCtx, cancel := context.WithTimeout(ctx, r.manager.connectTimeout)
			defer cancel()

			conn, err := r.manager.EnsureConnected(dialCtx, uri)
			if err != nil {
				log.WithError(err).Warnf("failed to reconnect to %s", uri)
				return false, nil
			}
			if err := conn.Send(subscribeRequest(ids...)); err != nil {
				return false, nil
			}

			log.Infof("resubscribed %d swap(s) on %s", len(ids), uri)
			return true, nil
		},
	)
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Errorf("giving up resubscribing on %s", uri)
	}
}

func (r *SubscriptionRegistry) idsFor(uri string) []string {
	ids := make([]string, 0)
	r.subs.Range(func(id string, sub *subscription) bool {
		if sub.uri == uri {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

// release undoes a subscribe that could not be completed.
func (r *SubscriptionRegistry) release(swapId string, sub *subscription) {
	deleted := false
	r.subs.Compute(swapId, func(old *subscription, loaded bool) (*subscription, bool) {
		if loaded && old == sub {
			deleted = true
			return nil, true
		}
		return old, !loaded
	})
	if !deleted {
		return
	}
	if r.decRef(sub.uri) == 0 {
		r.closeIfIdle(sub.uri)
	}
}

func (r *SubscriptionRegistry) decRef(uri string) int {
	remaining := 0
	r.refs.Compute(uri, func(n int, loaded bool) (int, bool) {
		remaining = n - 1
		if remaining <= 0 {
			remaining = 0
			return 0, true
		}
		return remaining, false
	})
	return remaining
}

// closeIfIdle closes the connection to uri. A subscribe that raced in while
// the connection was being closed gets resubscribed on a new connection.
func (r *SubscriptionRegistry) closeIfIdle(uri string) {
	r.manager.Close(uri)
	if n, ok := r.refs.Load(uri); ok && n > 0 {
		go r.resubscribe(uri)
	}
}
