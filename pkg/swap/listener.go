package swap

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

type notification struct {
	invoice Invoice
	err     error
}

// InvoiceListener waits for the outcome of one swap, or of the first swap to
// reach a terminal state when it is not bound to any. It resolves exactly
// once, the first outcome wins.
type InvoiceListener struct {
	id     string
	swapId string

	resolveOnce sync.Once
	resolved    chan struct{}
	result      notification

	disposeOnce sync.Once
	onDispose   func(id string)
}

func newInvoiceListener(swapId string, onDispose func(string)) *InvoiceListener {
	return &InvoiceListener{
		id:        uuid.New().String(),
		swapId:    swapId,
		resolved:  make(chan struct{}),
		onDispose: onDispose,
	}
}

func (l *InvoiceListener) Id() string {
	return l.id
}

// SwapId is empty for listeners not bound to a swap.
func (l *InvoiceListener) SwapId() string {
	return l.swapId
}

func (l *InvoiceListener) resolve(n notification) bool {
	won := false
	l.resolveOnce.Do(func() {
		l.result = n
		won = true
		close(l.resolved)
	})
	return won
}

// WaitInvoice blocks until the listener resolves. It returns the paid
// invoice, a *TerminalFailureError for failed swaps, ErrInvoiceCancelled
// when the swap is cancelled, or ErrListenerDisposed. If ctx is done first
// the listener is disposed and ctx.Err() is returned.
func (l *InvoiceListener) WaitInvoice(ctx context.Context) (Invoice, error) {
	select {
	case <-l.resolved:
		return l.result.invoice, l.result.err
	case <-ctx.Done():
		l.Dispose()
		<-l.resolved
		if errors.Is(l.result.err, ErrListenerDisposed) {
			return Invoice{}, ctx.Err()
		}
		return l.result.invoice, l.result.err
	}
}

// Dispose releases the listener. Pending and later waits return
// ErrListenerDisposed unless an outcome was already delivered.
func (l *InvoiceListener) Dispose() {
	l.disposeOnce.Do(func() {
		l.resolve(notification{err: ErrListenerDisposed})
		if l.onDispose != nil {
			l.onDispose(l.id)
		}
	})
}

// notifier fans terminal outcomes out to the registered listeners.
type notifier struct {
	listeners *xsync.MapOf[string, *InvoiceListener]
}

func newNotifier() *notifier {
	return &notifier{listeners: xsync.NewMapOf[string, *InvoiceListener]()}
}

func (n *notifier) listen(swapId string) *InvoiceListener {
	l := newInvoiceListener(swapId, n.remove)
	n.listeners.Store(l.id, l)
	return l
}

func (n *notifier) remove(id string) {
	n.listeners.Delete(id)
}

// publish resolves the listeners bound to swapId and, unless onlyBound is
// set, the unbound ones.
func (n *notifier) publish(swapId string, msg notification, onlyBound bool) {
	n.listeners.Range(func(id string, l *InvoiceListener) bool {
		if l.swapId == swapId || (l.swapId == "" && !onlyBound) {
			l.resolve(msg)
			n.listeners.Delete(id)
		}
		return true
	})
}

func (n *notifier) size() int {
	return n.listeners.Size()
}

func (n *notifier) disposeAll() {
	n.listeners.Range(func(_ string, l *InvoiceListener) bool {
		l.Dispose()
		return true
	})
}
