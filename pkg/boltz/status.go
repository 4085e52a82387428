package boltz

import "strings"

// Swap update statuses pushed by the service for reverse swaps.
const (
	StatusSwapCreated             = "swap.created"
	StatusSwapExpired             = "swap.expired"
	StatusMinerFeePaid            = "minerfee.paid"
	StatusInvoiceSet              = "invoice.set"
	StatusInvoicePending          = "invoice.pending"
	StatusInvoicePaid             = "invoice.paid"
	StatusInvoiceSettled          = "invoice.settled"
	StatusInvoiceExpired          = "invoice.expired"
	StatusInvoiceFailedToPay      = "invoice.failedToPay"
	StatusTransactionMempool      = "transaction.mempool"
	StatusTransactionConfirmed    = "transaction.confirmed"
	StatusTransactionClaimed      = "transaction.claimed"
	StatusTransactionFailed       = "transaction.failed"
	StatusTransactionRefunded     = "transaction.refunded"
	StatusTransactionLockupFailed = "transaction.lockupFailed"
)

type StatusClass int

const (
	StatusPending StatusClass = iota
	StatusPaid
	StatusFailed
)

func (c StatusClass) String() string {
	switch c {
	case StatusPaid:
		return "paid"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// StatusPolicy classifies raw status strings by exact match. The service
// does not publish a closed enumeration, so both sets are configurable.
type StatusPolicy struct {
	paid   map[string]struct{}
	failed map[string]struct{}
}

func DefaultPaidStatuses() []string {
	return []string{
		StatusTransactionMempool,
		StatusTransactionConfirmed,
		StatusInvoiceSettled,
	}
}

func DefaultFailedStatuses() []string {
	return []string{
		StatusInvoiceExpired,
		StatusSwapExpired,
		StatusTransactionFailed,
		StatusTransactionRefunded,
		StatusInvoiceFailedToPay,
		StatusTransactionLockupFailed,
	}
}

func DefaultStatusPolicy() StatusPolicy {
	return NewStatusPolicy(DefaultPaidStatuses(), DefaultFailedStatuses())
}

// NewStatusPolicy builds a policy from the given sets. Empty sets fall back
// to the defaults. A status listed in both sets is treated as failed.
func NewStatusPolicy(paid, failed []string) StatusPolicy {
	if len(paid) == 0 {
		paid = DefaultPaidStatuses()
	}
	if len(failed) == 0 {
		failed = DefaultFailedStatuses()
	}

	p := StatusPolicy{
		paid:   make(map[string]struct{}, len(paid)),
		failed: make(map[string]struct{}, len(failed)),
	}
	for _, s := range failed {
		if s = strings.TrimSpace(s); s != "" {
			p.failed[s] = struct{}{}
		}
	}
	for _, s := range paid {
		s = strings.TrimSpace(s)
		if _, ok := p.failed[s]; ok || s == "" {
			continue
		}
		p.paid[s] = struct{}{}
	}
	return p
}

func (p StatusPolicy) Classify(status string) StatusClass {
	if p.paid == nil && p.failed == nil {
		p = DefaultStatusPolicy()
	}
	if _, ok := p.failed[status]; ok {
		return StatusFailed
	}
	if _, ok := p.paid[status]; ok {
		return StatusPaid
	}
	return StatusPending
}
