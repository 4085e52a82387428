package swap

import (
	"time"

	"github.com/ArkLabsHQ/lnswap/utils"
)

type InvoiceStatus int

const (
	InvoiceUnpaid InvoiceStatus = iota
	InvoicePaid
	InvoiceFailed
)

func (s InvoiceStatus) String() string {
	switch s {
	case InvoicePaid:
		return "paid"
	case InvoiceFailed:
		return "failed"
	default:
		return "unpaid"
	}
}

func (s InvoiceStatus) IsTerminal() bool {
	return s != InvoiceUnpaid
}

// Invoice is the payer facing view of a reverse swap. Preimage is only set
// once the swap is paid.
type Invoice struct {
	SwapId         string
	PaymentRequest string
	PaymentHash    string
	AmountSats     uint64
	AmountReceived uint64
	Description    string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Status         InvoiceStatus
	Preimage       string
}

func (i Invoice) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// InvoiceDecoder parses a BOLT11 payment request.
type InvoiceDecoder func(paymentRequest string) (*utils.Bolt11, error)
