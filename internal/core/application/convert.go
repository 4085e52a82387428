package application

import (
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/core/domain"
	"github.com/ArkLabsHQ/lnswap/pkg/swap"
)

func toDomainSwap(s swap.Snapshot) domain.Swap {
	var status domain.SwapStatus
	switch s.Invoice.Status {
	case swap.InvoicePaid:
		status = domain.SwapSuccess
	case swap.InvoiceFailed:
		status = domain.SwapFailed
	default:
		status = domain.SwapPending
	}

	return domain.Swap{
		Id:                 s.Invoice.SwapId,
		From:               s.From,
		To:                 s.To,
		AmountSats:         s.Invoice.AmountSats,
		AmountReceived:     s.Invoice.AmountReceived,
		PaymentHash:        s.Invoice.PaymentHash,
		Invoice:            s.Invoice.PaymentRequest,
		Description:        s.Invoice.Description,
		Status:             status,
		LastStatus:         s.LastStatus,
		FailureReason:      s.FailureReason,
		Preimage:           s.Invoice.Preimage,
		KeyIndex:           s.KeyIndex,
		DerivedKey:         s.DerivedKey,
		LockupAddress:      s.LockupAddress,
		DestinationAddress: s.DestinationAddress,
		CreatedAt:          unix(s.CreatedAt),
		ExpiresAt:          unix(s.Invoice.ExpiresAt),
		TerminalAt:         unix(s.TerminalAt),
		ClaimTxId:          s.ClaimTxId,
		ClaimError:         s.ClaimError,
	}
}

func toInvoice(s domain.Swap) swap.Invoice {
	var status swap.InvoiceStatus
	switch s.Status {
	case domain.SwapSuccess:
		status = swap.InvoicePaid
	case domain.SwapFailed:
		status = swap.InvoiceFailed
	default:
		status = swap.InvoiceUnpaid
	}

	invoice := swap.Invoice{
		SwapId:         s.Id,
		PaymentRequest: s.Invoice,
		PaymentHash:    s.PaymentHash,
		AmountSats:     s.AmountSats,
		AmountReceived: s.AmountReceived,
		Description:    s.Description,
		CreatedAt:      fromUnix(s.CreatedAt),
		ExpiresAt:      fromUnix(s.ExpiresAt),
		Status:         status,
	}
	if status == swap.InvoicePaid {
		invoice.Preimage = s.Preimage
	}
	return invoice
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
