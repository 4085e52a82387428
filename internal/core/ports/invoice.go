package ports

import (
	"context"
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/core/domain"
	"github.com/ArkLabsHQ/lnswap/pkg/swap"
)

// InvoiceService is what the outer surfaces (HTTP, daemon) need from the
// application.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, amountSats uint64, description string, expiry time.Duration) (swap.Invoice, error)
	GetInvoice(ctx context.Context, idOrHash string) (swap.Invoice, error)
	CancelInvoice(ctx context.Context, id string) error
	WaitInvoice(ctx context.Context, id string) (swap.Invoice, error)
	GetSwap(ctx context.Context, idOrHash string) (*domain.Swap, error)
	IsReady() bool
}
