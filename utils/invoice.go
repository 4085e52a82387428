package utils

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ccoveille/go-safecast"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// Bolt11 holds the fields of a payment request the swap flow relies on.
type Bolt11 struct {
	AmountSats  uint64
	PaymentHash string
	Description string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func DecodeInvoice(invoice string) (*Bolt11, error) {
	invoice = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(invoice)), "lightning:")
	if !strings.HasPrefix(invoice, "ln") || strings.IndexAny(invoice, "0123456789") < 3 {
		return nil, fmt.Errorf("invalid invoice")
	}
	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		return nil, err
	}

	if bolt11.MSatoshi%1000 != 0 {
		return nil, fmt.Errorf("invoice amount %d msat is not a whole number of sats", bolt11.MSatoshi)
	}
	amount, err := safecast.ToUint64(bolt11.MSatoshi / 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice amount: %w", err)
	}

	paymentHash, err := hex.DecodeString(bolt11.PaymentHash)
	if err != nil || len(paymentHash) != 32 {
		return nil, fmt.Errorf("invalid payment hash %q", bolt11.PaymentHash)
	}

	createdAt := time.Unix(int64(bolt11.CreatedAt), 0)
	return &Bolt11{
		AmountSats:  amount,
		PaymentHash: hex.EncodeToString(paymentHash),
		Description: bolt11.Description,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(time.Duration(bolt11.Expiry) * time.Second),
	}, nil
}

func SatsFromInvoice(invoice string) uint64 {
	bolt11, err := DecodeInvoice(invoice)
	if err != nil {
		return 0
	}
	return bolt11.AmountSats
}

func IsValidInvoice(invoice string) bool {
	return SatsFromInvoice(invoice) > 0
}
