package domain

import (
	"context"
	"errors"

	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
)

var ErrSwapNotFound = errors.New("swap not found")

type SwapStatus int

const (
	SwapPending SwapStatus = iota
	SwapFailed
	SwapSuccess
)

func (s SwapStatus) String() string {
	switch s {
	case SwapSuccess:
		return "paid"
	case SwapFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Swap is the archived view of a reverse swap once it reached a final state.
// Preimage is only set for paid swaps. The claim key itself is never stored,
// KeyIndex is enough to derive it again when DerivedKey is set.
type Swap struct {
	Id                 string
	From               boltz.Currency
	To                 boltz.Currency
	AmountSats         uint64
	AmountReceived     uint64
	PaymentHash        string
	Invoice            string
	Description        string
	Status             SwapStatus
	LastStatus         string
	FailureReason      string
	Preimage           string
	KeyIndex           uint32
	DerivedKey         bool
	LockupAddress      string
	DestinationAddress string
	CreatedAt          int64
	ExpiresAt          int64
	TerminalAt         int64
	ClaimTxId          string // txid of the claim broadcast, if any
	ClaimError         string
}

// SwapRepository archives terminal swaps.
type SwapRepository interface {
	Upsert(ctx context.Context, swap Swap) error
	Get(ctx context.Context, swapId string) (*Swap, error)
	GetAll(ctx context.Context) ([]Swap, error)
	// MaxKeyIndex returns the highest HD key index in use, ok is false when
	// no derived key was ever archived.
	MaxKeyIndex(ctx context.Context) (index uint32, ok bool, err error)
	Close()
}
