package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ArkLabsHQ/lnswap/internal/core/domain"
	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const (
	swapDir = "swap"
)

type swapRepository struct {
	store *badgerhold.Store
}

func NewSwapRepository(baseDir string, logger badger.Logger) (domain.SwapRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, swapDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open swap store: %s", err)
	}
	return &swapRepository{store}, nil
}

func (r *swapRepository) GetAll(ctx context.Context) ([]domain.Swap, error) {
	var swapDataList []swapData
	if err := r.store.Find(&swapDataList, (&badgerhold.Query{}).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to get all swaps: %w", err)
	}

	swaps := make([]domain.Swap, 0, len(swapDataList))
	for _, s := range swapDataList {
		swaps = append(swaps, s.toSwap())
	}
	return swaps, nil
}

func (r *swapRepository) Get(ctx context.Context, swapId string) (*domain.Swap, error) {
	var data swapData
	err := r.store.Get(swapId, &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSwapNotFound, swapId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}

	swap := data.toSwap()
	return &swap, nil
}

// Upsert stores the swap, replacing any previous version. Claim results
// arrive after the terminal status, so the same id is written more than once.
func (r *swapRepository) Upsert(ctx context.Context, swap domain.Swap) error {
	data := toSwapData(swap)
	if err := r.store.Upsert(swap.Id, data); err != nil {
		return fmt.Errorf("failed to store swap %s: %w", swap.Id, err)
	}
	return nil
}

func (r *swapRepository) MaxKeyIndex(ctx context.Context) (uint32, bool, error) {
	var found []swapData
	query := badgerhold.Where("DerivedKey").Eq(true).SortBy("KeyIndex").Reverse().Limit(1)
	if err := r.store.Find(&found, query); err != nil {
		return 0, false, fmt.Errorf("failed to get max key index: %w", err)
	}
	if len(found) == 0 {
		return 0, false, nil
	}
	return found[0].KeyIndex, true, nil
}

func (r *swapRepository) Close() {
	// nolint:all
	r.store.Close()
}

type swapData struct {
	Id                 string
	From               string
	To                 string
	AmountSats         uint64
	AmountReceived     uint64
	PaymentHash        string
	Invoice            string
	Description        string
	Status             domain.SwapStatus
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
	ClaimTxId          string
	ClaimError         string
}

func toSwapData(swap domain.Swap) swapData {
	preimage := swap.Preimage
	if swap.Status != domain.SwapSuccess {
		preimage = ""
	}
	return swapData{
		Id:                 swap.Id,
		From:               string(swap.From),
		To:                 string(swap.To),
		AmountSats:         swap.AmountSats,
		AmountReceived:     swap.AmountReceived,
		PaymentHash:        swap.PaymentHash,
		Invoice:            swap.Invoice,
		Description:        swap.Description,
		Status:             swap.Status,
		LastStatus:         swap.LastStatus,
		FailureReason:      swap.FailureReason,
		Preimage:           preimage,
		KeyIndex:           swap.KeyIndex,
		DerivedKey:         swap.DerivedKey,
		LockupAddress:      swap.LockupAddress,
		DestinationAddress: swap.DestinationAddress,
		CreatedAt:          swap.CreatedAt,
		ExpiresAt:          swap.ExpiresAt,
		TerminalAt:         swap.TerminalAt,
		ClaimTxId:          swap.ClaimTxId,
		ClaimError:         swap.ClaimError,
	}
}

func (s swapData) toSwap() domain.Swap {
	return domain.Swap{
		Id:                 s.Id,
		From:               boltz.Currency(s.From),
		To:                 boltz.Currency(s.To),
		AmountSats:         s.AmountSats,
		AmountReceived:     s.AmountReceived,
		PaymentHash:        s.PaymentHash,
		Invoice:            s.Invoice,
		Description:        s.Description,
		Status:             s.Status,
		LastStatus:         s.LastStatus,
		FailureReason:      s.FailureReason,
		Preimage:           s.Preimage,
		KeyIndex:           s.KeyIndex,
		DerivedKey:         s.DerivedKey,
		LockupAddress:      s.LockupAddress,
		DestinationAddress: s.DestinationAddress,
		CreatedAt:          s.CreatedAt,
		ExpiresAt:          s.ExpiresAt,
		TerminalAt:         s.TerminalAt,
		ClaimTxId:          s.ClaimTxId,
		ClaimError:         s.ClaimError,
	}
}
