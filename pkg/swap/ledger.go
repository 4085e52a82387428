package swap

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

// SwapRecord is the local state of one reverse swap. The preimage and the
// claim key never leave the record except through claimRequest.
type SwapRecord struct {
	mu sync.Mutex

	id           string
	from         boltz.Currency
	to           boltz.Currency
	preimage     lntypes.Preimage
	preimageHash string
	claimKey     ClaimKey
	destination  string
	swap         boltz.CreateReverseSwapResponse
	createdAt    time.Time

	invoice       Invoice
	lastStatus    string
	failureReason string
	lockupTx      *boltz.SwapTransaction
	terminalAt    time.Time
	claimTxId     string
	claimErr      string
}

func newSwapRecord(
	preimage lntypes.Preimage, key ClaimKey, from, to boltz.Currency,
	destination string, resp boltz.CreateReverseSwapResponse, invoice Invoice,
) *SwapRecord {
	hash := preimage.Hash()
	return &SwapRecord{
		id:           resp.Id,
		from:         from,
		to:           to,
		preimage:     preimage,
		preimageHash: hash.String(),
		claimKey:     key,
		destination:  destination,
		swap:         resp,
		createdAt:    time.Now(),
		invoice:      invoice,
		lastStatus:   boltz.StatusSwapCreated,
	}
}

func (r *SwapRecord) Id() string {
	return r.id
}

func (r *SwapRecord) PreimageHash() string {
	return r.preimageHash
}

// Invoice returns a copy of the current invoice state.
func (r *SwapRecord) Invoice() Invoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invoice
}

func (r *SwapRecord) Status() InvoiceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invoice.Status
}

// LastStatus is the most recent raw status received for the swap.
func (r *SwapRecord) LastStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastStatus
}

func (r *SwapRecord) String() string {
	return fmt.Sprintf("swap %s (%s)", r.id, r.Status())
}

// Snapshot is an immutable view of a record, safe to persist.
type Snapshot struct {
	Invoice            Invoice
	From               boltz.Currency
	To                 boltz.Currency
	LastStatus         string
	FailureReason      string
	LockupAddress      string
	DestinationAddress string
	KeyIndex           uint32
	DerivedKey         bool
	CreatedAt          time.Time
	TerminalAt         time.Time
	ClaimTxId          string
	ClaimError         string
}

func (r *SwapRecord) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Snapshot{
		Invoice:            r.invoice,
		From:               r.from,
		To:                 r.to,
		LastStatus:         r.lastStatus,
		FailureReason:      r.failureReason,
		LockupAddress:      r.swap.LockupAddress,
		DestinationAddress: r.destination,
		KeyIndex:           r.claimKey.Index,
		DerivedKey:         r.claimKey.Derived,
		CreatedAt:          r.createdAt,
		TerminalAt:         r.terminalAt,
		ClaimTxId:          r.claimTxId,
		ClaimError:         r.claimErr,
	}
}

// Transition describes the single terminal change of a record.
type Transition struct {
	Invoice Invoice
	Status  string
	Reason  string
}

// apply records update and, if the record is not terminal yet and class is,
// moves it to its terminal state. It reports whether that happened.
func (r *SwapRecord) apply(
	update boltz.SwapUpdate, class boltz.StatusClass, now time.Time,
) (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastStatus = update.Status
	if tx := update.Transaction; tx != nil && tx.Hex != "" {
		switch update.Status {
		case boltz.StatusTransactionMempool, boltz.StatusTransactionConfirmed:
			r.lockupTx = &boltz.SwapTransaction{Id: tx.Id, Hex: tx.Hex}
		}
	}

	if r.invoice.Status.IsTerminal() {
		return Transition{}, false
	}

	switch class {
	case boltz.StatusPaid:
		r.invoice.Status = InvoicePaid
		r.invoice.Preimage = r.preimage.String()
		r.invoice.AmountReceived = r.invoice.AmountSats
	case boltz.StatusFailed:
		r.invoice.Status = InvoiceFailed
		r.invoice.AmountReceived = 0
		r.failureReason = update.FailureReason
	default:
		return Transition{}, false
	}
	r.terminalAt = now

	return Transition{
		Invoice: r.invoice,
		Status:  update.Status,
		Reason:  update.FailureReason,
	}, true
}

func (r *SwapRecord) claimRequest() (ClaimRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.invoice.Status != InvoicePaid {
		return ClaimRequest{}, fmt.Errorf("swap %s is not paid", r.id)
	}
	tree, err := r.swap.SwapTree.Serialize()
	if err != nil {
		return ClaimRequest{}, fmt.Errorf("failed to serialize swap tree: %w", err)
	}

	req := ClaimRequest{
		SwapId:             r.id,
		PrivateKey:         hex.EncodeToString(r.claimKey.Private.Serialize()),
		Preimage:           r.preimage.String(),
		SwapTree:           tree,
		LockupAddress:      r.swap.LockupAddress,
		RefundPublicKey:    r.swap.RefundPublicKey,
		DestinationAddress: r.destination,
		BlindingKey:        r.swap.BlindingKey,
		Currency:           r.to,
	}
	if r.lockupTx != nil {
		req.LockupTransaction = r.lockupTx.Hex
	}
	return req, nil
}

func (r *SwapRecord) setClaimResult(txid string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.claimTxId = txid
	r.claimErr = ""
	if err != nil {
		r.claimErr = err.Error()
	}
}

func (r *SwapRecord) isStale(now time.Time, grace time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invoice.Status == InvoiceUnpaid && r.invoice.Expired(now.Add(-grace))
}

func (r *SwapRecord) terminalBefore(t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invoice.Status.IsTerminal() && r.terminalAt.Before(t)
}

// TerminalHandler is called once per record, right after it turned paid
// or failed, outside of the record lock.
type TerminalHandler func(rec *SwapRecord, t Transition)

// Ledger indexes swap records by swap id and by preimage hash.
type Ledger struct {
	policy   boltz.StatusPolicy
	byId     *xsync.MapOf[string, *SwapRecord]
	byHash   *xsync.MapOf[string, *SwapRecord]
	handlers []TerminalHandler
}

func NewLedger(policy boltz.StatusPolicy, handlers ...TerminalHandler) *Ledger {
	return &Ledger{
		policy:   policy,
		byId:     xsync.NewMapOf[string, *SwapRecord](),
		byHash:   xsync.NewMapOf[string, *SwapRecord](),
		handlers: handlers,
	}
}

func (l *Ledger) Record(rec *SwapRecord) error {
	if _, loaded := l.byId.LoadOrStore(rec.id, rec); loaded {
		return fmt.Errorf("swap %s already recorded", rec.id)
	}
	l.byHash.Store(rec.preimageHash, rec)
	return nil
}

// HandleUpdate applies a status update pushed by the service. Updates for
// unknown swaps are ignored.
func (l *Ledger) HandleUpdate(update boltz.SwapUpdate) {
	rec, ok := l.byId.Load(update.Id)
	if !ok {
		log.WithField("swap_id", update.Id).Debugf("ignoring %s for unknown swap", update.Status)
		return
	}

	class := l.policy.Classify(update.Status)
	t, ok := rec.apply(update, class, time.Now())
	if !ok {
		log.WithField("swap_id", update.Id).Debugf("swap status %s", update.Status)
		return
	}

	log.WithField("swap_id", update.Id).Infof("swap %s with status %s", t.Invoice.Status, update.Status)
	l.notify(rec, t)
}

func (l *Ledger) notify(rec *SwapRecord, t Transition) {
	for _, handler := range l.handlers {
		handler(rec, t)
	}
}

func (l *Ledger) Lookup(id string) (*SwapRecord, bool) {
	return l.byId.Load(id)
}

func (l *Ledger) LookupByPreimageHash(hash string) (*SwapRecord, bool) {
	return l.byHash.Load(hash)
}

func (l *Ledger) Remove(id string) (*SwapRecord, bool) {
	rec, ok := l.byId.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	l.byHash.Compute(rec.preimageHash, func(old *SwapRecord, loaded bool) (*SwapRecord, bool) {
		if loaded && old == rec {
			return nil, true
		}
		return old, !loaded
	})
	return rec, true
}

func (l *Ledger) Size() int {
	return l.byId.Size()
}

func (l *Ledger) Records() []*SwapRecord {
	records := make([]*SwapRecord, 0, l.byId.Size())
	l.byId.Range(func(_ string, rec *SwapRecord) bool {
		records = append(records, rec)
		return true
	})
	return records
}

// ExpireStale fails every unpaid swap whose invoice expired more than grace
// ago and returns their ids.
func (l *Ledger) ExpireStale(now time.Time, grace time.Duration) []string {
	expired := make([]string, 0)
	for _, rec := range l.Records() {
		if !rec.isStale(now, grace) {
			continue
		}
		update := boltz.SwapUpdate{
			Id:            rec.id,
			Status:        boltz.StatusInvoiceExpired,
			FailureReason: "invoice expired without payment",
		}
		t, ok := rec.apply(update, boltz.StatusFailed, now)
		if !ok {
			continue
		}
		log.WithField("swap_id", rec.id).Info("swap expired locally")
		l.notify(rec, t)
		expired = append(expired, rec.id)
	}
	return expired
}

// Prune drops terminal records that reached their final state before
// olderThan and returns how many were dropped.
func (l *Ledger) Prune(olderThan time.Time) int {
	count := 0
	for _, rec := range l.Records() {
		if !rec.terminalBefore(olderThan) {
			continue
		}
		if _, ok := l.Remove(rec.id); ok {
			count++
		}
	}
	return count
}
