package swap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	"github.com/ArkLabsHQ/lnswap/utils"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"
	log "github.com/sirupsen/logrus"
)

// ServiceAPI is the request/response side of the swap service.
type ServiceAPI interface {
	Broadcaster
	GetReversePairs(ctx context.Context) (boltz.ReversePairs, error)
	CreateReverseSwap(ctx context.Context, req boltz.CreateReverseSwapRequest) (*boltz.CreateReverseSwapResponse, error)
	WebsocketURL() (string, error)
}

// Observer is told about swaps reaching their final state and about claim
// outcomes. Calls happen off the caller's goroutine and must not block long.
type Observer interface {
	SwapTerminal(snapshot Snapshot)
	SwapClaimed(snapshot Snapshot)
}

type Config struct {
	Network            *chaincfg.Params
	From               boltz.Currency
	To                 boltz.Currency
	DestinationAddress string
	ClaimCovenant      bool
	Policy             boltz.StatusPolicy
	// Claimer may be nil, paid swaps are then reported but not claimed.
	Claimer      Claimer
	ClaimTimeout time.Duration
	Keys         KeySource
}

type Option func(*Client)

func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func WithInvoiceDecoder(decode InvoiceDecoder) Option {
	return func(c *Client) {
		c.decode = decode
	}
}

func WithRegistryOptions(opts ...boltz.RegistryOption) Option {
	return func(c *Client) {
		c.registryOpts = append(c.registryOpts, opts...)
	}
}

// Client creates reverse swaps and exposes them as Lightning invoices.
type Client struct {
	api      ServiceAPI
	cfg      Config
	ledger   *Ledger
	registry *boltz.SubscriptionRegistry
	notifier *notifier
	claims   *ClaimInvoker
	decode   InvoiceDecoder
	observer Observer

	registryOpts []boltz.RegistryOption

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewClient(api ServiceAPI, cfg Config, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("%w: missing swap service api", ErrInvalidArgument)
	}
	if cfg.Network == nil {
		cfg.Network = &chaincfg.MainNetParams
	}
	if cfg.From == "" {
		cfg.From = boltz.CurrencyBtc
	}
	if cfg.To == "" {
		cfg.To = boltz.CurrencyLiquid
	}
	if cfg.Keys == nil {
		cfg.Keys = EphemeralKeys{}
	}
	if cfg.DestinationAddress != "" {
		if err := ValidateDestination(cfg.To, cfg.DestinationAddress, cfg.Network); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		api:      api,
		cfg:      cfg,
		notifier: newNotifier(),
		decode:   utils.DecodeInvoice,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.Claimer != nil {
		c.claims = NewClaimInvoker(cfg.Claimer, api, cfg.ClaimTimeout)
	}
	c.ledger = NewLedger(cfg.Policy, c.onTerminal)
	c.registry = boltz.NewSubscriptionRegistry(c.registryOpts...)

	return c, nil
}

// ValidateDestination checks addr is a valid address of currency on the
// given network.
func ValidateDestination(currency boltz.Currency, addr string, params *chaincfg.Params) error {
	switch currency {
	case boltz.CurrencyBtc:
		return utils.ValidateBtcAddress(addr, params)
	case boltz.CurrencyLiquid:
		return utils.ValidateLiquidAddress(addr, params)
	default:
		return fmt.Errorf("unsupported currency %s", currency)
	}
}

// CreateInvoice creates a reverse swap for amountSats and returns the
// invoice the payer has to pay.
func (c *Client) CreateInvoice(
	ctx context.Context, amountSats uint64, description string, expiry time.Duration,
) (Invoice, error) {
	if c.isClosed() {
		return Invoice{}, ErrClientClosed
	}
	if amountSats == 0 {
		return Invoice{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidArgument)
	}
	if expiry < 0 {
		return Invoice{}, fmt.Errorf("%w: negative expiry", ErrInvalidArgument)
	}

	pairs, err := c.api.GetReversePairs(ctx)
	if err != nil {
		return Invoice{}, upstreamError(ctx, "get reverse pairs", err)
	}
	pair, ok := pairs.Find(c.cfg.From, c.cfg.To)
	if !ok {
		return Invoice{}, malformed("pair %s/%s is not offered", c.cfg.From, c.cfg.To)
	}
	if amountSats < pair.Limits.Minimal || amountSats > pair.Limits.Maximal {
		return Invoice{}, fmt.Errorf(
			"%w: amount %d out of range [%d, %d]",
			ErrInvalidArgument, amountSats, pair.Limits.Minimal, pair.Limits.Maximal,
		)
	}

	var secret [lntypes.PreimageSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return Invoice{}, fmt.Errorf("failed to generate preimage: %w", err)
	}
	preimage := lntypes.Preimage(secret)
	preimageHash := preimage.Hash()

	key, err := c.cfg.Keys.NextClaimKey()
	if err != nil {
		return Invoice{}, err
	}

	req := boltz.CreateReverseSwapRequest{
		Address:        c.cfg.DestinationAddress,
		From:           c.cfg.From,
		To:             c.cfg.To,
		InvoiceAmount:  amountSats,
		PreimageHash:   preimageHash.String(),
		ClaimPublicKey: hex.EncodeToString(key.Private.PubKey().SerializeCompressed()),
		ClaimCovenant:  c.cfg.ClaimCovenant,
		Description:    description,
		InvoiceExpiry:  uint64(expiry / time.Second),
		PairHash:       pair.Hash,
	}
	resp, err := c.api.CreateReverseSwap(ctx, req)
	if err != nil {
		return Invoice{}, upstreamError(ctx, "create reverse swap", err)
	}
	if resp == nil || resp.Id == "" || resp.Invoice == "" {
		return Invoice{}, malformed("missing swap id or invoice")
	}

	invoice, err := c.buildInvoice(resp, preimageHash.String(), amountSats, description)
	if err != nil {
		return Invoice{}, err
	}

	rec := newSwapRecord(preimage, key, c.cfg.From, c.cfg.To, c.cfg.DestinationAddress, *resp, invoice)
	if err := c.ledger.Record(rec); err != nil {
		return Invoice{}, malformed("%s", err)
	}

	logger := log.WithField("swap_id", resp.Id)
	uri, err := c.api.WebsocketURL()
	if err == nil {
		err = c.registry.Subscribe(ctx, uri, resp.Id, c.ledger.HandleUpdate)
	}
	if err != nil {
		c.ledger.Remove(resp.Id)
		logger.WithError(err).Warn("failed to subscribe to swap updates")
		return Invoice{}, upstreamError(ctx, "subscribe to swap updates", err)
	}

	logger.Infof("created reverse swap of %d sats", amountSats)
	return rec.Invoice(), nil
}

func (c *Client) buildInvoice(
	resp *boltz.CreateReverseSwapResponse, preimageHash string, amountSats uint64, description string,
) (Invoice, error) {
	decoded, err := c.decode(resp.Invoice)
	if err != nil {
		return Invoice{}, malformed("invalid invoice: %s", err)
	}
	if !strings.EqualFold(decoded.PaymentHash, preimageHash) {
		return Invoice{}, malformed("invoice payment hash does not match preimage hash")
	}
	if decoded.AmountSats != amountSats {
		return Invoice{}, malformed("invoice amount %d does not match requested %d", decoded.AmountSats, amountSats)
	}
	if decoded.Description != "" {
		description = decoded.Description
	}

	return Invoice{
		SwapId:         resp.Id,
		PaymentRequest: resp.Invoice,
		PaymentHash:    preimageHash,
		AmountSats:     decoded.AmountSats,
		Description:    description,
		CreatedAt:      decoded.CreatedAt,
		ExpiresAt:      decoded.ExpiresAt,
		Status:         InvoiceUnpaid,
	}, nil
}

// CancelInvoice stops tracking the swap. The service is not told, an
// unpaid invoice simply expires there.
func (c *Client) CancelInvoice(id string) error {
	rec, ok := c.lookup(id)
	if !ok {
		return ErrSwapNotFound
	}

	c.registry.Unsubscribe(rec.Id())
	c.ledger.Remove(rec.Id())
	c.notifier.publish(rec.Id(), notification{invoice: rec.Invoice(), err: ErrInvoiceCancelled}, true)

	log.WithField("swap_id", rec.Id()).Info("invoice cancelled")
	return nil
}

// GetInvoice looks a swap up by swap id or payment hash.
func (c *Client) GetInvoice(idOrHash string) (Invoice, error) {
	rec, ok := c.lookup(idOrHash)
	if !ok {
		return Invoice{}, ErrSwapNotFound
	}
	return rec.Invoice(), nil
}

// GetSwap returns a snapshot of a tracked swap.
func (c *Client) GetSwap(idOrHash string) (Snapshot, error) {
	rec, ok := c.lookup(idOrHash)
	if !ok {
		return Snapshot{}, ErrSwapNotFound
	}
	return rec.Snapshot(), nil
}

func (c *Client) lookup(idOrHash string) (*SwapRecord, bool) {
	if rec, ok := c.ledger.Lookup(idOrHash); ok {
		return rec, true
	}
	return c.ledger.LookupByPreimageHash(strings.ToLower(idOrHash))
}

// Listen returns a listener resolved by the next swap to be paid or to fail.
func (c *Client) Listen() *InvoiceListener {
	l := c.notifier.listen("")
	if c.isClosed() {
		l.Dispose()
	}
	return l
}

// ListenInvoice returns a listener bound to one swap. It is resolved right
// away if the swap already reached its final state.
func (c *Client) ListenInvoice(id string) (*InvoiceListener, error) {
	rec, ok := c.lookup(id)
	if !ok {
		return nil, ErrSwapNotFound
	}

	l := c.notifier.listen(rec.Id())
	if t, ok := terminalNotification(rec); ok {
		l.resolve(t)
		c.notifier.remove(l.Id())
	}
	if c.isClosed() {
		l.Dispose()
	}
	return l, nil
}

func terminalNotification(rec *SwapRecord) (notification, bool) {
	snapshot := rec.Snapshot()
	switch snapshot.Invoice.Status {
	case InvoicePaid:
		return notification{invoice: snapshot.Invoice}, true
	case InvoiceFailed:
		return notification{
			invoice: snapshot.Invoice,
			err: &TerminalFailureError{
				Invoice: snapshot.Invoice,
				Status:  snapshot.LastStatus,
				Reason:  snapshot.FailureReason,
			},
		}, true
	default:
		return notification{}, false
	}
}

// Swaps returns snapshots of every tracked swap.
func (c *Client) Swaps() []Snapshot {
	records := c.ledger.Records()
	snapshots := make([]Snapshot, 0, len(records))
	for _, rec := range records {
		snapshots = append(snapshots, rec.Snapshot())
	}
	return snapshots
}

// ExpireStale fails unpaid swaps whose invoice expired more than grace ago.
func (c *Client) ExpireStale(grace time.Duration) []string {
	return c.ledger.ExpireStale(time.Now(), grace)
}

// PruneHistory forgets swaps that have been final for longer than retention.
func (c *Client) PruneHistory(retention time.Duration) int {
	return c.ledger.Prune(time.Now().Add(-retention))
}

// Registry exposes the push channel subscriptions.
func (c *Client) Registry() *boltz.SubscriptionRegistry {
	return c.registry
}

// Close stops the push channel, waits for running claims and disposes every
// listener.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.registry.Close()
	c.cancel()
	c.wg.Wait()
	c.notifier.disposeAll()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// onTerminal runs for every swap turning paid or failed. Waiters are
// notified before the claim starts so a slow claim never delays them.
func (c *Client) onTerminal(rec *SwapRecord, t Transition) {
	msg := notification{invoice: t.Invoice}
	if t.Invoice.Status == InvoiceFailed {
		msg.err = &TerminalFailureError{Invoice: t.Invoice, Status: t.Status, Reason: t.Reason}
	}
	c.notifier.publish(rec.Id(), msg, false)
	c.registry.Unsubscribe(rec.Id())

	if c.observer != nil {
		c.observer.SwapTerminal(rec.Snapshot())
	}

	if t.Invoice.Status != InvoicePaid || c.claims == nil {
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, _ = c.claims.Invoke(c.ctx, rec)
		if c.observer != nil {
			c.observer.SwapClaimed(rec.Snapshot())
		}
	}()
}
