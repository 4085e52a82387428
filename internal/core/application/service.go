package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/config"
	"github.com/ArkLabsHQ/lnswap/internal/core/domain"
	"github.com/ArkLabsHQ/lnswap/internal/core/ports"
	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	"github.com/ArkLabsHQ/lnswap/pkg/swap"
	log "github.com/sirupsen/logrus"
)

const expiredWhileUntracked = "invoice expired while the swap was not tracked"

var (
	_ ports.InvoiceService = (*Service)(nil)
	_ swap.Observer        = (*Service)(nil)
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type Service struct {
	BuildInfo BuildInfo

	cfg          *config.Config
	client       *swap.Client
	swapRepo     domain.SwapRepository
	schedulerSvc ports.SchedulerService

	archiveMu sync.Mutex

	mu      sync.RWMutex
	isReady bool
}

func NewService(
	buildInfo BuildInfo,
	cfg *config.Config,
	api swap.ServiceAPI,
	swapRepo domain.SwapRepository,
	schedulerSvc ports.SchedulerService,
	opts ...swap.Option,
) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing config")
	}
	if swapRepo == nil {
		return nil, fmt.Errorf("missing swap repository")
	}
	if schedulerSvc == nil {
		return nil, fmt.Errorf("missing scheduler")
	}

	keys, err := claimKeys(cfg.Mnemonic, swapRepo)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		BuildInfo:    buildInfo,
		cfg:          cfg,
		swapRepo:     swapRepo,
		schedulerSvc: schedulerSvc,
	}

	clientOpts := []swap.Option{
		swap.WithObserver(svc),
		swap.WithRegistryOptions(boltz.WithManagerOptions(
			boltz.WithConnectTimeout(cfg.ConnectTimeoutDuration()),
			boltz.WithKeepAliveInterval(cfg.KeepAliveDuration()),
		)),
	}
	clientOpts = append(clientOpts, opts...)

	client, err := swap.NewClient(api, swap.Config{
		Network:            cfg.NetworkParams(),
		From:               boltz.Currency(cfg.FromCurrency),
		To:                 boltz.Currency(cfg.ToCurrency),
		DestinationAddress: cfg.DestinationAddress,
		ClaimCovenant:      cfg.ClaimCovenant,
		Policy:             cfg.StatusPolicy(),
		Claimer:            cfg.Claimer(),
		ClaimTimeout:       cfg.ClaimTimeoutDuration(),
		Keys:               keys,
	}, clientOpts...)
	if err != nil {
		return nil, err
	}
	svc.client = client

	return svc, nil
}

// claimKeys picks HD keys when a mnemonic is configured, resuming after the
// highest index found in the archive.
func claimKeys(mnemonic string, swapRepo domain.SwapRepository) (swap.KeySource, error) {
	if mnemonic == "" {
		return swap.EphemeralKeys{}, nil
	}

	index, ok, err := swapRepo.MaxKeyIndex(context.Background())
	if err != nil {
		return nil, err
	}
	next := uint32(0)
	if ok {
		next = index + 1
	}

	keys, err := swap.NewHDKeys(mnemonic, next)
	if err != nil {
		return nil, err
	}
	log.Debugf("deriving claim keys from index %d", next)
	return keys, nil
}

// Start expires swaps left pending in the archive by a previous run and
// schedules the periodic sweep and prune jobs.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isReady {
		return nil
	}

	if err := s.expireUntracked(ctx); err != nil {
		return err
	}

	if err := s.schedulerSvc.Every(s.cfg.SweepIntervalDuration(), s.sweepExpired); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	if err := s.schedulerSvc.Every(s.cfg.SweepIntervalDuration(), s.pruneHistory); err != nil {
		return fmt.Errorf("failed to schedule history prune: %w", err)
	}
	s.schedulerSvc.Start()

	s.isReady = true
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	s.isReady = false
	s.mu.Unlock()

	s.schedulerSvc.Stop()
	s.client.Close()
	s.swapRepo.Close()
}

func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isReady
}

func (s *Service) CreateInvoice(
	ctx context.Context, amountSats uint64, description string, expiry time.Duration,
) (swap.Invoice, error) {
	invoice, err := s.client.CreateInvoice(ctx, amountSats, description, expiry)
	if err != nil {
		return swap.Invoice{}, err
	}

	if snapshot, err := s.client.GetSwap(invoice.SwapId); err == nil {
		s.archive(snapshot)
	}
	return invoice, nil
}

func (s *Service) GetInvoice(ctx context.Context, idOrHash string) (swap.Invoice, error) {
	invoice, err := s.client.GetInvoice(idOrHash)
	if err == nil {
		return invoice, nil
	}
	if !errors.Is(err, swap.ErrSwapNotFound) {
		return swap.Invoice{}, err
	}

	archived, err := s.getArchived(ctx, idOrHash)
	if err != nil {
		return swap.Invoice{}, err
	}
	return toInvoice(*archived), nil
}

func (s *Service) GetSwap(ctx context.Context, idOrHash string) (*domain.Swap, error) {
	snapshot, err := s.client.GetSwap(idOrHash)
	if err == nil {
		current := toDomainSwap(snapshot)
		return &current, nil
	}
	if !errors.Is(err, swap.ErrSwapNotFound) {
		return nil, err
	}
	return s.getArchived(ctx, idOrHash)
}

func (s *Service) CancelInvoice(ctx context.Context, id string) error {
	snapshot, err := s.client.GetSwap(id)
	if err != nil {
		return err
	}
	if err := s.client.CancelInvoice(snapshot.Invoice.SwapId); err != nil {
		return err
	}

	archived := toDomainSwap(snapshot)
	if archived.Status != domain.SwapPending {
		return nil
	}
	archived.Status = domain.SwapFailed
	archived.FailureReason = swap.ErrInvoiceCancelled.Error()
	archived.TerminalAt = time.Now().Unix()
	s.upsert(ctx, archived)
	return nil
}

// WaitInvoice blocks until the swap is paid or fails, or ctx is done.
// Swaps no longer in memory are answered from the archive.
func (s *Service) WaitInvoice(ctx context.Context, id string) (swap.Invoice, error) {
	listener, err := s.client.ListenInvoice(id)
	if err == nil {
		defer listener.Dispose()
		return listener.WaitInvoice(ctx)
	}
	if !errors.Is(err, swap.ErrSwapNotFound) {
		return swap.Invoice{}, err
	}

	archived, err := s.getArchived(ctx, id)
	if err != nil {
		return swap.Invoice{}, err
	}
	invoice := toInvoice(*archived)
	switch archived.Status {
	case domain.SwapSuccess:
		return invoice, nil
	case domain.SwapFailed:
		return invoice, &swap.TerminalFailureError{
			Invoice: invoice,
			Status:  archived.LastStatus,
			Reason:  archived.FailureReason,
		}
	default:
		return invoice, fmt.Errorf("%w: swap %s is no longer tracked", swap.ErrSwapNotFound, id)
	}
}

// SwapTerminal archives swaps reaching their final state.
func (s *Service) SwapTerminal(snapshot swap.Snapshot) {
	s.archive(snapshot)
}

// SwapClaimed archives the claim outcome of a paid swap.
func (s *Service) SwapClaimed(snapshot swap.Snapshot) {
	logEntry := log.WithField("swap_id", snapshot.Invoice.SwapId)
	if snapshot.ClaimError != "" {
		logEntry.WithField("error", snapshot.ClaimError).Warn("claim failed")
	} else {
		logEntry.WithField("txid", snapshot.ClaimTxId).Info("swap claimed")
	}
	s.archive(snapshot)
}

func (s *Service) sweepExpired() {
	expired := s.client.ExpireStale(s.cfg.ExpiryGraceDuration())
	if len(expired) > 0 {
		log.Infof("expired %d stale swap(s)", len(expired))
	}
}

func (s *Service) pruneHistory() {
	if pruned := s.client.PruneHistory(s.cfg.HistoryRetentionDuration()); pruned > 0 {
		log.Debugf("pruned %d swap(s) from memory", pruned)
	}
}

func (s *Service) expireUntracked(ctx context.Context) error {
	swaps, err := s.swapRepo.GetAll(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, archived := range swaps {
		if archived.Status != domain.SwapPending {
			continue
		}
		if _, err := s.client.GetSwap(archived.Id); err == nil {
			continue
		}
		if archived.ExpiresAt == 0 || now.Unix() <= archived.ExpiresAt {
			continue
		}
		archived.Status = domain.SwapFailed
		archived.LastStatus = boltz.StatusInvoiceExpired
		archived.FailureReason = expiredWhileUntracked
		archived.TerminalAt = now.Unix()
		s.upsert(ctx, archived)
	}
	return nil
}

func (s *Service) getArchived(ctx context.Context, id string) (*domain.Swap, error) {
	archived, err := s.swapRepo.Get(ctx, id)
	if errors.Is(err, domain.ErrSwapNotFound) {
		return nil, fmt.Errorf("%w: %s", swap.ErrSwapNotFound, id)
	}
	return archived, err
}

// archive stores a snapshot without ever moving an archived swap back from
// a final state to pending.
func (s *Service) archive(snapshot swap.Snapshot) {
	s.upsert(context.Background(), toDomainSwap(snapshot))
}

func (s *Service) upsert(ctx context.Context, archived domain.Swap) {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()

	if archived.Status == domain.SwapPending {
		existing, err := s.swapRepo.Get(ctx, archived.Id)
		if err == nil && existing.Status != domain.SwapPending {
			return
		}
	}
	if err := s.swapRepo.Upsert(ctx, archived); err != nil {
		log.WithError(err).WithField("swap_id", archived.Id).Warn("failed to archive swap")
	}
}
