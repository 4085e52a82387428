package application_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	cfg "github.com/ArkLabsHQ/lnswap/internal/config"
	"github.com/ArkLabsHQ/lnswap/internal/core/application"
	"github.com/ArkLabsHQ/lnswap/internal/core/domain"
	badgerdb "github.com/ArkLabsHQ/lnswap/internal/infrastructure/db/badger"
	scheduler "github.com/ArkLabsHQ/lnswap/internal/infrastructure/scheduler/gocron"
	"github.com/ArkLabsHQ/lnswap/internal/test/mockboltz"
	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	"github.com/ArkLabsHQ/lnswap/pkg/swap"
	"github.com/stretchr/testify/require"
)

const (
	waitFor  = 10 * time.Second
	tick     = 20 * time.Millisecond
	mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
)

type testEnv struct {
	srv  *mockboltz.Server
	repo domain.SwapRepository
	svc  *application.Service
}

func newTestEnv(t *testing.T, env map[string]string, archived ...domain.Swap) *testEnv {
	t.Helper()

	srv, err := mockboltz.New(mockboltz.Config{})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		_ = srv.Stop()
	})

	t.Setenv("LNSWAP_DATADIR", t.TempDir())
	t.Setenv("LNSWAP_BOLTZ_URL", srv.URL())
	t.Setenv("LNSWAP_BOLTZ_WS_URL", srv.WSURL())
	for k, v := range env {
		t.Setenv(cfg.EnvPrefix+"_"+k, v)
	}
	config, err := cfg.LoadConfig()
	require.NoError(t, err)

	repo, err := badgerdb.NewSwapRepository("", nil)
	require.NoError(t, err)
	for _, s := range archived {
		require.NoError(t, repo.Upsert(context.Background(), s))
	}

	api := &boltz.Api{URL: config.BoltzURL, WSURL: config.BoltzWSURL}
	svc, err := application.NewService(
		application.BuildInfo{Version: "test"}, config, api, repo, scheduler.NewScheduler(),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)

	return &testEnv{srv, repo, svc}
}

func (e *testEnv) waitArchived(t *testing.T, id string, status domain.SwapStatus) *domain.Swap {
	t.Helper()

	var archived *domain.Swap
	require.Eventually(t, func() bool {
		s, err := e.repo.Get(context.Background(), id)
		if err != nil {
			return false
		}
		archived = s
		return s.Status == status
	}, waitFor, tick)
	return archived
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func TestService(t *testing.T) {
	ctx := context.Background()

	t.Run("paid swap is archived with preimage", func(t *testing.T) {
		env := newTestEnv(t, nil)
		require.True(t, env.svc.IsReady())

		invoice, err := env.svc.CreateInvoice(ctx, 50000, "coffee", 0)
		require.NoError(t, err)

		pending := env.waitArchived(t, invoice.SwapId, domain.SwapPending)
		require.Empty(t, pending.Preimage)
		require.Equal(t, invoice.PaymentRequest, pending.Invoice)

		require.Eventually(t, func() bool {
			return env.srv.Subscribers(invoice.SwapId) == 1
		}, waitFor, tick)
		require.NoError(t, env.srv.PushUpdate(invoice.SwapId, boltz.StatusTransactionConfirmed, nil))

		paid, err := env.svc.WaitInvoice(waitCtx(t), invoice.SwapId)
		require.NoError(t, err)
		require.Equal(t, swap.InvoicePaid, paid.Status)

		archived := env.waitArchived(t, invoice.SwapId, domain.SwapSuccess)
		require.Equal(t, paid.Preimage, archived.Preimage)
		preimage, err := hex.DecodeString(archived.Preimage)
		require.NoError(t, err)
		hash := sha256.Sum256(preimage)
		require.Equal(t, archived.PaymentHash, hex.EncodeToString(hash[:]))
		require.Equal(t, "coffee", archived.Description)
		require.NotZero(t, archived.TerminalAt)
	})

	t.Run("failed swap is archived without preimage", func(t *testing.T) {
		env := newTestEnv(t, nil)

		invoice, err := env.svc.CreateInvoice(ctx, 50000, "", 0)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return env.srv.Subscribers(invoice.SwapId) == 1
		}, waitFor, tick)
		require.NoError(t, env.srv.PushUpdate(invoice.SwapId, boltz.StatusSwapExpired, nil))

		_, err = env.svc.WaitInvoice(waitCtx(t), invoice.SwapId)
		var failure *swap.TerminalFailureError
		require.ErrorAs(t, err, &failure)
		require.Equal(t, boltz.StatusSwapExpired, failure.Status)

		archived := env.waitArchived(t, invoice.SwapId, domain.SwapFailed)
		require.Empty(t, archived.Preimage)
		require.Equal(t, boltz.StatusSwapExpired, archived.LastStatus)
	})

	t.Run("stale invoice is expired by the sweep", func(t *testing.T) {
		env := newTestEnv(t, map[string]string{
			cfg.SweepInterval: "1",
			cfg.ExpiryGrace:   "0",
		})

		invoice, err := env.svc.CreateInvoice(ctx, 50000, "", time.Second)
		require.NoError(t, err)

		_, err = env.svc.WaitInvoice(waitCtx(t), invoice.SwapId)
		var failure *swap.TerminalFailureError
		require.ErrorAs(t, err, &failure)
		require.Equal(t, boltz.StatusInvoiceExpired, failure.Status)

		env.waitArchived(t, invoice.SwapId, domain.SwapFailed)
	})

	t.Run("cancel", func(t *testing.T) {
		env := newTestEnv(t, nil)

		invoice, err := env.svc.CreateInvoice(ctx, 50000, "", 0)
		require.NoError(t, err)

		require.NoError(t, env.svc.CancelInvoice(ctx, invoice.SwapId))
		archived := env.waitArchived(t, invoice.SwapId, domain.SwapFailed)
		require.Equal(t, swap.ErrInvoiceCancelled.Error(), archived.FailureReason)

		err = env.svc.CancelInvoice(ctx, invoice.SwapId)
		require.ErrorIs(t, err, swap.ErrSwapNotFound)

		got, err := env.svc.GetInvoice(ctx, invoice.SwapId)
		require.NoError(t, err)
		require.Equal(t, swap.InvoiceFailed, got.Status)
	})

	t.Run("archived swaps answer lookups", func(t *testing.T) {
		paid := domain.Swap{
			Id:          "archived-paid",
			AmountSats:  1000,
			PaymentHash: "aa",
			Status:      domain.SwapSuccess,
			LastStatus:  boltz.StatusInvoiceSettled,
			Preimage:    "bb",
			CreatedAt:   100,
		}
		failed := domain.Swap{
			Id:            "archived-failed",
			Status:        domain.SwapFailed,
			LastStatus:    boltz.StatusTransactionRefunded,
			FailureReason: "refunded",
			CreatedAt:     200,
		}
		env := newTestEnv(t, nil, paid, failed)

		invoice, err := env.svc.GetInvoice(ctx, paid.Id)
		require.NoError(t, err)
		require.Equal(t, swap.InvoicePaid, invoice.Status)
		require.Equal(t, "bb", invoice.Preimage)

		invoice, err = env.svc.WaitInvoice(ctx, paid.Id)
		require.NoError(t, err)
		require.Equal(t, "bb", invoice.Preimage)

		_, err = env.svc.WaitInvoice(ctx, failed.Id)
		var failure *swap.TerminalFailureError
		require.ErrorAs(t, err, &failure)
		require.Equal(t, "refunded", failure.Reason)

		s, err := env.svc.GetSwap(ctx, failed.Id)
		require.NoError(t, err)
		require.Equal(t, domain.SwapFailed, s.Status)

		_, err = env.svc.GetInvoice(ctx, "unknown")
		require.ErrorIs(t, err, swap.ErrSwapNotFound)
		_, err = env.svc.WaitInvoice(ctx, "unknown")
		require.ErrorIs(t, err, swap.ErrSwapNotFound)
	})

	t.Run("untracked pending swaps expire on start", func(t *testing.T) {
		now := time.Now().Unix()
		expired := domain.Swap{
			Id:        "expired",
			Status:    domain.SwapPending,
			CreatedAt: now - 7200,
			ExpiresAt: now - 3600,
		}
		live := domain.Swap{
			Id:        "live",
			Status:    domain.SwapPending,
			CreatedAt: now,
			ExpiresAt: now + 3600,
		}
		env := newTestEnv(t, nil, expired, live)

		archived, err := env.repo.Get(ctx, expired.Id)
		require.NoError(t, err)
		require.Equal(t, domain.SwapFailed, archived.Status)
		require.Equal(t, boltz.StatusInvoiceExpired, archived.LastStatus)

		archived, err = env.repo.Get(ctx, live.Id)
		require.NoError(t, err)
		require.Equal(t, domain.SwapPending, archived.Status)

		_, err = env.svc.WaitInvoice(ctx, live.Id)
		require.ErrorIs(t, err, swap.ErrSwapNotFound)
	})

	t.Run("hd keys resume after archived index", func(t *testing.T) {
		env := newTestEnv(t, map[string]string{cfg.Mnemonic: mnemonic}, domain.Swap{
			Id:         "previous",
			Status:     domain.SwapSuccess,
			KeyIndex:   4,
			DerivedKey: true,
		})

		invoice, err := env.svc.CreateInvoice(ctx, 50000, "", 0)
		require.NoError(t, err)

		s, err := env.svc.GetSwap(ctx, invoice.SwapId)
		require.NoError(t, err)
		require.True(t, s.DerivedKey)
		require.Equal(t, uint32(5), s.KeyIndex)

		index, ok, err := env.repo.MaxKeyIndex(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint32(5), index)
	})

	t.Run("service unavailable", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.srv.SetCreateError("pair not available")

		_, err := env.svc.CreateInvoice(ctx, 50000, "", 0)
		require.Error(t, err)
		require.True(t, errors.Is(err, swap.ErrUpstreamUnavailable))
	})
}
