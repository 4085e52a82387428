package boltz_test

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"github.com/ArkLabsHQ/lnswap/internal/test/mockboltz"
	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func startMock(t *testing.T, cfg mockboltz.Config) *mockboltz.Server {
	t.Helper()

	srv, err := mockboltz.New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		_ = srv.Stop()
	})
	return srv
}

func newReverseRequest(t *testing.T, amount uint64) boltz.CreateReverseSwapRequest {
	t.Helper()

	preimage := make([]byte, 32)
	_, err := rand.Read(preimage)
	require.NoError(t, err)
	hash := sha256.Sum256(preimage)

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return boltz.CreateReverseSwapRequest{
		From:           boltz.CurrencyBtc,
		To:             boltz.CurrencyLiquid,
		InvoiceAmount:  amount,
		PreimageHash:   hex.EncodeToString(hash[:]),
		ClaimPublicKey: hex.EncodeToString(key.PubKey().SerializeCompressed()),
	}
}

func TestApi(t *testing.T) {
	srv := startMock(t, mockboltz.Config{})
	api := &boltz.Api{URL: srv.URL()}
	ctx := context.Background()

	t.Run("reverse pairs", func(t *testing.T) {
		pairs, err := api.GetReversePairs(ctx)
		require.NoError(t, err)

		pair, ok := pairs.Find(boltz.CurrencyBtc, boltz.CurrencyLiquid)
		require.True(t, ok)
		require.NotEmpty(t, pair.Hash)
		require.Equal(t, uint64(1000), pair.Limits.Minimal)

		_, ok = pairs.Find(boltz.CurrencyLiquid, boltz.CurrencyBtc)
		require.False(t, ok)
	})

	t.Run("create reverse swap", func(t *testing.T) {
		req := newReverseRequest(t, 50000)

		resp, err := api.CreateReverseSwap(ctx, req)
		require.NoError(t, err)
		require.NotEmpty(t, resp.Id)
		require.NotEmpty(t, resp.Invoice)
		require.NotEmpty(t, resp.LockupAddress)
		require.NotEmpty(t, resp.RefundPublicKey)
		require.NotEmpty(t, resp.BlindingKey)
		require.NotEmpty(t, resp.SwapTree.ClaimLeaf.Output)
		require.NotZero(t, resp.TimeoutBlockHeight)

		tree, err := resp.SwapTree.Serialize()
		require.NoError(t, err)
		require.Contains(t, tree, "claimLeaf")
		require.NotContains(t, tree, "covenantClaimLeaf")

		st, ok := srv.Swap(resp.Id)
		require.True(t, ok)
		require.Equal(t, req.PreimageHash, st.PreimageHash)
	})

	t.Run("create reverse swap out of limits", func(t *testing.T) {
		_, err := api.CreateReverseSwap(ctx, newReverseRequest(t, 10))
		require.Error(t, err)

		var httpErr *boltz.HTTPError
		require.True(t, errors.As(err, &httpErr))
		require.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
		require.Contains(t, httpErr.Body, "minimal")
	})

	t.Run("broadcast", func(t *testing.T) {
		txid, err := api.BroadcastTransaction(ctx, boltz.CurrencyLiquid, "0200000001")
		require.NoError(t, err)
		require.Len(t, txid, 64)
		require.Contains(t, srv.Broadcasts(), "0200000001")

		_, err = api.BroadcastTransaction(ctx, boltz.CurrencyBtc, "zz")
		require.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := api.GetReversePairs(cctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestWebsocketURL(t *testing.T) {
	fixtures := []struct {
		url      string
		wsURL    string
		expected string
		err      bool
	}{
		{url: "https://api.boltz.exchange", expected: "wss://api.boltz.exchange/v2/ws"},
		{url: "http://localhost:9001/", expected: "ws://localhost:9001/v2/ws"},
		{url: "https://host/api", expected: "wss://host/api/v2/ws"},
		{url: "http://x", wsURL: "ws://other/v2/ws", expected: "ws://other/v2/ws"},
		{url: "ftp://host", err: true},
	}

	for _, f := range fixtures {
		t.Run(f.url, func(t *testing.T) {
			api := &boltz.Api{URL: f.url, WSURL: f.wsURL}
			got, err := api.WebsocketURL()
			if f.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, f.expected, got)
		})
	}
}
