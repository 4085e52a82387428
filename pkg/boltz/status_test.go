package boltz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusPolicy(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		policy := DefaultStatusPolicy()

		for _, status := range DefaultPaidStatuses() {
			require.Equal(t, StatusPaid, policy.Classify(status), status)
		}
		for _, status := range DefaultFailedStatuses() {
			require.Equal(t, StatusFailed, policy.Classify(status), status)
		}
		for _, status := range []string{
			StatusSwapCreated, StatusMinerFeePaid, StatusTransactionClaimed, "", "transaction",
		} {
			require.Equal(t, StatusPending, policy.Classify(status), status)
		}
	})

	t.Run("exact match only", func(t *testing.T) {
		policy := DefaultStatusPolicy()
		require.Equal(t, StatusPending, policy.Classify("transaction.failed.later"))
		require.Equal(t, StatusPending, policy.Classify("Invoice.Expired"))
	})

	t.Run("zero value uses defaults", func(t *testing.T) {
		var policy StatusPolicy
		require.Equal(t, StatusPaid, policy.Classify(StatusInvoiceSettled))
		require.Equal(t, StatusFailed, policy.Classify(StatusSwapExpired))
	})

	t.Run("custom sets", func(t *testing.T) {
		policy := NewStatusPolicy(
			[]string{StatusTransactionConfirmed, " "},
			[]string{StatusSwapExpired, StatusTransactionConfirmed},
		)

		require.Equal(t, StatusFailed, policy.Classify(StatusTransactionConfirmed))
		require.Equal(t, StatusPending, policy.Classify(StatusTransactionMempool))
		require.Equal(t, StatusPending, policy.Classify(StatusInvoiceExpired))
		require.Equal(t, StatusFailed, policy.Classify(StatusSwapExpired))
	})

	t.Run("class names", func(t *testing.T) {
		require.Equal(t, "pending", StatusPending.String())
		require.Equal(t, "paid", StatusPaid.String())
		require.Equal(t, "failed", StatusFailed.String())
	})
}
