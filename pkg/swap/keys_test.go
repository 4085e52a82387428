package swap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip32"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestEphemeralKeys(t *testing.T) {
	a, err := EphemeralKeys{}.NextClaimKey()
	require.NoError(t, err)
	b, err := EphemeralKeys{}.NextClaimKey()
	require.NoError(t, err)

	require.False(t, a.Derived)
	require.NotEqual(t, a.Private.Serialize(), b.Private.Serialize())
}

func TestHDKeys(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		first, err := NewHDKeys(testMnemonic, 0)
		require.NoError(t, err)
		second, err := NewHDKeys("  "+testMnemonic+"\n", 0)
		require.NoError(t, err)

		for i := uint32(0); i < 3; i++ {
			a, err := first.NextClaimKey()
			require.NoError(t, err)
			b, err := second.NextClaimKey()
			require.NoError(t, err)

			require.True(t, a.Derived)
			require.Equal(t, i, a.Index)
			require.Equal(t, a.Private.Serialize(), b.Private.Serialize())
		}
		require.Equal(t, uint32(3), first.NextIndex())
	})

	t.Run("distinct per index", func(t *testing.T) {
		keys, err := NewHDKeys(testMnemonic, 0)
		require.NoError(t, err)

		seen := make(map[string]struct{})
		for i := 0; i < 10; i++ {
			key, err := keys.NextClaimKey()
			require.NoError(t, err)
			seen[string(key.Private.Serialize())] = struct{}{}
		}
		require.Len(t, seen, 10)
	})

	t.Run("resume", func(t *testing.T) {
		keys, err := NewHDKeys(testMnemonic, 0)
		require.NoError(t, err)
		resumed, err := NewHDKeys(testMnemonic, 5)
		require.NoError(t, err)

		want, err := keys.DeriveClaimKey(5)
		require.NoError(t, err)
		require.Zero(t, keys.NextIndex())

		got, err := resumed.NextClaimKey()
		require.NoError(t, err)
		require.Equal(t, uint32(5), got.Index)
		require.Equal(t, want.Private.Serialize(), got.Private.Serialize())
	})

	t.Run("hardened index rejected", func(t *testing.T) {
		keys, err := NewHDKeys(testMnemonic, bip32.FirstHardenedChild)
		require.NoError(t, err)

		_, err = keys.NextClaimKey()
		require.Error(t, err)
		require.Equal(t, bip32.FirstHardenedChild, keys.NextIndex())
	})

	t.Run("invalid mnemonic", func(t *testing.T) {
		_, err := NewHDKeys("abandon abandon abandon", 0)
		require.Error(t, err)

		_, err = NewHDKeys("", 0)
		require.Error(t, err)
	})
}
