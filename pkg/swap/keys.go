package swap

import (
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// ClaimKey is the key a swap's funds are claimed with. Index and Derived
// tell where an HD key came from so it can be derived again.
type ClaimKey struct {
	Private *btcec.PrivateKey
	Index   uint32
	Derived bool
}

type KeySource interface {
	NextClaimKey() (ClaimKey, error)
}

// EphemeralKeys hands out a fresh random key per swap.
type EphemeralKeys struct{}

func (EphemeralKeys) NextClaimKey() (ClaimKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return ClaimKey{}, fmt.Errorf("failed to generate claim key: %w", err)
	}
	return ClaimKey{Private: key}, nil
}

// HDKeys derives claim keys at m/44'/0'/0'/0/i from a mnemonic.
type HDKeys struct {
	mu     sync.Mutex
	branch *bip32.Key
	next   uint32
}

func NewHDKeys(mnemonic string, nextIndex uint32) (*HDKeys, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	for _, i := range []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild,
		bip32.FirstHardenedChild,
		0,
	} {
		if key, err = key.NewChildKey(i); err != nil {
			return nil, err
		}
	}

	return &HDKeys{branch: key, next: nextIndex}, nil
}

func (h *HDKeys) NextClaimKey() (ClaimKey, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key, err := h.derive(h.next)
	if err != nil {
		return ClaimKey{}, err
	}
	h.next++
	return key, nil
}

// DeriveClaimKey returns the key at index without moving the cursor.
func (h *HDKeys) DeriveClaimKey(index uint32) (ClaimKey, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.derive(index)
}

func (h *HDKeys) NextIndex() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next
}

func (h *HDKeys) derive(index uint32) (ClaimKey, error) {
	if index >= bip32.FirstHardenedChild {
		return ClaimKey{}, fmt.Errorf("claim key index %d out of range", index)
	}
	child, err := h.branch.NewChildKey(index)
	if err != nil {
		return ClaimKey{}, fmt.Errorf("failed to derive claim key %d: %w", index, err)
	}
	priv, _ := btcec.PrivKeyFromBytes(child.Key)
	return ClaimKey{Private: priv, Index: index, Derived: true}, nil
}
