package boltz

import "encoding/json"

const (
	CurrencyBtc    Currency = "BTC"
	CurrencyLiquid Currency = "L-BTC"
)

type Currency string

type PairLimits struct {
	Minimal uint64 `json:"minimal"`
	Maximal uint64 `json:"maximal"`
}

type MinerFees struct {
	Lockup uint64 `json:"lockup"`
	Claim  uint64 `json:"claim"`
}

type PairFees struct {
	Percentage float64   `json:"percentage"`
	MinerFees  MinerFees `json:"minerFees"`
}

type ReversePair struct {
	Hash   string     `json:"hash"`
	Rate   float64    `json:"rate"`
	Limits PairLimits `json:"limits"`
	Fees   PairFees   `json:"fees"`
}

// ReversePairs maps from currency to destination currency.
type ReversePairs map[Currency]map[Currency]ReversePair

func (p ReversePairs) Find(from, to Currency) (ReversePair, bool) {
	dest, ok := p[from]
	if !ok {
		return ReversePair{}, false
	}
	pair, ok := dest[to]
	return pair, ok
}

type CreateReverseSwapRequest struct {
	Address        string   `json:"address,omitempty"`
	From           Currency `json:"from"`
	To             Currency `json:"to"`
	InvoiceAmount  uint64   `json:"invoiceAmount"`
	PreimageHash   string   `json:"preimageHash"`
	ClaimPublicKey string   `json:"claimPublicKey"`
	ClaimCovenant  bool     `json:"claimCovenant,omitempty"`
	Description    string   `json:"description,omitempty"`
	InvoiceExpiry  uint64   `json:"invoiceExpiry,omitempty"`
	PairHash       string   `json:"pairHash,omitempty"`
}

type SwapTreeLeaf struct {
	Version uint8  `json:"version"`
	Output  string `json:"output"`
}

type SwapTree struct {
	ClaimLeaf         SwapTreeLeaf  `json:"claimLeaf"`
	RefundLeaf        SwapTreeLeaf  `json:"refundLeaf"`
	CovenantClaimLeaf *SwapTreeLeaf `json:"covenantClaimLeaf,omitempty"`
}

// Serialize returns the JSON form handed to claiming backends.
func (t SwapTree) Serialize() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type CreateReverseSwapResponse struct {
	Id                 string   `json:"id"`
	Invoice            string   `json:"invoice"`
	LockupAddress      string   `json:"lockupAddress"`
	RefundPublicKey    string   `json:"refundPublicKey"`
	TimeoutBlockHeight uint32   `json:"timeoutBlockHeight"`
	OnchainAmount      uint64   `json:"onchainAmount"`
	BlindingKey        string   `json:"blindingKey,omitempty"`
	SwapTree           SwapTree `json:"swapTree"`

	Error string `json:"error"`
}

type BroadcastTransactionRequest struct {
	Hex string `json:"hex"`
}

type BroadcastTransactionResponse struct {
	Id string `json:"id"`

	Error string `json:"error"`
}
