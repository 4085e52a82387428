package types

type CreateInvoiceRequest struct {
	AmountSats  uint64 `json:"amountSats" binding:"required"`
	Description string `json:"description"`
	// Expiry of the invoice in seconds, 0 lets the swap service decide.
	Expiry uint32 `json:"expiry"`
}

type Invoice struct {
	SwapId         string `json:"swapId"`
	PaymentRequest string `json:"paymentRequest"`
	PaymentHash    string `json:"paymentHash"`
	AmountSats     uint64 `json:"amountSats"`
	AmountReceived uint64 `json:"amountReceived"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status"` // "unpaid", "paid" or "failed"
	CreatedAt      int64  `json:"createdAt"`
	ExpiresAt      int64  `json:"expiresAt"`

	// Preimage is only set once the invoice is paid
	Preimage string `json:"preimage,omitempty"`

	// Set when the swap failed
	FailureStatus string `json:"failureStatus,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
}

type Error struct {
	Error string `json:"error"`
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
