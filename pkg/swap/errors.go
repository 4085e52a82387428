package swap

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUpstreamUnavailable = errors.New("swap service unavailable")
	// ErrMalformedResponse also matches ErrUpstreamUnavailable.
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", ErrUpstreamUnavailable)
	ErrSwapNotFound      = errors.New("swap not found")
	ErrInvoiceCancelled  = errors.New("invoice cancelled")
	ErrListenerDisposed  = errors.New("listener disposed")
	ErrClientClosed      = errors.New("client closed")
)

// TerminalFailureError reports a swap the service marked as failed, expired
// or refunded.
type TerminalFailureError struct {
	Invoice Invoice
	Status  string
	Reason  string
}

func (e *TerminalFailureError) Error() string {
	msg := fmt.Sprintf("swap %s failed with status %s", e.Invoice.SwapId, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// upstreamError classifies an error returned while talking to the swap
// service. Cancellation of the caller's context is passed through as is.
func upstreamError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, op, err)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
